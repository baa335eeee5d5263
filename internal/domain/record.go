package domain

import "time"

// TimeRecord is a captured instant persisted to the store. ID is assigned by
// the database on insert; records still waiting in the buffer have no ID.
type TimeRecord struct {
	ID         int64
	RecordedAt time.Time
}

// StatusSnapshot is a point-in-time view of the ingestion subsystem.
// TotalRecords is -1 when the store count could not be read.
type StatusSnapshot struct {
	BufferSize     int   `json:"bufferSize"`
	MaxBufferSize  int   `json:"maxBufferSize"`
	DBAvailable    bool  `json:"dbAvailable"`
	TotalRecords   int64 `json:"totalRecords"`
	DroppedRecords int64 `json:"droppedRecords"`
}
