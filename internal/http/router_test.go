package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/timelogger/internal/domain"
	"github.com/splax/timelogger/internal/service/recorder"
	jwtpkg "github.com/splax/timelogger/pkg/jwt"
)

const (
	testAPISecret = "api-secret"
	testJWTSecret = "jwt-secret"
)

type timeRepoStub struct {
	mu       sync.Mutex
	records  []domain.TimeRecord
	count    int64
	countErr error
	listErr  error
}

func (s *timeRepoStub) InsertTimeRecords(ctx context.Context, recordedAt []time.Time) error {
	return nil
}

func (s *timeRepoStub) CountTimeRecords(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.count, nil
}

func (s *timeRepoStub) ListTimeRecords(ctx context.Context, page, size int) ([]domain.TimeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, false, s.listErr
	}
	start := page * size
	if start >= len(s.records) {
		return nil, false, nil
	}
	end := start + size
	hasNext := end < len(s.records)
	if end > len(s.records) {
		end = len(s.records)
	}
	return append([]domain.TimeRecord(nil), s.records[start:end]...), hasNext, nil
}

func newTestRouter(t *testing.T, repo *timeRepoStub) *Router {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := recorder.New(repo, nil, nil, log, recorder.Config{MaxBufferSize: 100, BatchSize: 10})
	router := NewRouter(log, svc, NewMemoryRateLimiter(), prometheus.NewRegistry(), testAPISecret, testJWTSecret, time.Hour, nil)
	t.Cleanup(router.Close)
	return router
}

func bearerHeader(t *testing.T) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken("api-client", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func TestTokenIssuedForValidSecret(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{})

	body := bytes.NewBufferString(`{"secret":"` + testAPISecret + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected a token in the response")
	}
	claims, err := jwtpkg.Parse(payload.Token, testJWTSecret)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.ClientID != "api-client" {
		t.Fatalf("unexpected client id %q", claims.ClientID)
	}
}

func TestTokenRejectedForWrongSecret(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{})

	body := bytes.NewBufferString(`{"secret":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTimesRequiresAuth(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{})

	req := httptest.NewRequest(http.MethodGet, "/times", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTimesReturnsPaginatedSlice(t *testing.T) {
	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	repo := &timeRepoStub{}
	for i := 0; i < 3; i++ {
		repo.records = append(repo.records, domain.TimeRecord{
			ID:         int64(i + 1),
			RecordedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/times?page=0&size=2", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Content []struct {
			ID         int64  `json:"id"`
			RecordedAt string `json:"recorded_at"`
		} `json:"content"`
		Page             int  `json:"page"`
		Size             int  `json:"size"`
		NumberOfElements int  `json:"numberOfElements"`
		First            bool `json:"first"`
		Last             bool `json:"last"`
		HasNext          bool `json:"hasNext"`
		HasPrevious      bool `json:"hasPrevious"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Content) != 2 || payload.NumberOfElements != 2 {
		t.Fatalf("expected 2 elements, got %d", len(payload.Content))
	}
	if !payload.HasNext || payload.Last || !payload.First || payload.HasPrevious {
		t.Fatalf("unexpected pagination flags: %+v", payload)
	}
	if payload.Content[0].RecordedAt != base.UTC().Format(time.RFC3339Nano) {
		t.Fatalf("unexpected recorded_at %q", payload.Content[0].RecordedAt)
	}
}

func TestTimesCount(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{count: 17})

	req := httptest.NewRequest(http.MethodGet, "/times/count", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 17 {
		t.Fatalf("expected count 17, got %d", payload.Count)
	}
}

func TestStoreFailureMapsToServiceUnavailable(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{listErr: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/times", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "DB_UNAVAILABLE" {
		t.Fatalf("expected DB_UNAVAILABLE, got %q", payload.Code)
	}
	if payload.Timestamp == "" {
		t.Fatalf("expected a timestamp in the error body")
	}
}

func TestStatusEndpointIsOpenAndDegrades(t *testing.T) {
	repo := &timeRepoStub{count: 5}
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshot domain.StatusSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snapshot.TotalRecords != 5 || !snapshot.DBAvailable {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	repo.mu.Lock()
	repo.countErr = errors.New("down")
	repo.mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status must not fail on a degraded count, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snapshot.TotalRecords != -1 || snapshot.DBAvailable {
		t.Fatalf("expected degraded snapshot, got %+v", snapshot)
	}
}

func TestTimesMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/times", nil)
	req.Header.Set("Authorization", bearerHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRateLimitHeadersApplied(t *testing.T) {
	router := newTestRouter(t, &timeRepoStub{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers on limited route")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id header")
	}
}
