package repository

import "errors"

// ErrUnavailable indicates the store rejected or could not serve an operation.
var ErrUnavailable = errors.New("repository: store unavailable")
