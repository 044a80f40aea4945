package influxdb

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrWriteFailed      = errors.New("influxdb: write failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)

// WriteError is a batch the server refused. Writes are asynchronous, so
// these only reach Options.OnError.
type WriteError struct {
	Bucket string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("influxdb: write to bucket %q: %v", e.Bucket, e.Err)
}

// Unwrap matches both ErrWriteFailed and the server error.
func (e *WriteError) Unwrap() []error { return []error{ErrWriteFailed, e.Err} }
