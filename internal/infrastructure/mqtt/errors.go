package mqtt

import (
	"errors"
	"fmt"
)

// Sentinel errors. Broker failures arrive wrapped in *OpError.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS       = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrPayloadTooLarge  = errors.New("mqtt: payload too large")
	ErrNilHandler       = errors.New("mqtt: nil message handler")
	ErrTimeout          = errors.New("mqtt: broker did not answer in time")
)

// OpError reports a publish or subscribe that the broker did not accept.
type OpError struct {
	Op    string
	Topic string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("mqtt: %s %q: %v", e.Op, e.Topic, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
