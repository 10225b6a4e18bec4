package destination

import (
	"errors"
	"fmt"
)

var ErrUnknownDestination = errors.New("unknown destination")

// ProviderError is a business-level rejection. It is never retried.
type ProviderError struct {
	Destination string
	Message     string
	// Payload is the raw provider response, kept for diagnostics.
	Payload any
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Destination == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Destination, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Reject builds a ProviderError.
func Reject(dest, msg string, payload any) error {
	return &ProviderError{Destination: dest, Message: msg, Payload: payload}
}
