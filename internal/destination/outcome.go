package destination

import (
	"errors"
	"time"

	"postcast/internal/cancel"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome is the recorded result of one destination attempt.
type Outcome struct {
	Destination string    `json:"destination"`
	Account     string    `json:"account,omitempty"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Diagnostic  any       `json:"diagnostic,omitempty"`
	Problems    []string  `json:"problems,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
}

// OutcomeFromError classifies err into a Failed or Cancelled outcome.
func OutcomeFromError(o Outcome, err error) Outcome {
	if errors.Is(err, cancel.ErrCancelled) {
		o.Status = StatusCancelled
		o.Reason = err.Error()
		return o
	}
	o.Status = StatusFailed
	o.Reason = err.Error()
	var pe *ProviderError
	if errors.As(err, &pe) {
		o.Reason = pe.Error()
		o.Diagnostic = pe.Payload
	}
	return o
}
