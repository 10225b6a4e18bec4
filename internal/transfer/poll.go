package transfer

import (
	"context"
	"fmt"
	"strings"

	"postcast/internal/cancel"
	"postcast/internal/gateway"
	"postcast/pkg/logx"
)

// PollStatus is one answer from a media processing status endpoint.
type PollStatus struct {
	Ready  bool
	Errors []string
}

// PollResult is returned once polling stops without a provider error.
// Warning is set when the media was still processing after the last attempt.
type PollResult struct {
	Ready    bool
	Attempts int
	Warning  string
}

// ProcessingError carries the provider's explicit error list.
type ProcessingError struct {
	Errors []string
}

func (e *ProcessingError) Error() string {
	return "media processing failed: " + strings.Join(e.Errors, "; ")
}

// Poll waits PollDelay before each of up to PollAttempts status checks.
// An explicit error list fails immediately; a media still unready after the
// last attempt is returned as best effort with a warning.
func (m *Manager) Poll(ctx context.Context, sess *gateway.Session, check func(ctx context.Context) (PollStatus, error)) (PollResult, error) {
	for attempt := 1; attempt <= m.cfg.PollAttempts; attempt++ {
		if err := m.clock.Sleep(ctx, m.cfg.PollDelay); err != nil {
			if cerr := cancel.Check(ctx); cerr != nil {
				return PollResult{}, cerr
			}
			return PollResult{}, err
		}
		st, err := gateway.Do(ctx, sess, "media.status", check)
		if err != nil {
			return PollResult{}, err
		}
		if len(st.Errors) > 0 {
			return PollResult{}, &ProcessingError{Errors: st.Errors}
		}
		if st.Ready {
			return PollResult{Ready: true, Attempts: attempt}, nil
		}
	}
	warn := fmt.Sprintf("media still processing after %d checks; posting anyway", m.cfg.PollAttempts)
	m.log.Warn("media poll exhausted", logx.Int("attempts", m.cfg.PollAttempts))
	return PollResult{Attempts: m.cfg.PollAttempts, Warning: warn}, nil
}
