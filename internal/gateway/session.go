package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postcast/internal/cancel"
	"postcast/pkg/logx"
)

// Session is the call lane of one account session. Calls on a session run
// one at a time, spaced by its minimum interval.
type Session struct {
	id       string
	g        *Gateway
	interval time.Duration
	limiter  *rate.Limiter
	slot     chan struct{}

	mu       sync.Mutex
	lastCall time.Time
	calls    uint64
	retries  uint64
	failures uint64
}

func (s *Session) ID() string { return s.id }

// Call issues fn under the session's pacing and flood-wait policy. A flood
// wait above the configured maximum, a second flood wait, and every other
// error are returned unchanged.
func (s *Session) Call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.slot }()

	err := s.issue(ctx, op, fn)
	if err == nil {
		return nil
	}
	wait, ok := s.g.classify(err)
	if !ok {
		s.fail()
		return err
	}
	if wait > s.g.cfg.MaxFloodWait {
		s.g.log.Warn("flood wait above limit",
			logx.String("session", s.id), logx.String("op", op), logx.Duration("wait", wait))
		s.observeFlood(wait, false)
		s.fail()
		return err
	}
	s.observeFlood(wait, true)
	s.g.log.Info("flood wait, retrying once",
		logx.String("session", s.id), logx.String("op", op), logx.Duration("wait", wait))

	if serr := s.g.clock.Sleep(ctx, wait+floodWaitPadding); serr != nil {
		return cancelled(ctx, serr)
	}
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()

	if err := s.issue(ctx, op, fn); err != nil {
		s.fail()
		return err
	}
	return nil
}

// Do is Call for operations that return a value.
func Do[T any](ctx context.Context, s *Session, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.Call(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (s *Session) acquire(ctx context.Context) error {
	if err := cancel.Check(ctx); err != nil {
		return err
	}
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return cancelled(ctx, ctx.Err())
	}
}

// issue waits out the spacing, re-checks the token and runs fn once.
func (s *Session) issue(ctx context.Context, op string, fn func(context.Context) error) error {
	now := s.g.clock.Now()
	r := s.limiter.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		if err := s.g.clock.Sleep(ctx, d); err != nil {
			r.CancelAt(s.g.clock.Now())
			return cancelled(ctx, err)
		}
	}
	if err := cancel.Check(ctx); err != nil {
		return err
	}

	start := s.g.clock.Now()
	s.mu.Lock()
	s.lastCall = start
	s.calls++
	s.mu.Unlock()

	err := fn(ctx)
	if s.g.obs != nil {
		s.g.obs.ObserveCall(s.id, op, s.g.clock.Now().Sub(start), err)
	}
	return err
}

func (s *Session) fail() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func (s *Session) observeFlood(wait time.Duration, retried bool) {
	if s.g.obs != nil {
		s.g.obs.ObserveFloodWait(s.id, wait, retried)
	}
}

func (s *Session) stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		ID:          s.id,
		MinInterval: s.interval,
		Calls:       s.calls,
		Retries:     s.retries,
		Failures:    s.failures,
		LastCall:    s.lastCall,
	}
}

// cancelled maps a wake-up error onto the attempt's cancellation error.
func cancelled(ctx context.Context, err error) error {
	if cerr := cancel.Check(ctx); cerr != nil {
		return cerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &cancel.Error{Reason: err.Error()}
	}
	return err
}
