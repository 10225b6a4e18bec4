// Package cancel provides the cooperative cancellation token shared by every
// step of one destination attempt.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled matches every *Error via errors.Is.
var ErrCancelled = errors.New("cancelled")

// Error is returned by operations that stopped because their token was set.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	if e == nil || e.Reason == "" {
		return "cancelled"
	}
	return "cancelled: " + e.Reason
}

func (e *Error) Is(target error) bool { return target == ErrCancelled }

// Token is a one-way flag. Once cancelled it stays cancelled; the first
// reason wins.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
	done      chan struct{}
}

func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the token. It reports whether this call flipped it.
func (t *Token) Cancel(reason string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	t.reason = reason
	close(t.done)
	return true
}

func (t *Token) IsCancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Token) Reason() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done is closed when the token is cancelled. A nil token never fires.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Err returns *Error once cancelled, nil otherwise.
func (t *Token) Err() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		return nil
	}
	return &Error{Reason: t.reason}
}

type ctxKey struct{}

// NewContext returns a child of ctx that carries tok and is cancelled when
// tok is. The returned stop func releases the watcher.
func NewContext(ctx context.Context, tok *Token) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, ctxKey{}, tok)
	ctx, cancelCtx := context.WithCancelCause(ctx)
	if tok == nil {
		return ctx, func() { cancelCtx(nil) }
	}
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-tok.Done():
			cancelCtx(tok.Err())
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		once.Do(func() { close(stop) })
		cancelCtx(nil)
	}
}

// FromContext returns the token carried by ctx, or nil.
func FromContext(ctx context.Context) *Token {
	if ctx == nil {
		return nil
	}
	tok, _ := ctx.Value(ctxKey{}).(*Token)
	return tok
}

// Check returns the cancellation error for ctx: the carried token first,
// then the context itself.
func Check(ctx context.Context) error {
	if err := FromContext(ctx).Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrCancelled) {
			return cause
		}
		return &Error{Reason: err.Error()}
	}
	return nil
}
