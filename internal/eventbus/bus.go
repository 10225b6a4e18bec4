// Package eventbus is the in-memory fan-out the poster publishes attempt
// events on. Publish never blocks; slow subscribers lose events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// TypeAttemptCompleted carries an AttemptCompleted for one destination.
	TypeAttemptCompleted = "attempt.completed"
	// TypeSubmissionLogged carries the log entry id after a post finished.
	TypeSubmissionLogged = "submission.logged"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// AttemptCompleted is the payload of TypeAttemptCompleted.
type AttemptCompleted struct {
	SubmissionID string `json:"submission_id"`
	Target       string `json:"target"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered subscriber. With types set only those
	// event types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]bool
}

func (s *sub) wants(t string) bool { return len(s.types) == 0 || s.types[t] }

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// a concurrent unsubscribe may close the channel under us
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
