// Package logstore keeps a bounded record of past posting attempts.
package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/internal/storage"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

const DefaultCapacity = 30

var ErrNotFound = errors.New("log entry not found")

// Entry is one submission attempt. Submission never carries file payloads.
type Entry struct {
	ID         string                `json:"id"`
	Submission submission.Submission `json:"submission"`
	Results    []destination.Outcome `json:"results"`
	Version    string                `json:"version"`
	Created    time.Time             `json:"created"`
}

type Option func(*Store)

func WithCapacity(n int) Option       { return func(s *Store) { s.capacity = n } }
func WithClock(c clock.Clock) Option  { return func(s *Store) { s.clock = c } }
func WithVersion(v string) Option     { return func(s *Store) { s.version = v } }
func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = l } }

type Store struct {
	mu       sync.Mutex
	st       storage.Store
	capacity int
	clock    clock.Clock
	version  string
	log      logx.Logger
}

func New(st storage.Store, opts ...Option) *Store {
	s := &Store{st: st, capacity: DefaultCapacity, clock: clock.Real{}}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.capacity <= 0 {
		s.capacity = DefaultCapacity
	}
	s.log = s.log.With(logx.String("comp", "logstore"))
	return s
}

func (s *Store) Capacity() int { return s.capacity }

// Append strips payloads, stores e and evicts the oldest entries beyond
// capacity. Missing id, version and creation time are filled in.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	e.Submission = e.Submission.Stripped()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Version == "" {
		e.Version = s.version
	}
	if e.Created.IsZero() {
		e.Created = s.clock.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode log entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.st.Put(ctx, storage.Record{ID: e.ID, Kind: string(e.Submission.Kind), Created: e.Created, Data: data}); err != nil {
		return Entry{}, fmt.Errorf("store log entry: %w", err)
	}
	if err := s.evictLocked(ctx); err != nil {
		return e, err
	}
	return e, nil
}

func (s *Store) evictLocked(ctx context.Context) error {
	recs, err := s.st.List(ctx)
	if err != nil {
		return err
	}
	over := len(recs) - s.capacity
	if over <= 0 {
		return nil
	}
	ids := make([]string, 0, over)
	for _, r := range recs[:over] {
		ids = append(ids, r.ID)
	}
	if _, err := s.st.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("evict log entries: %w", err)
	}
	s.log.Debug("evicted log entries", logx.Int("count", len(ids)))
	return nil
}

// Query returns entries newest first. An empty kind returns every entry.
func (s *Store) Query(ctx context.Context, kind submission.Kind) ([]Entry, error) {
	recs, err := s.st.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		if kind != "" && r.Kind != string(kind) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(r.Data, &e); err != nil {
			s.log.Warn("skipping undecodable log entry", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	r, err := s.st.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.st.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMany deletes ids and reports how many existed.
func (s *Store) RemoveMany(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Delete(ctx, ids...)
}
