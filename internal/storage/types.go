package storage

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")

	errEmptyID = errors.New("storage: record without id")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// redis
	Addr     string
	Password string
	DB       int
	Prefix   string

	// CompactEvery is the journal length that triggers a snapshot (file).
	CompactEvery int
}

// Record is one stored item. Kind is an indexed label callers filter on.
type Record struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind,omitempty"`
	Created time.Time       `json:"created"`
	Data    json.RawMessage `json:"data"`
}

func sortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Created.Equal(rs[j].Created) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Created.Before(rs[j].Created)
	})
}
