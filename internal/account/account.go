// Package account supplies per-destination credentials and the keyed info
// cache adapters fill at login check and read while validating or posting.
package account

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

type Account struct {
	ID          string         `json:"id"`
	Destination string         `json:"destination"`
	Alias       string         `json:"alias,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Decode copies Data into a typed credentials struct. Keys match the json
// tags of out.
func (a Account) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(a.Data); err != nil {
		return fmt.Errorf("account %s: decode credentials: %w", a.ID, err)
	}
	return nil
}

// Directory resolves accounts by id.
type Directory interface {
	Get(id string) (Account, bool)
	List(destination string) []Account
}

// StaticDirectory is an in-memory Directory, replaced wholesale on config
// reload.
type StaticDirectory struct {
	mu   sync.RWMutex
	byID map[string]Account
}

func NewStaticDirectory(accts []Account) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(accts)
	return d
}

func (d *StaticDirectory) Replace(accts []Account) {
	m := make(map[string]Account, len(accts))
	for _, a := range accts {
		m[a.ID] = a
	}
	d.mu.Lock()
	d.byID = m
	d.mu.Unlock()
}

func (d *StaticDirectory) Get(id string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	return a, ok
}

// List returns accounts of destination ordered by id; an empty destination
// lists everything.
func (d *StaticDirectory) List(destination string) []Account {
	d.mu.RLock()
	out := make([]Account, 0, len(d.byID))
	for _, a := range d.byID {
		if destination == "" || a.Destination == destination {
			out = append(out, a)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
