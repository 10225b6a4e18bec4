// Package settings holds the hot-reloadable runtime switches and shortcut
// list read by the description engine and the adapters.
package settings

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"

	"postcast/internal/describe"
)

const (
	Advertise   = describe.SettingAdvertise
	PostRetries = "post_retries"
)

type snapshot struct {
	values    map[string]any
	shortcuts []describe.Shortcut
}

// Store is safe for concurrent readers; Replace swaps the whole snapshot.
type Store struct {
	cur atomic.Pointer[snapshot]
}

func New(values map[string]any, shortcuts []describe.Shortcut) *Store {
	s := &Store{}
	s.Replace(values, shortcuts)
	return s
}

func (s *Store) Replace(values map[string]any, shortcuts []describe.Shortcut) {
	v := make(map[string]any, len(values))
	for k, val := range values {
		v[strings.ToLower(strings.TrimSpace(k))] = val
	}
	s.cur.Store(&snapshot{values: v, shortcuts: append([]describe.Shortcut(nil), shortcuts...)})
}

func (s *Store) load() *snapshot {
	if s == nil {
		return &snapshot{}
	}
	if p := s.cur.Load(); p != nil {
		return p
	}
	return &snapshot{}
}

// Value returns the raw value for key, or nil.
func (s *Store) Value(key string) any {
	return s.load().values[strings.ToLower(strings.TrimSpace(key))]
}

// Bool accepts true/false, "yes"-style strings and numbers.
func (s *Store) Bool(key string) bool {
	v := s.Value(key)
	if str, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(str)) {
		case "yes", "on", "y":
			return true
		case "no", "off", "n":
			return false
		}
	}
	return cast.ToBool(v)
}

func (s *Store) Int(key string, def int) int {
	v := s.Value(key)
	if v == nil {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) String(key string) string { return cast.ToString(s.Value(key)) }

// Duration reads Go duration strings or plain numbers (nanoseconds, as cast does).
func (s *Store) Duration(key string, def time.Duration) time.Duration {
	v := s.Value(key)
	if v == nil {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

func (s *Store) Shortcuts() []describe.Shortcut {
	return s.load().shortcuts
}

var (
	_ describe.Settings       = (*Store)(nil)
	_ describe.ShortcutSource = (*Store)(nil)
)
