// Package tagconv rewrites submission tags per destination.
package tagconv

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"postcast/internal/submission"
)

// Converter maps one tag to a destination-specific replacement. An empty
// replacement drops the tag on that destination.
type Converter struct {
	Tag         string            `json:"tag" yaml:"tag" validate:"required"`
	Conversions map[string]string `json:"conversions" yaml:"conversions"`
}

func (c Converter) HasConversion(destination string) bool {
	_, ok := c.Conversions[strings.ToLower(destination)]
	return ok
}

// Set is the live converter table. Tags match case-insensitively.
type Set struct {
	mu    sync.RWMutex
	byTag map[string]Converter
}

func New(list []Converter) (*Set, error) {
	s := &Set{}
	if err := s.Replace(list); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the whole table; tags must be unique.
func (s *Set) Replace(list []Converter) error {
	next := make(map[string]Converter, len(list))
	for _, c := range list {
		key := strings.ToLower(strings.TrimSpace(c.Tag))
		if key == "" {
			return fmt.Errorf("tag converter: empty tag")
		}
		if _, dup := next[key]; dup {
			return fmt.Errorf("tag converter %q: tag must be unique", c.Tag)
		}
		conv := make(map[string]string, len(c.Conversions))
		for dest, repl := range c.Conversions {
			conv[strings.ToLower(dest)] = strings.TrimSpace(repl)
		}
		next[key] = Converter{Tag: c.Tag, Conversions: conv}
	}
	s.mu.Lock()
	s.byTag = next
	s.mu.Unlock()
	return nil
}

// ForDestination lists the converters with a conversion for destination,
// sorted by tag.
func (s *Set) ForDestination(destination string) []Converter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Converter
	for _, c := range s.byTag {
		if c.HasConversion(destination) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Convert applies the table to tags for destination, keeping order and
// dropping duplicates the conversion produces.
func (s *Set) Convert(destination string, tags []string) []string {
	if s == nil {
		return submission.UniqueTags(tags)
	}
	dest := strings.ToLower(destination)
	s.mu.RLock()
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		c, ok := s.byTag[strings.ToLower(strings.TrimSpace(t))]
		if !ok {
			out = append(out, t)
			continue
		}
		repl, ok := c.Conversions[dest]
		if !ok {
			out = append(out, t)
			continue
		}
		if repl != "" {
			out = append(out, repl)
		}
	}
	s.mu.RUnlock()
	return submission.UniqueTags(out)
}
