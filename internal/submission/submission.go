// Package submission holds the data model consumed by a posting attempt.
package submission

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Kind string

const (
	KindFile         Kind = "file"
	KindNotification Kind = "notification"
)

type Rating string

const (
	RatingGeneral Rating = "general"
	RatingMature  Rating = "mature"
	RatingAdult   Rating = "adult"
	RatingExtreme Rating = "extreme"
)

// File is a binary payload. Data is dropped by Stripped before a submission
// is written to the log.
type File struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Path     string `json:"path,omitempty"`
	Data     []byte `json:"data,omitempty"`

	// IgnoredAccounts lists account ids this file is not sent to.
	IgnoredAccounts []string `json:"ignored_accounts,omitempty"`
}

// Len is the payload size, falling back to the declared Size.
func (f File) Len() int64 {
	if len(f.Data) > 0 {
		return int64(len(f.Data))
	}
	return f.Size
}

// Ext returns the lowercased extension without the dot.
func (f File) Ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

func (f File) IgnoredBy(accountID string) bool {
	for _, id := range f.IgnoredAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

type Files struct {
	Primary    *File  `json:"primary,omitempty"`
	Thumbnail  *File  `json:"thumbnail,omitempty"`
	Fallback   *File  `json:"fallback,omitempty"`
	Additional []File `json:"additional,omitempty" validate:"dive"`
}

// Part is a per-target override. Options is decoded by the destination into
// its own options struct.
type Part struct {
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

type Submission struct {
	ID          string          `json:"id" validate:"required"`
	Kind        Kind            `json:"kind" validate:"required,oneof=file notification"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Rating      Rating          `json:"rating,omitempty" validate:"omitempty,oneof=general mature adult extreme"`
	Files       Files           `json:"files"`
	Parts       map[string]Part `json:"parts,omitempty"`
	Created     time.Time       `json:"created"`
}

func New(kind Kind, title string) *Submission {
	return &Submission{
		ID:      uuid.NewString(),
		Kind:    kind,
		Title:   title,
		Rating:  RatingGeneral,
		Created: time.Now().UTC(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural integrity. Destination rules are checked by the
// adapters, not here.
func (s *Submission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("submission: %w", err)
	}
	if s.Kind == KindFile && s.Files.Primary == nil {
		return fmt.Errorf("submission: file submission has no primary file")
	}
	if s.Files.Primary != nil {
		if err := validate.Struct(s.Files.Primary); err != nil {
			return fmt.Errorf("submission: primary: %w", err)
		}
	}
	return nil
}

// PartFor returns the override for t: exact target key first, then the bare
// destination id.
func (s *Submission) PartFor(t Target) Part {
	if p, ok := s.Parts[t.Key()]; ok {
		return p
	}
	if p, ok := s.Parts[t.Destination]; ok {
		return p
	}
	return Part{}
}

// FilesFor returns the primary file followed by every additional file the
// account does not ignore.
func (s *Submission) FilesFor(accountID string) []File {
	var out []File
	if s.Files.Primary != nil {
		out = append(out, *s.Files.Primary)
	}
	for _, f := range s.Files.Additional {
		if accountID != "" && f.IgnoredBy(accountID) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Stripped returns a deep copy with every binary payload removed.
func (s *Submission) Stripped() Submission {
	cp := *s
	cp.Tags = append([]string(nil), s.Tags...)
	cp.Files = Files{
		Primary:   stripFile(s.Files.Primary),
		Thumbnail: stripFile(s.Files.Thumbnail),
		Fallback:  stripFile(s.Files.Fallback),
	}
	if len(s.Files.Additional) > 0 {
		cp.Files.Additional = make([]File, len(s.Files.Additional))
		for i := range s.Files.Additional {
			cp.Files.Additional[i] = *stripFile(&s.Files.Additional[i])
		}
	}
	if s.Parts != nil {
		cp.Parts = make(map[string]Part, len(s.Parts))
		for k, p := range s.Parts {
			p.Tags = append([]string(nil), p.Tags...)
			cp.Parts[k] = p
		}
	}
	return cp
}

func stripFile(f *File) *File {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Size = f.Len()
	cp.Data = nil
	cp.IgnoredAccounts = append([]string(nil), f.IgnoredAccounts...)
	return &cp
}

// UniqueTags merges tag lists keeping first occurrence order. Blank tags are
// dropped.
func UniqueTags(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range lists {
		for _, t := range l {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Target selects one destination, optionally for one account.
type Target struct {
	Destination string `json:"destination" validate:"required"`
	Account     string `json:"account,omitempty"`
}

func (t Target) Key() string {
	if t.Account == "" {
		return t.Destination
	}
	return t.Destination + ":" + t.Account
}

func (t Target) String() string { return t.Key() }

// ParseTarget accepts "destination" or "destination:account".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("empty target")
	}
	dest, acct, _ := strings.Cut(s, ":")
	if dest == "" {
		return Target{}, fmt.Errorf("target %q: missing destination", s)
	}
	return Target{Destination: dest, Account: acct}, nil
}
