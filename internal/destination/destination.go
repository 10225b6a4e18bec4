// Package destination defines the adapter contract every destination
// implements, the registry that selects adapters by id, and the helpers
// adapters share for option decoding and capacity splitting.
package destination

import (
	"context"
	"time"

	"postcast/internal/account"
	"postcast/internal/richtext"
	"postcast/internal/submission"
)

// UsernameShortcut expands {Key:name} into a link; URL holds "$1" where the
// name goes.
type UsernameShortcut struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type Metadata struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`

	AcceptedExtensions     []string `json:"accepted_extensions"`
	AcceptsAdditionalFiles bool     `json:"accepts_additional_files"`
	// MaxAdditionalFiles is 0 when unbounded.
	MaxAdditionalFiles int `json:"max_additional_files,omitempty"`

	Advertisement bool               `json:"advertisement"`
	Formatter     richtext.Formatter `json:"formatter"`
	MinInterval   time.Duration      `json:"min_interval"`

	UsernameShortcuts []UsernameShortcut `json:"username_shortcuts,omitempty"`
}

func (m Metadata) Accepts(f submission.File) bool {
	ext := f.Ext()
	for _, e := range m.AcceptedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

type LoginStatus struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

// Check is the input of a validation pass. Description is the rendered text
// for this destination.
type Check struct {
	Submission  *submission.Submission
	Part        submission.Part
	Description string
	Tags        []string
}

// ComposedData is the transport-neutral payload of one attempt.
type ComposedData struct {
	Target      submission.Target
	Kind        submission.Kind
	Title       string
	Description string
	Tags        []string
	Rating      submission.Rating
	Primary     *submission.File
	Thumbnail   *submission.File
	Additional  []submission.File
	Options     map[string]any
}

// Files returns the primary file followed by the additional files.
func (c ComposedData) Files() []submission.File {
	var out []submission.File
	if c.Primary != nil {
		out = append(out, *c.Primary)
	}
	return append(out, c.Additional...)
}

// Result is what a successful post reports back.
type Result struct {
	ID       string   `json:"id,omitempty"`
	URL      string   `json:"url,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Adapter interface {
	Metadata() Metadata
	CheckLoginStatus(ctx context.Context, acct account.Account) (LoginStatus, error)
	// ValidateFile and ValidateNotification never fail: every rule violation
	// lands in the returned Validation.
	ValidateFile(ctx context.Context, acct account.Account, c Check) Validation
	ValidateNotification(ctx context.Context, acct account.Account, c Check) Validation
	PostFile(ctx context.Context, acct account.Account, data ComposedData) (Result, error)
	PostNotification(ctx context.Context, acct account.Account, data ComposedData) (Result, error)
}

// PreFormatter rewrites the normalized description before the default
// formatter runs.
type PreFormatter interface {
	PreFormat(description string, kind submission.Kind) string
}

// PostFormatter rewrites the formatted description as the last render step.
type PostFormatter interface {
	PostFormat(description string, kind submission.Kind) string
}
