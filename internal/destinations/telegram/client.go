package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"postcast/internal/transfer"
)

// Channel is a postable chat. Value is the form options refer to it by.
type Channel struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash,omitempty"`
	Title      string `json:"title"`
}

func (c Channel) Value() string {
	if c.AccessHash == 0 {
		return strconv.FormatInt(c.ID, 10)
	}
	return strconv.FormatInt(c.ID, 10) + "/" + strconv.FormatInt(c.AccessHash, 10)
}

// ParseChannel accepts "id" or "id/access_hash".
func ParseChannel(v string) (Channel, error) {
	idPart, hashPart, hasHash := strings.Cut(strings.TrimSpace(v), "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Channel{}, fmt.Errorf("channel %q: %w", v, err)
	}
	c := Channel{ID: id}
	if hasHash {
		if c.AccessHash, err = strconv.ParseInt(hashPart, 10, 64); err != nil {
			return Channel{}, fmt.Errorf("channel %q: %w", v, err)
		}
	}
	return c, nil
}

// Media is one uploaded file to attach to a message.
type Media struct {
	File     transfer.FileHandle
	MimeType string
	Photo    bool
	Caption  string
}

// Client is the session-level protocol the adapter drives. Every method is
// one remote call and is issued through the gateway.
type Client interface {
	Me(ctx context.Context) (string, error)
	Channels(ctx context.Context) ([]Channel, error)
	SaveFilePart(ctx context.Context, p transfer.Part) error
	SendMedia(ctx context.Context, to Channel, m Media, silent bool) (int64, error)
	SendMessage(ctx context.Context, to Channel, text string, silent bool) (int64, error)
}

// Releaser is implemented by clients that hold uploaded files locally. The
// adapter releases every file it uploaded once the attempt ends.
type Releaser interface {
	Release(fileID int64)
}
