package telegram

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"postcast/internal/transfer"
)

// BotClient bridges Client onto the Bot API. The Bot API has no part
// upload, so parts are assembled locally and sent whole with the media.
// Assembled files stay until Release so a retried or repeated send can
// reuse them.
type BotClient struct {
	bot      *tele.Bot
	channels []int64

	mu      sync.Mutex
	uploads map[int64]*upload
}

type upload struct {
	buf bytes.Buffer
	// remote is the Bot API file_id once the file reached Telegram.
	remote string
}

func NewBotClient(token string, channels []int64) (*BotClient, error) {
	return newBotClient(tele.Settings{Token: token}, channels)
}

func newBotClient(pref tele.Settings, channels []int64) (*BotClient, error) {
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}
	return &BotClient{bot: b, channels: channels, uploads: map[int64]*upload{}}, nil
}

func (c *BotClient) Me(context.Context) (string, error) {
	if c.bot.Me == nil {
		return "", errors.New("telegram: bot identity unknown")
	}
	return c.bot.Me.Username, nil
}

// Channels resolves the configured chat ids; the Bot API cannot list them.
func (c *BotClient) Channels(ctx context.Context) ([]Channel, error) {
	out := make([]Channel, 0, len(c.channels))
	for _, id := range c.channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chat, err := c.bot.ChatByID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Channel{ID: chat.ID, Title: chat.Title})
	}
	return out, nil
}

func (c *BotClient) SaveFilePart(_ context.Context, p transfer.Part) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.uploads[p.FileID]
	if !ok {
		if p.Index != 0 {
			return errors.New("telegram: FILE_PART_0_MISSING")
		}
		u = &upload{}
		c.uploads[p.FileID] = u
	}
	u.buf.Write(p.Bytes)
	return nil
}

// Release drops an assembled file. Unknown ids are ignored.
func (c *BotClient) Release(fileID int64) {
	c.mu.Lock()
	delete(c.uploads, fileID)
	c.mu.Unlock()
}

// source returns what to send for id: the remote file_id when an earlier
// send stored one, else a fresh reader over the assembled bytes.
func (c *BotClient) source(id int64) (tele.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.uploads[id]
	if !ok {
		return tele.File{}, errors.New("telegram: FILE_PARTS_INVALID")
	}
	if u.remote != "" {
		return tele.File{FileID: u.remote}, nil
	}
	return tele.FromReader(bytes.NewReader(u.buf.Bytes())), nil
}

func (c *BotClient) remember(id int64, remote string) {
	if remote == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.uploads[id]; ok {
		u.remote = remote
	}
}

func (c *BotClient) SendMedia(_ context.Context, to Channel, m Media, silent bool) (int64, error) {
	file, err := c.source(m.File.ID)
	if err != nil {
		return 0, err
	}
	var what any
	if m.Photo {
		what = &tele.Photo{File: file, Caption: m.Caption}
	} else {
		what = &tele.Document{File: file, FileName: m.File.Name, MIME: m.MimeType, Caption: m.Caption}
	}
	msg, err := c.bot.Send(&tele.Chat{ID: to.ID}, what, &tele.SendOptions{DisableNotification: silent})
	if err != nil {
		return 0, err
	}
	switch {
	case msg.Photo != nil:
		c.remember(m.File.ID, msg.Photo.FileID)
	case msg.Document != nil:
		c.remember(m.File.ID, msg.Document.FileID)
	}
	return int64(msg.ID), nil
}

func (c *BotClient) SendMessage(_ context.Context, to Channel, text string, silent bool) (int64, error) {
	msg, err := c.bot.Send(&tele.Chat{ID: to.ID}, text, &tele.SendOptions{DisableNotification: silent})
	if err != nil {
		return 0, err
	}
	return int64(msg.ID), nil
}

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// ClassifyBotFlood recognises Bot API flood control replies.
func ClassifyBotFlood(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return time.Duration(fe.RetryAfter) * time.Second, true
	}
	if m := retryAfterRe.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
