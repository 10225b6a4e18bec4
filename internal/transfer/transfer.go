// Package transfer splits payloads into parts and drives them through a
// gateway session, and polls providers that process media asynchronously.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"postcast/internal/cancel"
	"postcast/internal/clock"
	"postcast/internal/gateway"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

const (
	DefaultPartSize         = 512000
	DefaultBigFileThreshold = 10 * 1024 * 1024
	DefaultPartDelay        = 250 * time.Millisecond
	DefaultPollAttempts     = 10
	DefaultPollDelay        = 4 * time.Second
)

var ErrEmptyFile = errors.New("transfer: empty file")

type Config struct {
	PartSize         int
	BigFileThreshold int64
	PartDelay        time.Duration
	PollAttempts     int
	PollDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PartSize <= 0 {
		c.PartSize = DefaultPartSize
	}
	if c.BigFileThreshold <= 0 {
		c.BigFileThreshold = DefaultBigFileThreshold
	}
	if c.PartDelay < 0 {
		c.PartDelay = 0
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = DefaultPollAttempts
	}
	if c.PollDelay <= 0 {
		c.PollDelay = DefaultPollDelay
	}
	return c
}

// DefaultConfig is the stock part size, threshold, pacing and poll policy.
func DefaultConfig() Config {
	return Config{PartDelay: DefaultPartDelay}.withDefaults()
}

// Part is one slice of a file. Big parts must be completed with the total
// part count; small parts are completed by the final send.
type Part struct {
	FileID int64
	Index  int
	Total  int
	Big    bool
	Bytes  []byte
}

type PartSender interface {
	SendPart(ctx context.Context, p Part) error
}

type PartSenderFunc func(ctx context.Context, p Part) error

func (f PartSenderFunc) SendPart(ctx context.Context, p Part) error { return f(ctx, p) }

// FileHandle references an uploaded file on the provider side.
type FileHandle struct {
	ID    int64
	Parts int
	Name  string
	Size  int64
	Big   bool
}

// Observer receives upload telemetry.
type Observer interface {
	ObservePart(destination string, bytes int)
	ObserveUpload(destination string, big bool, err error)
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option     { return func(m *Manager) { m.clock = c } }
func WithLogger(l logx.Logger) Option    { return func(m *Manager) { m.log = l } }
func WithObserver(o Observer) Option     { return func(m *Manager) { m.obs = o } }
func WithIDSource(f func() int64) Option { return func(m *Manager) { m.newID = f } }

type Manager struct {
	cfg   Config
	clock clock.Clock
	log   logx.Logger
	obs   Observer
	newID func() int64
}

func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.withDefaults(),
		clock: clock.Real{},
		newID: func() int64 { return rand.Int64N(1<<62) + 1 },
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	m.log = m.log.With(logx.String("comp", "transfer"))
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// IsBig reports whether size selects the big-file protocol.
func (m *Manager) IsBig(size int64) bool { return size >= m.cfg.BigFileThreshold }

// PartCount is the number of parts size splits into.
func (m *Manager) PartCount(size int64) int {
	ps := int64(m.cfg.PartSize)
	return int((size + ps - 1) / ps)
}

// Upload sends f part by part through sess. The token carried by ctx is
// checked before every part; once set no further part is sent.
func (m *Manager) Upload(ctx context.Context, sess *gateway.Session, f submission.File, sender PartSender) (FileHandle, error) {
	size := int64(len(f.Data))
	if size == 0 {
		return FileHandle{}, ErrEmptyFile
	}
	h := FileHandle{
		ID:    m.newID(),
		Parts: m.PartCount(size),
		Name:  f.Name,
		Size:  size,
		Big:   m.IsBig(size),
	}
	dest := sessionDestination(sess)

	m.log.Debug("upload start",
		logx.String("file", f.Name), logx.Int64("size", size),
		logx.Int("parts", h.Parts), logx.Bool("big", h.Big))

	err := m.sendParts(ctx, sess, h, f.Data, sender)
	if m.obs != nil {
		m.obs.ObserveUpload(dest, h.Big, err)
	}
	if err != nil {
		return FileHandle{}, err
	}
	return h, nil
}

func (m *Manager) sendParts(ctx context.Context, sess *gateway.Session, h FileHandle, data []byte, sender PartSender) error {
	ps := m.cfg.PartSize
	for i := 0; i < h.Parts; i++ {
		if i > 0 && m.cfg.PartDelay > 0 {
			if err := m.clock.Sleep(ctx, m.cfg.PartDelay); err != nil {
				if cerr := cancel.Check(ctx); cerr != nil {
					return cerr
				}
				return err
			}
		}
		if err := cancel.Check(ctx); err != nil {
			m.log.Info("upload cancelled", logx.String("file", h.Name), logx.Int("sent", i), logx.Int("parts", h.Parts))
			return err
		}
		end := (i + 1) * ps
		if end > len(data) {
			end = len(data)
		}
		p := Part{FileID: h.ID, Index: i, Total: h.Parts, Big: h.Big, Bytes: data[i*ps : end]}
		if err := sess.Call(ctx, "upload.part", func(ctx context.Context) error {
			return sender.SendPart(ctx, p)
		}); err != nil {
			return fmt.Errorf("upload %s part %d/%d: %w", h.Name, i+1, h.Parts, err)
		}
		if m.obs != nil {
			m.obs.ObservePart(sessionDestination(sess), len(p.Bytes))
		}
	}
	return nil
}

func sessionDestination(s *gateway.Session) string {
	if s == nil {
		return ""
	}
	d, _, _ := strings.Cut(s.ID(), ":")
	return d
}
