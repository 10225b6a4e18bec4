// Package gateway serializes and paces outbound calls per account session and
// applies the flood-wait backoff policy.
package gateway

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postcast/internal/clock"
	"postcast/pkg/logx"
)

const (
	DefaultMinInterval  = time.Second
	DefaultMaxFloodWait = 60 * time.Second
	floodWaitPadding    = time.Second
)

type Config struct {
	MinInterval  time.Duration
	MaxFloodWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MaxFloodWait <= 0 {
		c.MaxFloodWait = DefaultMaxFloodWait
	}
	return c
}

// Observer receives per-call telemetry. Implementations must be cheap.
type Observer interface {
	ObserveCall(session, op string, d time.Duration, err error)
	ObserveFloodWait(session string, wait time.Duration, retried bool)
}

type Option func(*Gateway)

func WithClock(c clock.Clock) Option { return func(g *Gateway) { g.clock = c } }

func WithLogger(l logx.Logger) Option { return func(g *Gateway) { g.log = l } }

func WithObserver(o Observer) Option { return func(g *Gateway) { g.obs = o } }

// WithClassifier adds a flood-wait classifier, tried after the built-in one.
func WithClassifier(c Classifier) Option {
	return func(g *Gateway) {
		if c != nil {
			g.classifiers = append(g.classifiers, c)
		}
	}
}

type Gateway struct {
	cfg         Config
	clock       clock.Clock
	log         logx.Logger
	obs         Observer
	classifiers []Classifier

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:         cfg.withDefaults(),
		clock:       clock.Real{},
		classifiers: []Classifier{ClassifyFloodWait},
		sessions:    map[string]*Session{},
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	g.log = g.log.With(logx.String("comp", "gateway"))
	return g
}

// AddClassifier registers a classifier after construction. Adapters use it
// to teach the gateway their transport's backpressure errors.
func (g *Gateway) AddClassifier(c Classifier) {
	if c == nil {
		return
	}
	g.mu.Lock()
	g.classifiers = append(g.classifiers, c)
	g.mu.Unlock()
}

// Session returns the session for id, creating it on first use. minInterval
// <= 0 uses the gateway default. The interval of an existing session is kept.
func (g *Gateway) Session(id string, minInterval time.Duration) *Session {
	id = strings.TrimSpace(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[id]; ok {
		return s
	}
	if minInterval <= 0 {
		minInterval = g.cfg.MinInterval
	}
	s := &Session{
		id:       id,
		g:        g,
		interval: minInterval,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		slot:     make(chan struct{}, 1),
	}
	g.sessions[id] = s
	return s
}

func (g *Gateway) classify(err error) (time.Duration, bool) {
	g.mu.Lock()
	cs := g.classifiers
	g.mu.Unlock()
	for _, c := range cs {
		if w, ok := c(err); ok {
			return w, true
		}
	}
	return 0, false
}

// SessionStats is a point-in-time view of one session.
type SessionStats struct {
	ID          string        `json:"id"`
	MinInterval time.Duration `json:"min_interval"`
	Calls       uint64        `json:"calls"`
	Retries     uint64        `json:"retries"`
	Failures    uint64        `json:"failures"`
	LastCall    time.Time     `json:"last_call"`
}

func (g *Gateway) Snapshot() []SessionStats {
	g.mu.Lock()
	ss := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		ss = append(ss, s)
	}
	g.mu.Unlock()

	out := make([]SessionStats, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.stats())
	}
	return out
}
