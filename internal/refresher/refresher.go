// Package refresher re-checks account login status on a cron schedule so
// cached session data (channel lists, instance limits) stays warm.
package refresher

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postcast/internal/account"
	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/pkg/logx"
)

const DefaultSchedule = "@every 30m"

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	// Timeout bounds a single account check.
	Timeout time.Duration
}

// Status is the last known login state of one account.
type Status struct {
	AccountID   string                  `json:"account_id"`
	Destination string                  `json:"destination"`
	Login       destination.LoginStatus `json:"login"`
	Error       string                  `json:"error,omitempty"`
	CheckedAt   time.Time               `json:"checked_at"`
}

type Service struct {
	reg   *destination.Registry
	accts account.Directory
	clock clock.Clock
	log   logx.Logger

	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool

	smu    sync.RWMutex
	status map[string]Status
}

func New(reg *destination.Registry, accts account.Directory, cfg Config, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		reg:    reg,
		accts:  accts,
		clock:  clk,
		log:    log,
		cfg:    cfg,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		status: map[string]Status{},
	}
}

// ParseSchedule reports whether expr is usable by the service.
func (s *Service) ParseSchedule(expr string) error {
	_, err := s.parser.Parse(scheduleOrDefault(expr))
	return err
}

func scheduleOrDefault(expr string) string {
	if strings.TrimSpace(expr) == "" {
		return DefaultSchedule
	}
	return strings.TrimSpace(expr)
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// Start schedules the refresh job. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	loc := loadLocation(s.cfg.Timezone)
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(scheduleOrDefault(s.cfg.Schedule), func() { s.RunOnce(runCtx) }); err != nil {
		cancel()
		return err
	}
	s.c, s.runCtx, s.cancel, s.running = c, runCtx, cancel, true
	c.Start()
	s.log.Info("refresher started", logx.String("schedule", scheduleOrDefault(s.cfg.Schedule)), logx.String("tz", loc.String()))
	return nil
}

// Stop waits for a running refresh to return.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("refresher stopped")
}

// Apply swaps the config and restarts the schedule when it changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.running
	s.mu.Unlock()

	same := old.Enabled == cfg.Enabled &&
		scheduleOrDefault(old.Schedule) == scheduleOrDefault(cfg.Schedule) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone)
	if same && running == cfg.Enabled {
		return nil
	}
	s.Stop(ctx)
	return s.Start(ctx)
}

// RunOnce checks every configured account sequentially.
func (s *Service) RunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in refresh", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	for _, acct := range s.accts.List("") {
		if ctx.Err() != nil {
			return
		}
		st := s.check(ctx, acct, timeout)
		s.smu.Lock()
		s.status[acct.ID] = st
		s.smu.Unlock()
	}
}

func (s *Service) check(ctx context.Context, acct account.Account, timeout time.Duration) Status {
	st := Status{AccountID: acct.ID, Destination: acct.Destination}
	log := s.log.With(logx.String("account", acct.ID), logx.String("destination", acct.Destination))

	a, err := s.reg.Get(acct.Destination)
	if err != nil {
		st.Error = err.Error()
		st.CheckedAt = s.clock.Now()
		log.Warn("refresh skipped", logx.Err(err))
		return st
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	st.Login, err = a.CheckLoginStatus(ctx, acct)
	st.CheckedAt = s.clock.Now()
	if err != nil {
		st.Error = err.Error()
		log.Warn("login check failed", logx.Err(err))
		return st
	}
	log.Debug("login checked", logx.Bool("logged_in", st.Login.LoggedIn), logx.String("username", st.Login.Username))
	return st
}

// Statuses returns the last results ordered by account id.
func (s *Service) Statuses() []Status {
	s.smu.RLock()
	out := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, st)
	}
	s.smu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
}
