// Package poster fans one submission out to its destinations and records
// what happened to each of them.
package poster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/clock"
	"postcast/internal/describe"
	"postcast/internal/destination"
	"postcast/internal/eventbus"
	"postcast/internal/logstore"
	"postcast/internal/submission"
	"postcast/internal/tagconv"
	"postcast/pkg/logx"
)

// Observer receives one call per finished attempt.
type Observer interface {
	ObserveOutcome(dest string, status destination.Status, d time.Duration)
}

type Option func(*Poster)

// WithConcurrency caps concurrent attempts; n <= 0 means no cap.
func WithConcurrency(n int) Option            { return func(p *Poster) { p.limit = n } }
func WithTagConverters(s *tagconv.Set) Option { return func(p *Poster) { p.tags = s } }
func WithLogStore(s *logstore.Store) Option   { return func(p *Poster) { p.logs = s } }
func WithBus(b eventbus.Bus) Option           { return func(p *Poster) { p.bus = b } }
func WithClock(c clock.Clock) Option          { return func(p *Poster) { p.clock = c } }
func WithLogger(l logx.Logger) Option         { return func(p *Poster) { p.log = l } }
func WithObserver(o Observer) Option          { return func(p *Poster) { p.obs = o } }

type Poster struct {
	reg      *destination.Registry
	engine   *describe.Engine
	accounts account.Directory

	tags  *tagconv.Set
	logs  *logstore.Store
	bus   eventbus.Bus
	clock clock.Clock
	log   logx.Logger
	obs   Observer
	limit int

	mu sync.Mutex
	// inflight holds the live tokens per submission id. Overlapping Post
	// calls for one id each keep their own tokens.
	inflight map[string]map[*cancel.Token]struct{}
}

func New(reg *destination.Registry, engine *describe.Engine, accounts account.Directory, opts ...Option) *Poster {
	p := &Poster{
		reg:      reg,
		engine:   engine,
		accounts: accounts,
		clock:    clock.Real{},
		inflight: map[string]map[*cancel.Token]struct{}{},
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	p.log = p.log.With(logx.String("comp", "poster"))
	return p
}

// Report is the result of one Post call.
type Report struct {
	SubmissionID string                         `json:"submission_id"`
	Outcomes     map[string]destination.Outcome `json:"outcomes"`
	// LogID is empty when no log store is configured.
	LogID string `json:"log_id,omitempty"`
}

// Post runs every target concurrently and waits for all of them. Targets
// without an account expand to every account of that destination. A
// failing target never affects its siblings; the returned error is only
// set when the submission itself is invalid.
func (p *Poster) Post(ctx context.Context, sub *submission.Submission, targets []submission.Target) (Report, error) {
	if err := sub.Validate(); err != nil {
		return Report{}, err
	}
	rep := Report{SubmissionID: sub.ID, Outcomes: map[string]destination.Outcome{}}
	targets = p.expand(targets)
	if len(targets) == 0 {
		return rep, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for _, t := range targets {
		tok := p.track(sub.ID)
		g.Go(func() error {
			defer p.untrack(sub.ID, tok)
			o := p.attempt(ctx, sub, t, tok)
			mu.Lock()
			rep.Outcomes[t.Key()] = o
			mu.Unlock()
			p.publish(eventbus.TypeAttemptCompleted, eventbus.AttemptCompleted{
				SubmissionID: sub.ID,
				Target:       t.Key(),
				Status:       string(o.Status),
				Reason:       o.Reason,
			})
			return nil
		})
	}
	_ = g.Wait()

	if p.logs != nil {
		e, err := p.logs.Append(context.WithoutCancel(ctx), logstore.Entry{Submission: *sub, Results: sortedOutcomes(rep.Outcomes)})
		if err != nil {
			p.log.Error("appending log entry failed", logx.String("submission", sub.ID), logx.Err(err))
		} else {
			rep.LogID = e.ID
			p.publish(eventbus.TypeSubmissionLogged, e.ID)
		}
	}
	return rep, nil
}

// Cancel sets the token of every in-flight attempt of submissionID and
// reports how many were cancelled.
func (p *Poster) Cancel(submissionID, reason string) int {
	if reason == "" {
		reason = "cancelled by user"
	}
	p.mu.Lock()
	toks := make([]*cancel.Token, 0, len(p.inflight[submissionID]))
	for tok := range p.inflight[submissionID] {
		toks = append(toks, tok)
	}
	p.mu.Unlock()
	n := 0
	for _, tok := range toks {
		if tok.Cancel(reason) {
			n++
		}
	}
	return n
}

// InFlight lists the submission ids with running attempts.
func (p *Poster) InFlight() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.inflight))
	for id := range p.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Poster) track(subID string) *cancel.Token {
	tok := cancel.New()
	p.mu.Lock()
	m := p.inflight[subID]
	if m == nil {
		m = map[*cancel.Token]struct{}{}
		p.inflight[subID] = m
	}
	m[tok] = struct{}{}
	p.mu.Unlock()
	return tok
}

func (p *Poster) untrack(subID string, tok *cancel.Token) {
	p.mu.Lock()
	delete(p.inflight[subID], tok)
	if len(p.inflight[subID]) == 0 {
		delete(p.inflight, subID)
	}
	p.mu.Unlock()
}

func (p *Poster) expand(targets []submission.Target) []submission.Target {
	seen := map[string]bool{}
	var out []submission.Target
	add := func(t submission.Target) {
		if !seen[t.Key()] {
			seen[t.Key()] = true
			out = append(out, t)
		}
	}
	for _, t := range targets {
		if t.Account != "" || p.accounts == nil {
			add(t)
			continue
		}
		accts := p.accounts.List(t.Destination)
		if len(accts) == 0 {
			add(t)
			continue
		}
		for _, a := range accts {
			add(submission.Target{Destination: t.Destination, Account: a.ID})
		}
	}
	return out
}

func (p *Poster) publish(typ string, data any) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Time: p.clock.Now(), Data: data})
	}
}

func sortedOutcomes(m map[string]destination.Outcome) []destination.Outcome {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]destination.Outcome, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func (p *Poster) lookupAccount(t submission.Target) (account.Account, error) {
	if t.Account == "" {
		return account.Account{}, fmt.Errorf("no account configured for %s", t.Destination)
	}
	if p.accounts == nil {
		return account.Account{}, fmt.Errorf("account %s not found", t.Account)
	}
	a, ok := p.accounts.Get(t.Account)
	if !ok {
		return account.Account{}, fmt.Errorf("account %s not found", t.Account)
	}
	if a.Destination != "" && a.Destination != t.Destination {
		return account.Account{}, fmt.Errorf("account %s belongs to %s", a.ID, a.Destination)
	}
	return a, nil
}
