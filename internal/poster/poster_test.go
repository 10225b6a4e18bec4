package poster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/describe"
	"postcast/internal/destination"
	"postcast/internal/eventbus"
	"postcast/internal/logstore"
	"postcast/internal/richtext"
	"postcast/internal/storage"
	"postcast/internal/submission"
	"postcast/internal/tagconv"
)

type fakeAdapter struct {
	id       string
	exts     []string
	problems []string
	post     func(ctx context.Context, data destination.ComposedData) (destination.Result, error)

	mu    sync.Mutex
	calls []destination.ComposedData
}

func (a *fakeAdapter) Metadata() destination.Metadata {
	exts := a.exts
	if exts == nil {
		exts = []string{"png"}
	}
	return destination.Metadata{ID: a.id, AcceptedExtensions: exts, AcceptsAdditionalFiles: true, Formatter: richtext.Plaintext}
}

func (a *fakeAdapter) CheckLoginStatus(context.Context, account.Account) (destination.LoginStatus, error) {
	return destination.LoginStatus{LoggedIn: true}, nil
}

func (a *fakeAdapter) validate() destination.Validation {
	var v destination.Validation
	for _, p := range a.problems {
		v.Problem("%s", p)
	}
	v.Warn("heads up")
	return v
}

func (a *fakeAdapter) ValidateFile(context.Context, account.Account, destination.Check) destination.Validation {
	return a.validate()
}

func (a *fakeAdapter) ValidateNotification(context.Context, account.Account, destination.Check) destination.Validation {
	return a.validate()
}

func (a *fakeAdapter) PostFile(ctx context.Context, _ account.Account, data destination.ComposedData) (destination.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, data)
	a.mu.Unlock()
	if a.post != nil {
		return a.post(ctx, data)
	}
	return destination.Result{ID: "ok"}, nil
}

func (a *fakeAdapter) PostNotification(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	return a.PostFile(ctx, acct, data)
}

type fixture struct {
	poster *Poster
	logs   *logstore.Store
	bus    eventbus.Bus
}

func newFixture(t *testing.T, adapters []destination.Adapter, accts []account.Account, opts ...Option) fixture {
	t.Helper()
	reg := destination.NewRegistry(adapters...)
	logs := logstore.New(storage.NewMemory())
	bus := eventbus.New()
	opts = append([]Option{WithLogStore(logs), WithBus(bus)}, opts...)
	p := New(reg, describe.New(reg), account.NewStaticDirectory(accts), opts...)
	return fixture{poster: p, logs: logs, bus: bus}
}

func fileSubmission() *submission.Submission {
	s := submission.New(submission.KindFile, "Sunset")
	s.Description = "Hello {title}"
	s.Tags = []string{"sky", "wip"}
	f := submission.File{Name: "a.png", MimeType: "image/png", Data: []byte("x")}
	s.Files.Primary = &f
	return s
}

func TestPostCollectsIndependentOutcomes(t *testing.T) {
	good := &fakeAdapter{id: "good"}
	bad := &fakeAdapter{id: "bad", post: func(context.Context, destination.ComposedData) (destination.Result, error) {
		return destination.Result{}, destination.Reject("bad", "quota exceeded", map[string]any{"code": 429})
	}}
	f := newFixture(t, []destination.Adapter{good, bad}, []account.Account{
		{ID: "g1", Destination: "good"},
		{ID: "b1", Destination: "bad"},
	})
	events, unsub := f.bus.Subscribe(8, eventbus.TypeAttemptCompleted)
	defer unsub()

	sub := fileSubmission()
	rep, err := f.poster.Post(context.Background(), sub, []submission.Target{{Destination: "good"}, {Destination: "bad"}})
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 2)

	g := rep.Outcomes["good:g1"]
	assert.Equal(t, destination.StatusSucceeded, g.Status)
	assert.Equal(t, "ok", g.Result.ID)
	assert.Equal(t, []string{"heads up"}, g.Warnings)

	b := rep.Outcomes["bad:b1"]
	assert.Equal(t, destination.StatusFailed, b.Status)
	assert.Equal(t, "bad: quota exceeded", b.Reason)
	assert.Equal(t, map[string]any{"code": 429}, b.Diagnostic)

	require.Len(t, good.calls, 1)
	assert.Equal(t, "Hello Sunset", good.calls[0].Description)
	assert.Equal(t, "a.png", good.calls[0].Primary.Name)

	entries, err := f.logs.Query(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rep.LogID, entries[0].ID)
	assert.Len(t, entries[0].Results, 2)
	assert.Nil(t, entries[0].Submission.Files.Primary.Data)

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			ac := e.Data.(eventbus.AttemptCompleted)
			got[ac.Target] = ac.Status
		case <-time.After(time.Second):
			t.Fatal("missing attempt event")
		}
	}
	assert.Equal(t, map[string]string{"good:g1": "succeeded", "bad:b1": "failed"}, got)
}

func TestValidationProblemsBlockPosting(t *testing.T) {
	a := &fakeAdapter{id: "x", problems: []string{"No channel(s) selected."}}
	f := newFixture(t, []destination.Adapter{a}, []account.Account{{ID: "a1", Destination: "x"}})

	rep, err := f.poster.Post(context.Background(), fileSubmission(), []submission.Target{{Destination: "x", Account: "a1"}})
	require.NoError(t, err)
	o := rep.Outcomes["x:a1"]
	assert.Equal(t, destination.StatusFailed, o.Status)
	assert.Equal(t, []string{"No channel(s) selected."}, o.Problems)
	assert.Empty(t, a.calls)
}

func TestUnknownDestinationAndAccount(t *testing.T) {
	a := &fakeAdapter{id: "x"}
	f := newFixture(t, []destination.Adapter{a}, nil)

	rep, err := f.poster.Post(context.Background(), fileSubmission(), []submission.Target{
		{Destination: "nowhere", Account: "a"},
		{Destination: "x", Account: "ghost"},
		{Destination: "x"},
	})
	require.NoError(t, err)
	assert.Contains(t, rep.Outcomes["nowhere:a"].Reason, "unknown destination")
	assert.Equal(t, "account ghost not found", rep.Outcomes["x:ghost"].Reason)
	assert.Equal(t, "no account configured for x", rep.Outcomes["x"].Reason)
}

func TestInvalidSubmissionIsRejected(t *testing.T) {
	f := newFixture(t, nil, nil)
	sub := submission.New(submission.KindFile, "no file")
	_, err := f.poster.Post(context.Background(), sub, nil)
	assert.Error(t, err)
}

func TestCancelStopsInFlightAttempts(t *testing.T) {
	started := make(chan struct{})
	a := &fakeAdapter{id: "slow", post: func(ctx context.Context, _ destination.ComposedData) (destination.Result, error) {
		close(started)
		<-ctx.Done()
		return destination.Result{}, cancel.Check(ctx)
	}}
	f := newFixture(t, []destination.Adapter{a}, []account.Account{{ID: "s1", Destination: "slow"}})
	sub := fileSubmission()

	done := make(chan Report, 1)
	go func() {
		rep, _ := f.poster.Post(context.Background(), sub, []submission.Target{{Destination: "slow"}})
		done <- rep
	}()
	<-started
	assert.Equal(t, []string{sub.ID}, f.poster.InFlight())
	assert.Equal(t, 1, f.poster.Cancel(sub.ID, "stop"))

	select {
	case rep := <-done:
		o := rep.Outcomes["slow:s1"]
		assert.Equal(t, destination.StatusCancelled, o.Status)
		assert.Contains(t, o.Reason, "stop")
	case <-time.After(2 * time.Second):
		t.Fatal("post did not return after cancel")
	}
	assert.Empty(t, f.poster.InFlight())
}

func TestCancelReachesOverlappingPostsOfOneSubmission(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	firstStarted, secondStarted := make(chan struct{}), make(chan struct{})
	releaseFirst := make(chan struct{})
	a := &fakeAdapter{id: "slow", post: func(ctx context.Context, _ destination.ComposedData) (destination.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstStarted)
			<-releaseFirst
			return destination.Result{ID: "first"}, nil
		}
		close(secondStarted)
		<-ctx.Done()
		return destination.Result{}, cancel.Check(ctx)
	}}
	f := newFixture(t, []destination.Adapter{a}, []account.Account{{ID: "s1", Destination: "slow"}})
	sub := fileSubmission()
	targets := []submission.Target{{Destination: "slow"}}

	firstDone, secondDone := make(chan Report, 1), make(chan Report, 1)
	go func() {
		rep, _ := f.poster.Post(context.Background(), sub, targets)
		firstDone <- rep
	}()
	<-firstStarted
	go func() {
		rep, _ := f.poster.Post(context.Background(), sub, targets)
		secondDone <- rep
	}()
	<-secondStarted

	close(releaseFirst)
	select {
	case rep := <-firstDone:
		assert.Equal(t, destination.StatusSucceeded, rep.Outcomes["slow:s1"].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("first post did not return")
	}

	// The finished run must not drop the token of the one still running.
	assert.Equal(t, []string{sub.ID}, f.poster.InFlight())
	assert.Equal(t, 1, f.poster.Cancel(sub.ID, "stop"))
	select {
	case rep := <-secondDone:
		assert.Equal(t, destination.StatusCancelled, rep.Outcomes["slow:s1"].Status)
	case <-time.After(2 * time.Second):
		t.Fatal("second post did not return after cancel")
	}
	assert.Empty(t, f.poster.InFlight())
}

func TestCallerContextCancelsAttempts(t *testing.T) {
	a := &fakeAdapter{id: "x", post: func(ctx context.Context, _ destination.ComposedData) (destination.Result, error) {
		<-ctx.Done()
		return destination.Result{}, cancel.Check(ctx)
	}}
	f := newFixture(t, []destination.Adapter{a}, []account.Account{{ID: "a1", Destination: "x"}})

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	rep, err := f.poster.Post(ctx, fileSubmission(), []submission.Target{{Destination: "x"}})
	require.NoError(t, err)
	assert.Equal(t, destination.StatusCancelled, rep.Outcomes["x:a1"].Status)

	// The log entry is still written.
	entries, err := f.logs.Query(context.Background(), submission.KindFile)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrencyCeiling(t *testing.T) {
	var cur, peak atomic.Int32
	post := func(context.Context, destination.ComposedData) (destination.Result, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		return destination.Result{}, nil
	}
	a := &fakeAdapter{id: "x", post: post}
	var accts []account.Account
	for _, id := range []string{"a", "b", "c", "d"} {
		accts = append(accts, account.Account{ID: id, Destination: "x"})
	}
	f := newFixture(t, []destination.Adapter{a}, accts, WithConcurrency(1))

	rep, err := f.poster.Post(context.Background(), fileSubmission(), []submission.Target{{Destination: "x"}})
	require.NoError(t, err)
	assert.Len(t, rep.Outcomes, 4)
	assert.Equal(t, int32(1), peak.Load())
}

func TestTagConvertersAndFallback(t *testing.T) {
	a := &fakeAdapter{id: "x", exts: []string{"jpg"}}
	conv, err := tagconv.New([]tagconv.Converter{{Tag: "wip", Conversions: map[string]string{"x": "sketch"}}})
	require.NoError(t, err)
	f := newFixture(t, []destination.Adapter{a}, []account.Account{{ID: "a1", Destination: "x"}}, WithTagConverters(conv))

	sub := fileSubmission()
	sub.Description = "{tags}"
	sub.Files.Fallback = &submission.File{Name: "a.jpg", MimeType: "image/jpeg", Data: []byte("y")}
	sub.Parts = map[string]submission.Part{"x": {Tags: []string{"extra"}, Options: map[string]any{"k": "v"}}}

	rep, err := f.poster.Post(context.Background(), sub, []submission.Target{{Destination: "x"}})
	require.NoError(t, err)
	require.Equal(t, destination.StatusSucceeded, rep.Outcomes["x:a1"].Status)
	require.Len(t, a.calls, 1)
	d := a.calls[0]
	assert.Equal(t, []string{"sky", "sketch", "extra"}, d.Tags)
	assert.Equal(t, "sky sketch extra", d.Description)
	assert.Equal(t, "a.jpg", d.Primary.Name)
	assert.Equal(t, map[string]any{"k": "v"}, d.Options)
}

func TestRenderPreview(t *testing.T) {
	a := &fakeAdapter{id: "x"}
	f := newFixture(t, []destination.Adapter{a}, nil)

	sub := fileSubmission()
	sub.Title = "World"
	sub.Description = "Hello {title}"
	sub.Tags = []string{"a", "a", "b"}
	desc, tags, err := f.poster.Render(sub, submission.Target{Destination: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", desc)
	assert.Equal(t, []string{"a", "b"}, tags)

	_, _, err = f.poster.Render(sub, submission.Target{Destination: "nope"})
	assert.ErrorIs(t, err, destination.ErrUnknownDestination)
}
