package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/internal/logstore"
	"postcast/internal/poster"
	"postcast/internal/refresher"
	"postcast/internal/storage"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

type fakePoster struct {
	mu       sync.Mutex
	posted   []*submission.Submission
	targets  [][]submission.Target
	cancels  map[string]int
	inflight []string
	done     chan struct{}
}

func (p *fakePoster) Post(_ context.Context, sub *submission.Submission, targets []submission.Target) (poster.Report, error) {
	p.mu.Lock()
	p.posted = append(p.posted, sub)
	p.targets = append(p.targets, targets)
	p.mu.Unlock()
	if p.done != nil {
		close(p.done)
	}
	return poster.Report{SubmissionID: sub.ID, Outcomes: map[string]destination.Outcome{
		"telegram:main": {Destination: "telegram", Account: "main", Status: destination.StatusSucceeded},
	}}, nil
}

func (p *fakePoster) Cancel(id, _ string) int { return p.cancels[id] }
func (p *fakePoster) InFlight() []string      { return p.inflight }

type statuses []refresher.Status

func (s statuses) Statuses() []refresher.Status { return s }

type fakeMeta struct{ destination.Adapter }

func (fakeMeta) Metadata() destination.Metadata {
	return destination.Metadata{ID: "telegram", DisplayName: "Telegram"}
}

func newServer(t *testing.T, p *fakePoster, token string) (*Server, *logstore.Store) {
	t.Helper()
	logs := logstore.New(storage.NewMemory(), logstore.WithClock(clock.NewFake(time.Unix(100, 0))))
	s := New(Deps{
		Poster:   p,
		Logs:     logs,
		Registry: destination.NewRegistry(fakeMeta{}),
		Statuses: statuses{{AccountID: "main", Destination: "telegram", Login: destination.LoginStatus{LoggedIn: true}}},
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Token:    token,
		Log:      logx.Nop(),
	})
	return s, logs
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env Envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

const notification = `{"submission":{"kind":"notification","title":"Hi","description":"hello"},"targets":["telegram:main","pixelfed"]}`

func TestCreatePostSync(t *testing.T) {
	p := &fakePoster{}
	s, _ := newServer(t, p, "")

	rec, env := do(t, s.Handler(), http.MethodPost, "/v1/posts", notification, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, env.RequestID)
	require.Len(t, p.posted, 1)
	assert.Equal(t, submission.KindNotification, p.posted[0].Kind)
	assert.Equal(t, []submission.Target{{Destination: "telegram", Account: "main"}, {Destination: "pixelfed"}}, p.targets[0])

	data := env.Data.(map[string]any)
	assert.Equal(t, p.posted[0].ID, data["submission_id"])
}

func TestCreatePostAsync(t *testing.T) {
	p := &fakePoster{done: make(chan struct{})}
	s, _ := newServer(t, p, "")

	body := strings.Replace(notification, `"targets"`, `"async":true,"targets"`, 1)
	rec, env := do(t, s.Handler(), http.MethodPost, "/v1/posts", body, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, env.Data.(map[string]any)["submission_id"])

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("async post never ran")
	}
}

func TestCreatePostRejectsBadInput(t *testing.T) {
	s, _ := newServer(t, &fakePoster{}, "")
	cases := map[string]struct {
		body string
		code int
	}{
		"not json":       {`{`, http.StatusBadRequest},
		"unknown field":  {`{"sub":{}}`, http.StatusBadRequest},
		"no targets":     {`{"submission":{"kind":"notification"}}`, http.StatusBadRequest},
		"bad target":     {`{"submission":{"kind":"notification"},"targets":[":x"]}`, http.StatusBadRequest},
		"file w/o files": {`{"submission":{"kind":"file"},"targets":["telegram"]}`, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, env := do(t, s.Handler(), http.MethodPost, "/v1/posts", tc.body, "")
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestCancel(t *testing.T) {
	s, _ := newServer(t, &fakePoster{cancels: map[string]int{"sub-1": 2}}, "")

	rec, env := do(t, s.Handler(), http.MethodPost, "/v1/posts/sub-1/cancel", `{"reason":"typo"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, env.Data.(map[string]any)["cancelled"])

	rec, _ = do(t, s.Handler(), http.MethodPost, "/v1/posts/nope/cancel", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogs(t *testing.T) {
	s, logs := newServer(t, &fakePoster{}, "")
	ctx := context.Background()
	e, err := logs.Append(ctx, logstore.Entry{Submission: *submission.New(submission.KindFile, "a")})
	require.NoError(t, err)
	_, err = logs.Append(ctx, logstore.Entry{Submission: *submission.New(submission.KindNotification, "b")})
	require.NoError(t, err)

	rec, env := do(t, s.Handler(), http.MethodGet, "/v1/logs?kind=file", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data, 1)

	rec, _ = do(t, s.Handler(), http.MethodGet, "/v1/logs?kind=video", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s.Handler(), http.MethodGet, "/v1/logs/"+e.ID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s.Handler(), http.MethodDelete, "/v1/logs/"+e.ID, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = do(t, s.Handler(), http.MethodDelete, "/v1/logs/"+e.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestinationsIncludeAccountStatus(t *testing.T) {
	s, _ := newServer(t, &fakePoster{}, "")
	rec, env := do(t, s.Handler(), http.MethodGet, "/v1/destinations", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := env.Data.([]any)
	require.Len(t, list, 1)
	d := list[0].(map[string]any)
	assert.Equal(t, "telegram", d["id"])
	assert.Len(t, d["accounts"], 1)
}

func TestBearerToken(t *testing.T) {
	s, _ := newServer(t, &fakePoster{}, "s3cret")

	rec, _ := do(t, s.Handler(), http.MethodGet, "/v1/posts", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, s.Handler(), http.MethodGet, "/v1/posts", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, s.Handler(), http.MethodGet, "/v1/posts", "", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// health and metrics stay open
	rec, _ = do(t, s.Handler(), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s.Handler(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestPprofIsOptIn(t *testing.T) {
	s, _ := newServer(t, &fakePoster{}, "")
	rec, _ := do(t, s.Handler(), http.MethodGet, "/debug/pprof/", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	withPprof := New(Deps{Poster: &fakePoster{}, Pprof: true, Token: "t", Log: logx.Nop()})
	rec, _ = do(t, withPprof.Handler(), http.MethodGet, "/debug/pprof/", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, withPprof.Handler(), http.MethodGet, "/debug/pprof/", "", "t")
	assert.Equal(t, http.StatusOK, rec.Code)
}
