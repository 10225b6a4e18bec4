package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/submission"
	"postcast/internal/transfer"
)

// botAPI records media sends against a fake Bot API. floods lists how
// many leading sends answer 429.
type botAPI struct {
	mu     sync.Mutex
	floods int
	// sources holds "upload" for multipart bodies, else the file_id sent.
	sources []string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if method != "sendPhoto" && method != "sendDocument" {
		http.NotFound(w, r)
		return
	}
	field := "photo"
	if method == "sendDocument" {
		field = "document"
	}

	src := ""
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		// Nameless readers arrive as plain form values.
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			if len(r.MultipartForm.File[field]) > 0 || len(r.MultipartForm.Value[field]) > 0 {
				src = "upload"
			}
		}
	} else {
		var params map[string]string
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &params)
		src = params[field]
	}

	b.mu.Lock()
	n := len(b.sources)
	b.sources = append(b.sources, src)
	flood := n < b.floods
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if flood {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":`+strconv.Itoa(n+1)+`,"chat":{"id":1,"type":"channel"},`+
		`"photo":[{"file_id":"AgADphoto","file_unique_id":"u1","width":1,"height":1}]}}`)
}

func (b *botAPI) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sources...)
}

func newBotAdapter(t *testing.T, api *botAPI) (*Adapter, *BotClient, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bc, err := newBotClient(tele.Settings{Token: "T", URL: srv.URL, Offline: true}, nil)
	require.NoError(t, err)

	clk := clock.NewFake(time.Time{})
	deps := destination.Deps{
		Gateway:  gateway.New(gateway.Config{}, gateway.WithClock(clk)),
		Transfer: transfer.New(transfer.Config{PartSize: 4}, transfer.WithClock(clk)),
		Info:     account.NewMemoryInfoStore(),
	}
	a := New(deps, func(context.Context, account.Account) (Client, error) { return bc, nil })
	return a, bc, clk
}

func (c *BotClient) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

func TestBotClientRetriesMediaAfterFloodWait(t *testing.T) {
	api := &botAPI{floods: 1}
	a, bc, clk := newBotAdapter(t, api)
	pf := file("a.png", "0123456789")

	_, err := a.PostFile(context.Background(), acct, destination.ComposedData{
		Description: "hello",
		Primary:     &pf,
		Options:     map[string]any{"channels": []string{"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"upload", "upload"}, api.sent())
	assert.Contains(t, clk.Sleeps(), 4*time.Second)
	assert.Zero(t, bc.held())
}

func TestBotClientPostsToEveryChannel(t *testing.T) {
	api := &botAPI{}
	a, bc, _ := newBotAdapter(t, api)
	pf := file("a.png", "0123456789")

	_, err := a.PostFile(context.Background(), acct, destination.ComposedData{
		Description: "hello",
		Primary:     &pf,
		Options:     map[string]any{"channels": []string{"1", "2"}},
	})
	require.NoError(t, err)
	// The second channel reuses the file_id Telegram returned.
	assert.Equal(t, []string{"upload", "AgADphoto"}, api.sent())
	assert.Zero(t, bc.held())
}

func TestBotClientReleasesUploadsWhenCancelled(t *testing.T) {
	api := &botAPI{}
	a, bc, _ := newBotAdapter(t, api)
	tok := cancel.New()
	ctx, stop := cancel.NewContext(context.Background(), tok)
	defer stop()

	pf := file("a.png", "0123456789")
	second := file("b.png", "abcdef")
	// Cancel once the first file is assembled, before anything is sent.
	orig := a.dial
	a.dial = func(ctx context.Context, acct account.Account) (Client, error) {
		c, err := orig(ctx, acct)
		return &cancelAfterUpload{Client: c, Releaser: bc, tok: tok}, err
	}

	_, err := a.PostFile(ctx, acct, destination.ComposedData{
		Description: "hello",
		Primary:     &pf,
		Additional:  []submission.File{second},
		Options:     map[string]any{"channels": []string{"1"}},
	})
	require.ErrorIs(t, err, cancel.ErrCancelled)
	assert.Empty(t, api.sent())
	assert.Zero(t, bc.held())
}

type cancelAfterUpload struct {
	Client
	Releaser
	tok *cancel.Token
}

func (c *cancelAfterUpload) SaveFilePart(ctx context.Context, p transfer.Part) error {
	err := c.Client.SaveFilePart(ctx, p)
	if p.Index == p.Total-1 {
		c.tok.Cancel("user")
	}
	return err
}
