package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/submission"
	"postcast/internal/transfer"
)

type sent struct {
	to      int64
	caption string
	photo   bool
	text    string
	silent  bool
}

type fakeClient struct {
	mu       sync.Mutex
	channels []Channel
	parts    []transfer.Part
	sent     []sent
	sendErrs []error
	onSend   func()
	nextID   int64
}

func (c *fakeClient) Me(context.Context) (string, error) { return "postcast_bot", nil }

func (c *fakeClient) Channels(context.Context) ([]Channel, error) { return c.channels, nil }

func (c *fakeClient) SaveFilePart(_ context.Context, p transfer.Part) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parts = append(c.parts, p)
	return nil
}

func (c *fakeClient) record(s sent) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onSend != nil {
		c.onSend()
	}
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	c.sent = append(c.sent, s)
	c.nextID++
	return c.nextID, nil
}

func (c *fakeClient) SendMedia(_ context.Context, to Channel, m Media, silent bool) (int64, error) {
	return c.record(sent{to: to.ID, caption: m.Caption, photo: m.Photo, silent: silent})
}

func (c *fakeClient) SendMessage(_ context.Context, to Channel, text string, silent bool) (int64, error) {
	return c.record(sent{to: to.ID, text: text, silent: silent})
}

func newAdapter(t *testing.T, c *fakeClient) (*Adapter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Time{})
	deps := destination.Deps{
		Gateway:  gateway.New(gateway.Config{}, gateway.WithClock(clk)),
		Transfer: transfer.New(transfer.Config{PartSize: 4}, transfer.WithClock(clk)),
		Info:     account.NewMemoryInfoStore(),
	}
	a := New(deps, func(context.Context, account.Account) (Client, error) { return c, nil })
	return a, clk
}

var acct = account.Account{ID: "tg1", Destination: ID}

func file(name string, data string) submission.File {
	return submission.File{Name: name, Data: []byte(data), MimeType: "image/png"}
}

func TestCheckLoginStatusCachesChannels(t *testing.T) {
	c := &fakeClient{channels: []Channel{{ID: 100, Title: "art"}}}
	a, _ := newAdapter(t, c)

	st, err := a.CheckLoginStatus(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, destination.LoginStatus{LoggedIn: true, Username: "postcast_bot"}, st)

	var cached []Channel
	ok, err := a.deps.Info.Get(context.Background(), acct.ID, FoldersKey, &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.channels, cached)
}

func TestValidateFile(t *testing.T) {
	c := &fakeClient{channels: []Channel{{ID: 100}}}
	a, _ := newAdapter(t, c)
	ctx := context.Background()
	_, err := a.CheckLoginStatus(ctx, acct)
	require.NoError(t, err)

	sub := submission.New(submission.KindFile, "t")
	pf := file("a.png", "x")
	sub.Files.Primary = &pf
	sub.Files.Additional = []submission.File{file("b.txt", "y"), file("c.bmp", "z")}

	v := a.ValidateFile(ctx, acct, destination.Check{Submission: sub})
	assert.Equal(t, []string{"No channel(s) selected."}, v.Problems)

	v = a.ValidateFile(ctx, acct, destination.Check{
		Submission: sub,
		Part:       submission.Part{Options: map[string]any{"channels": []string{"100", "200"}}},
	})
	assert.Equal(t, []string{
		"Folder (200) not found.",
		"Currently supported file formats: jpg, jpeg, gif, png",
	}, v.Problems)
}

func TestValidateWarnsOnLongCaption(t *testing.T) {
	c := &fakeClient{channels: []Channel{{ID: 100}}}
	a, _ := newAdapter(t, c)
	ctx := context.Background()
	_, err := a.CheckLoginStatus(ctx, acct)
	require.NoError(t, err)

	sub := submission.New(submission.KindFile, "t")
	pf := file("a.png", "x")
	sub.Files.Primary = &pf
	long := make([]rune, captionLimit+1)
	for i := range long {
		long[i] = 'a'
	}

	v := a.ValidateFile(ctx, acct, destination.Check{
		Submission:  sub,
		Part:        submission.Part{Options: map[string]any{"channels": []string{"100"}}},
		Description: string(long),
	})
	assert.True(t, v.OK())
	require.Len(t, v.Warnings, 1)
}

func TestPostFileUploadsOnceAndCaptionsFirst(t *testing.T) {
	c := &fakeClient{}
	a, _ := newAdapter(t, c)
	pf := file("a.png", "0123456789")
	data := destination.ComposedData{
		Description: "hello",
		Primary:     &pf,
		Additional:  []submission.File{file("b.gif", "ab")},
		Options:     map[string]any{"channels": []string{"1", "2"}, "silent": true},
	}

	res, err := a.PostFile(context.Background(), acct, data)
	require.NoError(t, err)
	assert.Equal(t, "4", res.ID)
	// 10 bytes in 3 parts plus 2 bytes in 1.
	assert.Len(t, c.parts, 4)
	assert.Equal(t, []sent{
		{to: 1, caption: "hello", photo: true, silent: true},
		{to: 1, photo: false, silent: true},
		{to: 2, caption: "hello", photo: true, silent: true},
		{to: 2, photo: false, silent: true},
	}, c.sent)
}

func TestPostRetriesShortFloodWait(t *testing.T) {
	c := &fakeClient{sendErrs: []error{&gateway.FloodWaitError{Wait: 3 * time.Second}}}
	a, clk := newAdapter(t, c)

	_, err := a.PostNotification(context.Background(), acct, destination.ComposedData{
		Description: "news",
		Options:     map[string]any{"channels": []string{"1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []sent{{to: 1, text: "news"}}, c.sent)
	assert.Contains(t, clk.Sleeps(), 4*time.Second)
}

func TestPostStopsWhenCancelled(t *testing.T) {
	c := &fakeClient{}
	a, _ := newAdapter(t, c)
	tok := cancel.New()
	ctx, stop := cancel.NewContext(context.Background(), tok)
	defer stop()
	c.onSend = func() { tok.Cancel("user") }

	_, err := a.PostNotification(ctx, acct, destination.ComposedData{
		Description: "news",
		Options:     map[string]any{"channels": []string{"1", "2", "3"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cancel.ErrCancelled))
	assert.Len(t, c.sent, 1)
}

func TestPostRejectsMissingChannels(t *testing.T) {
	a, _ := newAdapter(t, &fakeClient{})
	_, err := a.PostNotification(context.Background(), acct, destination.ComposedData{Description: "x"})
	var pe *destination.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ID, pe.Destination)
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("-100123/987")
	require.NoError(t, err)
	assert.Equal(t, Channel{ID: -100123, AccessHash: 987}, ch)
	assert.Equal(t, "-100123/987", ch.Value())

	_, err = ParseChannel("abc")
	assert.Error(t, err)
}
