package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/gateway"
	"postcast/internal/transfer"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./postcast.db
  busy_timeout: 3s
gateway:
  min_interval: 2s
transfer:
  poll_attempts: 5
settings:
  advertise: true
shortcuts:
  - shortcut: sig
    content: "-- {$}"
    is_dynamic: true
tag_converters:
  - tag: wip
    conversions:
      pixelfed: sketch
accounts:
  - id: tg-main
    destination: telegram
    data:
      bot_token: "123:abc"
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("postcast.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, true, cfg.Settings["advertise"])
	require.Len(t, cfg.Shortcuts, 1)
	assert.True(t, cfg.Shortcuts[0].Dynamic)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "123:abc", cfg.Accounts[0].Data["bot_token"])

	gc, err := cfg.GatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, gateway.Config{MinInterval: 2 * time.Second, MaxFloodWait: gateway.DefaultMaxFloodWait}, gc)

	tc, err := cfg.TransferConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, tc.PollAttempts)
	assert.Equal(t, transfer.DefaultPollDelay, tc.PollDelay)

	sc, err := cfg.StorageConfig()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"loging":{}}`))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing data")
}

func TestDecodeYAMLIsStrict(t *testing.T) {
	_, err := Decode("c.yaml", []byte("loging: {}\n"))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Decode("c.yml", []byte("logging: {}\n---\nlogging: {}\n"))
	assert.ErrorContains(t, err, "more than one document")

	_, err = Decode("c.yaml", []byte("logging: [\n"))
	assert.ErrorContains(t, err, "c.yaml: yaml:")
}

func TestParseDurationOrDefault(t *testing.T) {
	for raw, want := range map[string]time.Duration{
		"":      time.Second,
		"0s":    time.Second,
		"250ms": 250 * time.Millisecond,
		" 2m ":  2 * time.Minute,
	} {
		d, err := ParseDurationOrDefault("transfer.part_delay", raw, time.Second)
		require.NoError(t, err, raw)
		assert.Equal(t, want, d, raw)
	}

	_, err := ParseDurationOrDefault("transfer.part_delay", "-1s", time.Second)
	assert.EqualError(t, err, `transfer.part_delay: "-1s" is negative`)
	_, err = ParseDurationField("gateway.min_interval", "soon")
	assert.ErrorContains(t, err, `gateway.min_interval: "soon" is not a duration`)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"duplicate account":  `{"accounts":[{"id":"a","destination":"x"},{"id":"a","destination":"x"}]}`,
		"missing dest":       `{"accounts":[{"id":"a"}]}`,
		"bad driver":         `{"storage":{"driver":"mongo"}}`,
		"bad duration":       `{"gateway":{"min_interval":"soon"}}`,
		"negative duration":  `{"transfer":{"poll_delay":"-1s"}}`,
		"duplicate shortcut": `{"shortcuts":[{"shortcut":"a","content":"x"},{"shortcut":"A","content":"y"}]}`,
		"empty tag":          `{"tag_converters":[{"tag":""}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("c.json", []byte(body))
			assert.Error(t, err)
		})
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := write(t, "postcast.json", `{"poster":{"concurrency":1}}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(p, []byte(`{"poster":{"concurrency":4}}`), 0o600))
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 4, (<-ch).Poster.Concurrency)
	assert.Equal(t, 4, m.Get().Poster.Concurrency)
}

func TestReloadHonoursValidator(t *testing.T) {
	p := write(t, "postcast.json", `{}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })

	require.NoError(t, os.WriteFile(p, []byte(`{"poster":{"concurrency":2}}`), 0o600))
	changed, err := m.Reload(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, changed)
	assert.Equal(t, 0, m.Get().Poster.Concurrency)
}

func TestWatchPicksUpWrites(t *testing.T) {
	p := write(t, "postcast.json", `{}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, 3, cfg.Poster.Concurrency)
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees one.
			require.NoError(t, os.WriteFile(p, []byte(`{"poster":{"concurrency":3}}`), 0o600))
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{HTTP: HTTPConfig{Token: "secret"}}
	b := &Config{HTTP: HTTPConfig{Token: "other"}, Poster: PosterConfig{Concurrency: 2}}
	changed, fields := SummarizeChange(a, b)
	assert.Equal(t, []string{"poster", "http"}, changed)
	assert.NotEmpty(t, fields)
}
