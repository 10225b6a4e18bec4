package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/describe"
	"postcast/internal/submission"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "postcast.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const baseConfig = `
logging:
  level: error
storage:
  driver: memory
  capacity: 5
settings:
  advertise: false
accounts:
  - id: tg
    destination: telegram
    data:
      bot_token: "1:x"
      channels: []
`

func TestNewBuildsEveryDestination(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"discord", "pixelfed", "telegram"}, a.Registry().IDs())
	require.NotNil(t, a.Logs())
	assert.Equal(t, 5, a.Logs().Capacity())
	_, ok := a.Accounts().Get("tg")
	assert.True(t, ok)
}

func TestNewWithoutStorage(t *testing.T) {
	a, err := New(writeConfig(t, "storage:\n  driver: none\n"))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Logs())
}

func TestRenderThroughApp(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig+`
shortcuts:
  - shortcut: sig
    content: "-- me"
`))
	require.NoError(t, err)
	defer a.Close()

	out, err := a.Engine().Render(describeInput("Hello {title} {sig}", "World"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World -- me", out)
}

func TestApplyHotReloadsRuntimeSections(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	defer a.Close()

	oldCfg := a.Config()
	newCfg := *oldCfg
	newCfg.Settings = map[string]any{"advertise": true}
	newCfg.Accounts = nil
	newCfg.Shortcuts = append(newCfg.Shortcuts, shortcut("x", "y"))

	a.apply(context.Background(), oldCfg, &newCfg)

	assert.True(t, a.settings.Bool("advertise"))
	assert.Len(t, a.settings.Shortcuts(), 1)
	_, ok := a.Accounts().Get("tg")
	assert.False(t, ok)
}

func TestStartStop(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopCommand))
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still alive after Stop")
	}
}

func TestStartRejectsUnknownDestination(t *testing.T) {
	a, err := New(writeConfig(t, `
accounts:
  - id: x
    destination: myspace
`))
	require.NoError(t, err)
	defer a.Close()
	assert.ErrorContains(t, a.Start(context.Background()), "account x")
}

func TestPostWithUnknownAccountFailsOnlyThatTarget(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	defer a.Close()

	sub := submission.New(submission.KindNotification, "hi")
	sub.Description = "hello"
	rep, err := a.Poster().Post(context.Background(), sub, []submission.Target{{Destination: "pixelfed", Account: "nope"}})
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 1)
	for _, o := range rep.Outcomes {
		assert.Equal(t, "failed", string(o.Status))
	}

	entries, err := a.Logs().Query(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func describeInput(desc, title string) describe.Input {
	return describe.Input{Description: desc, Title: title, Destination: "any", Kind: submission.KindNotification}
}

func shortcut(key, content string) describe.Shortcut {
	return describe.Shortcut{Key: key, Content: content}
}
