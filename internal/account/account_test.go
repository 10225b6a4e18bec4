package account

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type creds struct {
	Token   string `json:"token"`
	Website string `json:"website"`
	UserID  int64  `json:"user_id"`
}

func TestDecodeCredentials(t *testing.T) {
	a := Account{ID: "pf-1", Data: map[string]any{"token": "t", "website": "https://pixelfed.social", "user_id": "17"}}
	var c creds
	require.NoError(t, a.Decode(&c))
	assert.Equal(t, creds{Token: "t", Website: "https://pixelfed.social", UserID: 17}, c)
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory([]Account{
		{ID: "b", Destination: "telegram"},
		{ID: "a", Destination: "telegram"},
		{ID: "c", Destination: "pixelfed"},
	})
	got := d.List("telegram")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Len(t, d.List(""), 3)

	_, ok := d.Get("c")
	assert.True(t, ok)
	d.Replace(nil)
	_, ok = d.Get("c")
	assert.False(t, ok)
}

type channel struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func runInfoStoreContract(t *testing.T, s InfoStore) {
	t.Helper()
	ctx := context.Background()

	var got []channel
	ok, err := s.Get(ctx, "acct", "folders", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	want := []channel{{ID: "1", Title: "art"}, {ID: "2", Title: "wip"}}
	require.NoError(t, s.Put(ctx, "acct", "folders", want))
	ok, err = s.Get(ctx, "acct", "folders", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	ok, err = s.Get(ctx, "other", "folders", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryInfoStore(t *testing.T) {
	runInfoStoreContract(t, NewMemoryInfoStore())
}

func TestRedisInfoStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := NewRedisInfoStore(client, WithTTL(time.Hour))
	defer s.Close()
	runInfoStoreContract(t, s)

	assert.True(t, mr.Exists("postcast:info:acct"))
	assert.Equal(t, time.Hour, mr.TTL("postcast:info:acct"))
}
