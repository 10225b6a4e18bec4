package tagconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	s, err := New([]Converter{
		{Tag: "Dragon", Conversions: map[string]string{"pixelfed": "dragonart", "Telegram": ""}},
		{Tag: "wip", Conversions: map[string]string{"pixelfed": "dragonart"}},
	})
	require.NoError(t, err)

	tags := []string{"dragon", "sketch", "wip"}
	assert.Equal(t, []string{"dragonart", "sketch"}, s.Convert("pixelfed", tags))
	assert.Equal(t, []string{"sketch", "wip"}, s.Convert("telegram", tags))
	assert.Equal(t, tags, s.Convert("discord", tags))
}

func TestNilSetOnlyDedupes(t *testing.T) {
	var s *Set
	assert.Equal(t, []string{"a", "b"}, s.Convert("x", []string{"a", " ", "b", "a"}))
}

func TestReplaceRejectsDuplicates(t *testing.T) {
	_, err := New([]Converter{{Tag: "a"}, {Tag: "A"}})
	assert.Error(t, err)
	_, err = New([]Converter{{Tag: " "}})
	assert.Error(t, err)
}

func TestForDestination(t *testing.T) {
	s, err := New([]Converter{
		{Tag: "b", Conversions: map[string]string{"pixelfed": "x"}},
		{Tag: "a", Conversions: map[string]string{"pixelfed": "y", "discord": "z"}},
		{Tag: "c", Conversions: map[string]string{"discord": "z"}},
	})
	require.NoError(t, err)
	got := s.ForDestination("pixelfed")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Tag)
	assert.Equal(t, "b", got[1].Tag)
}
