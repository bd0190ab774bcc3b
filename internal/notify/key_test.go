package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyIsPure(t *testing.T) {
	require.Equal(t, Key("P1", "U1"), Key("P1", "U1"))
	require.Equal(t, Key("P1", ""), Key("P1", ""))
}

func TestKeyLiteralSentinelDoesNotAliasUnknownSlot(t *testing.T) {
	// An id that happens to spell the sentinel string is an ordinary value
	// and must address its own channel, not the unknown-slot one.
	require.NotEqual(t, Key("P1", UnknownSentinel), Key("P1", ""))
	require.NotEqual(t, Key(UnknownSentinel, "U1"), Key("", "U1"))
	require.NotEqual(t, Key(UnknownSentinel, UnknownSentinel), Key("", ""))
}

func TestKeyDistinctPairsNeverCollide(t *testing.T) {
	pairs := [][2]string{
		{"P1", "U1"},
		{"P1", "U2"},
		{"P2", "U1"},
		{"P1", ""},
		{"", "U1"},
		{"", ""},
		// Slot boundary shifts must not produce the same key.
		{"ab", "c"},
		{"a", "bc"},
		{"abc", ""},
		{"P1/2", "U1"},
		{"P1", "2/U1"},
		{UnknownSentinel, "U1"},
		{"P1", UnknownSentinel},
	}

	seen := make(map[ChannelKey][2]string)
	for _, pair := range pairs {
		key := Key(pair[0], pair[1])
		if prev, ok := seen[key]; ok {
			t.Fatalf("key collision: %v and %v both map to %q", prev, pair, key)
		}
		seen[key] = pair
	}
}
