package acquire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWorkingSet_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ws := newWorkingSet()

		scopeGen := rapid.SliceOfN(
			rapid.StringMatching(`[a-z]+\.[a-z]+`), 1, 4,
		)

		entries := rapid.IntRange(0, 8).Draw(t, "entries")
		for range entries {
			ws.put(scopeGen.Draw(t, "scopes"), Token{
				Value:   rapid.StringN(1, 64, 64).Draw(t, "value"),
				Account: rapid.String().Draw(t, "account"),
				Expiry:  time.Unix(rapid.Int64Range(0, 1<<34).Draw(t, "expiry"), 0).UTC(),
			})
		}

		blob, err := ws.Marshal()
		require.NoError(t, err)

		restored := newWorkingSet()
		require.NoError(t, restored.Unmarshal(blob))

		assert.Equal(t, ws.Entries, restored.Entries)
	})
}

func TestWorkingSet_UnmarshalReplacesContent(t *testing.T) {
	persisted := newWorkingSet()
	persisted.put([]string{"user.read"}, Token{Value: "persisted"})
	blob, err := persisted.Marshal()
	require.NoError(t, err)

	local := newWorkingSet()
	local.put([]string{"mail.read"}, Token{Value: "stale"})

	require.NoError(t, local.Unmarshal(blob))

	_, found := local.lookup([]string{"mail.read"})
	assert.False(t, found, "stale local entries must not survive a load")

	tok, found := local.lookup([]string{"user.read"})
	require.True(t, found)
	assert.Equal(t, "persisted", tok.Value)
}

func TestWorkingSet_UnmarshalEmptyObject(t *testing.T) {
	ws := newWorkingSet()
	require.NoError(t, ws.Unmarshal([]byte(`{}`)))

	// The map is usable after restoring a blob with no entries.
	ws.put([]string{"user.read"}, Token{Value: "t"})
	_, found := ws.lookup([]string{"user.read"})
	assert.True(t, found)
}

func TestWorkingSet_UnmarshalRejectsGarbage(t *testing.T) {
	ws := newWorkingSet()
	assert.Error(t, ws.Unmarshal([]byte("not json")))
}

func TestScopeKey_OrderInsensitive(t *testing.T) {
	assert.Equal(t,
		scopeKey([]string{"b", "a", "c"}),
		scopeKey([]string{"c", "b", "a"}))

	assert.NotEqual(t,
		scopeKey([]string{"a"}),
		scopeKey([]string{"a", "b"}))
}
