package acquire

import (
	"encoding/json"
	"slices"
	"strings"
)

// workingSet is the in-memory token cache representation for one
// operation. It satisfies cachesync.Serializer: Unmarshal replaces the
// content wholesale, so state loaded from the store never merges with
// stale local entries. The serialized form is what the store persists;
// the store itself treats it as opaque.
type workingSet struct {
	Entries map[string]Token `json:"entries"`
}

func newWorkingSet() *workingSet {
	return &workingSet{Entries: make(map[string]Token)}
}

// scopeKey normalizes a scope set so lookup is order-insensitive.
func scopeKey(scopes []string) string {
	sorted := slices.Clone(scopes)
	slices.Sort(sorted)
	return strings.Join(sorted, " ")
}

func (w *workingSet) lookup(scopes []string) (Token, bool) {
	tok, ok := w.Entries[scopeKey(scopes)]
	return tok, ok
}

func (w *workingSet) put(scopes []string, tok Token) {
	w.Entries[scopeKey(scopes)] = tok
}

// Marshal serializes the working set.
func (w *workingSet) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// Unmarshal replaces the working set content entirely with the blob's.
func (w *workingSet) Unmarshal(blob []byte) error {
	replacement := workingSet{}
	if err := json.Unmarshal(blob, &replacement); err != nil {
		return err
	}

	if replacement.Entries == nil {
		replacement.Entries = make(map[string]Token)
	}
	w.Entries = replacement.Entries

	return nil
}
