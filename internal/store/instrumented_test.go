package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore records calls for wrapper delegation tests.
type stubStore struct {
	blob    []byte
	found   bool
	err     error
	atomic  bool
	gets    int
	sets    int
	removes int
	closed  bool
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.gets++
	return s.blob, s.found, s.err
}

func (s *stubStore) Set(ctx context.Context, key string, blob []byte) error {
	s.sets++
	return s.err
}

func (s *stubStore) Invalidate(ctx context.Context, key string) error {
	s.removes++
	return s.err
}

func (s *stubStore) Atomic() bool { return s.atomic }

func (s *stubStore) Close() error {
	s.closed = true
	return nil
}

func TestInstrumented_DelegatesGet(t *testing.T) {
	ctx := context.Background()
	stub := &stubStore{blob: []byte("state"), found: true}
	i := NewInstrumented(stub, "stub")

	blob, found, err := i.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("state"), blob)
	assert.Equal(t, 1, stub.gets)
}

func TestInstrumented_DelegatesSetAndInvalidate(t *testing.T) {
	ctx := context.Background()
	stub := &stubStore{}
	i := NewInstrumented(stub, "stub")

	require.NoError(t, i.Set(ctx, "key", []byte("state")))
	require.NoError(t, i.Invalidate(ctx, "key"))

	assert.Equal(t, 1, stub.sets)
	assert.Equal(t, 1, stub.removes)
}

func TestInstrumented_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend failure")
	stub := &stubStore{err: boom}
	i := NewInstrumented(stub, "stub")

	_, _, err := i.Get(ctx, "key")
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, i.Set(ctx, "key", nil), boom)
	assert.ErrorIs(t, i.Invalidate(ctx, "key"), boom)
}

func TestInstrumented_AtomicPassthrough(t *testing.T) {
	assert.False(t, NewInstrumented(&stubStore{atomic: false}, "stub").Atomic())
	assert.True(t, NewInstrumented(&stubStore{atomic: true}, "stub").Atomic())
}

func TestInstrumented_Close(t *testing.T) {
	stub := &stubStore{}
	i := NewInstrumented(stub, "stub")

	require.NoError(t, i.Close())
	assert.True(t, stub.closed)
}
