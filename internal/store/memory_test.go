package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := NewSession("s1", "demo")
	s.State = sampleState("goal", 1)
	require.NoError(t, m.Save(ctx, s))

	// Mutating the caller's copy does not leak into the store.
	s.Name = "changed"
	loaded, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.Name)

	// Nor does mutating a loaded copy.
	loaded.State.Goal = "other"
	again, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "goal", again.State.Goal)

	sums, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 1)

	require.NoError(t, m.Delete(ctx, "s1"))
	assert.ErrorIs(t, m.Delete(ctx, "s1"), ErrSessionNotFound)
	_, err = m.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, m.Close())
}

func TestStoresSatisfyInterface(t *testing.T) {
	var _ Store = (*FileStore)(nil)
	var _ Store = (*MemoryStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
