// File: cmd/sessions_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/checkpoint"
	"github.com/xkilldash9x/webpilot/internal/store"
)

// seededStore holds one session with a manual checkpoint and two auto-saves.
func seededStore(t *testing.T) (*store.MemoryStore, *checkpoint.Manager, string) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := checkpoint.NewManager(zaptest.NewLogger(t), st, nil, checkpoint.DefaultConfig())
	require.NoError(t, m.BindSession(ctx, "shop-1", "weekly groceries"))

	state := interruptedState()
	state.Goal = "Buy milk on shop.example.com"
	require.NotNil(t, m.AutoSave(ctx, state))
	state.IterationCount = 2
	require.NotNil(t, m.AutoSave(ctx, state))
	manual := m.CreateCheckpoint(ctx, state, "before-pay", "cart filled")
	require.NotNil(t, manual)
	return st, m, manual.ID
}

func TestListSessions(t *testing.T) {
	st, _, _ := seededStore(t)
	var out bytes.Buffer

	require.NoError(t, listSessions(context.Background(), st, false, &out))
	text := out.String()
	assert.Contains(t, text, "ID")
	assert.Contains(t, text, "shop-1")
	assert.Contains(t, text, "weekly groceries")
	assert.Contains(t, text, "Buy milk on shop.example.com")

	out.Reset()
	require.NoError(t, listSessions(context.Background(), store.NewMemoryStore(), false, &out))
	assert.Equal(t, "No sessions.\n", out.String())
}

func TestListSessions_JSON(t *testing.T) {
	st, _, _ := seededStore(t)
	var out bytes.Buffer

	require.NoError(t, listSessions(context.Background(), st, true, &out))
	var sums []store.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &sums))
	require.Len(t, sums, 1)
	assert.Equal(t, "shop-1", sums[0].ID)
	assert.Equal(t, 3, sums[0].Checkpoints)
}

func TestShowSession(t *testing.T) {
	st, _, _ := seededStore(t)
	var out bytes.Buffer

	require.NoError(t, showSession(context.Background(), st, "shop-1", false, &out))
	text := out.String()
	assert.Contains(t, text, "Session:     shop-1 (weekly groceries)")
	assert.Contains(t, text, "Checkpoints: 3")
	assert.Contains(t, text, "Goal:        Buy milk on shop.example.com")
	assert.Contains(t, text, "Status:      "+string(schemas.StatusPaused))

	err := showSession(context.Background(), st, "nope", false, &out)
	assert.EqualError(t, err, "session nope not found")
}

func TestDeleteSessions(t *testing.T) {
	st, _, _ := seededStore(t)
	var out bytes.Buffer

	err := deleteSessions(context.Background(), st, []string{"shop-1", "../bad"}, &out, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete 1 session(s)")
	assert.Contains(t, out.String(), "Deleted shop-1")

	_, err = st.Load(context.Background(), "shop-1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestListCheckpoints(t *testing.T) {
	_, m, manualID := seededStore(t)
	var out bytes.Buffer

	require.NoError(t, listCheckpoints(context.Background(), m, false, &out))
	text := out.String()
	assert.Contains(t, text, manualID)
	assert.Contains(t, text, "before-pay")
	assert.Contains(t, text, "cart filled")
	assert.Contains(t, text, "yes", "auto-saves are marked")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "買い物か...", clip("買い物かごを確認", 4))
	assert.Equal(t, "first", clip("first\nsecond", 10))
	assert.Equal(t, "-", orDash(""))
}
