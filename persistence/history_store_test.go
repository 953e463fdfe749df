package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/cellmate/framework"
)

func stores(t *testing.T) map[string]HistoryStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	files, err := NewFileHistoryStore(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)
	return map[string]HistoryStore{
		"memory": NewMemoryHistoryStore(),
		"file":   files,
		"sqlite": sqlite,
	}
}

func TestHistoryStoresTrimAndOrder(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				role := framework.RoleUser
				if i%2 == 1 {
					role = framework.RoleAssistant
				}
				require.NoError(t, store.Append(ctx, framework.Interaction{
					ConversationID: "c1",
					Role:           role,
					Content:        fmt.Sprintf("msg %d", i),
				}))
			}
			require.NoError(t, store.Append(ctx, framework.Interaction{ConversationID: "c2", Role: framework.RoleUser, Content: "other"}))

			all, err := store.List(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, all, MaxHistoryEntries)
			assert.Equal(t, "msg 5", all[0].Content)
			assert.Equal(t, "msg 19", all[len(all)-1].Content)
			assert.False(t, all[0].Timestamp.IsZero())

			recent, err := store.Recent(ctx, "c1", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "msg 18", recent[0].Content)
			assert.Equal(t, framework.RoleAssistant, recent[1].Role)

			require.NoError(t, store.Clear(ctx, "c1"))
			all, err = store.List(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, all)

			other, err := store.Recent(ctx, "c2", 5)
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestHistoryStoreRequiresConversation(t *testing.T) {
	for name, store := range stores(t) {
		err := store.Append(context.Background(), framework.Interaction{Role: framework.RoleUser, Content: "x"})
		assert.Error(t, err, name)
	}
}

func TestSQLiteBatchLog(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordBatch(ctx, BatchRun{ID: "b1", Instruction: "translate", Range: "Sheet1!A1:A3", Status: "running", Total: 3, StartedAt: start}))
	require.NoError(t, store.RecordBatch(ctx, BatchRun{ID: "b1", Status: "completed", Total: 3, Succeeded: 2, Skipped: 1, StartedAt: start, FinishedAt: start.Add(time.Minute)}))
	require.NoError(t, store.RecordBatch(ctx, BatchRun{ID: "b2", Status: "partial", StartedAt: start.Add(time.Hour)}))

	runs, err := store.Batches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b2", runs[0].ID)
	assert.Equal(t, "completed", runs[1].Status)
	assert.Equal(t, "translate", runs[1].Instruction)
	assert.Equal(t, 2, runs[1].Succeeded)
	assert.True(t, runs[1].FinishedAt.Equal(start.Add(time.Minute)))

	assert.Error(t, store.RecordBatch(ctx, BatchRun{}))
}
