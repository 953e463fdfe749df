package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/cellmate/framework"
)

type memoryHistory struct {
	mu      sync.Mutex
	entries []framework.Interaction
}

func (m *memoryHistory) Append(ctx context.Context, entry framework.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryHistory) Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []framework.Interaction
	for _, e := range m.entries {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeDocument struct {
	snapshot string
	applied  []string
	selected string
}

func (d *fakeDocument) Select(ref string) error {
	if strings.Contains(ref, "?") {
		return fmt.Errorf("bad range %q", ref)
	}
	d.selected = ref
	return nil
}

func (d *fakeDocument) Snapshot(maxRows, maxChars int) (string, error) { return d.snapshot, nil }

func (d *fakeDocument) WriteActiveCell(text string) (string, error) {
	d.applied = append(d.applied, text)
	return "Sheet1!C3", nil
}

func newTestSession(t *testing.T, model framework.LanguageModel, doc Document, store HistoryStore) *Session {
	t.Helper()
	cfg := framework.DefaultConfig(framework.ProviderOllama, "test")
	registry, err := framework.NewToolRegistry()
	require.NoError(t, err)
	return NewSession(NewLoop(model, registry, cfg), NewBatchRunner(model, cfg), doc, store)
}

func TestSessionRejectsConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	model := &scriptedModel{before: func(ctx context.Context, _ int, _ framework.ChatRequest) error {
		close(started)
		<-ctx.Done()
		return framework.ErrCancelled
	}}
	session := newTestSession(t, model, nil, nil)

	done := make(chan Outcome, 1)
	go func() {
		outcome, err := session.Send(context.Background(), "first", nil)
		assert.NoError(t, err)
		done <- outcome
	}()
	<-started

	_, err := session.Send(context.Background(), "second", nil)
	assert.ErrorIs(t, err, framework.ErrBusy)
	_, err = session.RunBatch(context.Background(), "x", newMemoryRows("a"))
	assert.ErrorIs(t, err, framework.ErrBusy)
	id, running := session.Running()
	assert.True(t, running)
	assert.NotEmpty(t, id)

	assert.True(t, session.Stop())
	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeCancelled, outcome.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not stop")
	}

	_, running = session.Running()
	assert.False(t, running)
	assert.False(t, session.Stop())
}

func TestSessionSelectionChangesOnlyWhenClaimed(t *testing.T) {
	started := make(chan struct{})
	model := &scriptedModel{before: func(ctx context.Context, _ int, _ framework.ChatRequest) error {
		close(started)
		<-ctx.Done()
		return framework.ErrCancelled
	}}
	doc := &fakeDocument{}
	session := newTestSession(t, model, doc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := session.SendSelection(context.Background(), "A1:A2", "first", nil)
		assert.NoError(t, err)
	}()
	<-started
	assert.Equal(t, "A1:A2", doc.selected)

	_, err := session.SendSelection(context.Background(), "B5:B9", "second", nil)
	assert.ErrorIs(t, err, framework.ErrBusy)
	assert.Equal(t, "A1:A2", doc.selected)

	session.Stop()
	<-done

	_, err = session.SendSelection(context.Background(), "??", "third", nil)
	assert.ErrorIs(t, err, ErrInvalidSelection)
	_, running := session.Running()
	assert.False(t, running)
}

func TestSessionReplaysHistoryAndSnapshot(t *testing.T) {
	store := &memoryHistory{}
	model := &scriptedModel{replies: []string{"first answer", "second answer"}}
	doc := &fakeDocument{snapshot: "Address: Sheet1!A1:A2\nValues: [[1],[2]]"}
	session := newTestSession(t, model, doc, store)

	out, err := session.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "first answer", out.Text)

	_, err = session.Send(context.Background(), "and now?", nil)
	require.NoError(t, err)

	msgs := model.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, framework.Message{Role: framework.RoleUser, Content: "hello"}, msgs[1])
	assert.Equal(t, framework.Message{Role: framework.RoleAssistant, Content: "first answer"}, msgs[2])
	assert.Equal(t, "[Selected cells: Address: Sheet1!A1:A2\nValues: [[1],[2]]]\n\nand now?", msgs[3].Content)
	assert.Len(t, store.entries, 4)
}

func TestSessionInvocationIDReachesModel(t *testing.T) {
	var seen string
	model := &scriptedModel{
		replies: []string{"ok"},
		before: func(ctx context.Context, _ int, _ framework.ChatRequest) error {
			inv, _ := framework.InvocationFrom(ctx)
			seen = inv.ID
			return nil
		},
	}
	session := newTestSession(t, model, nil, nil)
	_, err := session.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Len(t, seen, 36)
}

func TestSessionApplyLastResponse(t *testing.T) {
	doc := &fakeDocument{}
	session := newTestSession(t, &scriptedModel{replies: []string{"42"}}, doc, nil)

	_, err := session.ApplyLastResponse()
	assert.Error(t, err)

	_, err = session.Send(context.Background(), "what is six times seven", nil)
	require.NoError(t, err)
	addr, err := session.ApplyLastResponse()
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!C3", addr)
	assert.Equal(t, []string{"42"}, doc.applied)
}

func TestSessionRunBatch(t *testing.T) {
	model := &rowModel{reply: func(_ context.Context, v string) (string, error) { return v + "!", nil }}
	session := newTestSession(t, model, nil, nil)
	rows := newMemoryRows("a", "b")

	report, err := session.RunBatch(context.Background(), "shout", rows)

	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, report.Status)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, map[int]string{0: "a!", 1: "b!"}, rows.writes)
}
