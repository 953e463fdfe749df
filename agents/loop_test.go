package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/cellmate/framework"
)

// scriptedModel replays canned replies and records every request it receives.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	requests []framework.ChatRequest
	// before runs ahead of each reply; a non-nil error is returned instead.
	before func(ctx context.Context, call int, req framework.ChatRequest) error
	// repeat answers every request past the script with the last reply.
	repeat bool
}

func (m *scriptedModel) Send(ctx context.Context, req framework.ChatRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests)
	m.mu.Unlock()
	if m.before != nil {
		if err := m.before(ctx, call, req); err != nil {
			return "", err
		}
	}
	if ctx.Err() != nil {
		return "", framework.ErrCancelled
	}
	idx := call - 1
	if idx >= len(m.replies) {
		if !m.repeat || len(m.replies) == 0 {
			return "", errors.New("script exhausted")
		}
		idx = len(m.replies) - 1
	}
	return m.replies[idx], nil
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// recorder registers tools that append their name to a shared log.
type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) tool(name string, fn func(args map[string]interface{}) (string, error)) framework.Tool {
	return framework.NewTool(framework.ToolSpec{Name: name, Description: name}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		r.mu.Lock()
		r.log = append(r.log, name)
		r.mu.Unlock()
		return fn(args)
	})
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func succeed(text string) func(map[string]interface{}) (string, error) {
	return func(map[string]interface{}) (string, error) { return text, nil }
}

func newTestLoop(t *testing.T, model framework.LanguageModel, tools ...framework.Tool) *Loop {
	t.Helper()
	registry, err := framework.NewToolRegistry(tools...)
	require.NoError(t, err)
	return NewLoop(model, registry, framework.DefaultConfig(framework.ProviderOllama, "test"))
}

func call(name string, args string) string {
	return fmt.Sprintf(`{"call":"%s","args":%s}`, name, args)
}

func TestLoopDispatchesInDiscoveryOrder(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{
		"First " + call("second_tool", `{}`) + " then " + call("first_tool", `{}`),
		"All done.",
	}}
	loop := newTestLoop(t, model, rec.tool("first_tool", succeed("SUCCESS: one")), rec.tool("second_tool", succeed("SUCCESS: two")))

	outcome := loop.Run(context.Background(), Request{Prompt: "do both"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "All done.", outcome.Text)
	assert.Equal(t, []string{"second_tool", "first_tool"}, rec.calls())
	assert.Equal(t, 2, outcome.Iterations)
	require.Equal(t, 2, model.calls())
	last := model.requests[1].Messages[len(model.requests[1].Messages)-1]
	assert.Equal(t, framework.RoleUser, last.Role)
	assert.Equal(t, "Results: second_tool: SUCCESS: two | first_tool: SUCCESS: one", last.Content)
}

func TestLoopSingleSuccessShortcut(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{
		`Sure. {"call":"write_to_excel","args":{"startCell":"A1","data":"x"}}`,
	}}
	var got map[string]interface{}
	write := rec.tool("write_to_excel", func(args map[string]interface{}) (string, error) {
		got = args
		return "SUCCESS: Wrote data to Sheet1!A1", nil
	})
	loop := newTestLoop(t, model, write)

	outcome := loop.Run(context.Background(), Request{Prompt: "write x"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "Done: write_to_excel: SUCCESS: Wrote data to Sheet1!A1", outcome.Text)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, map[string]interface{}{"startCell": "A1", "data": "x"}, got)
}

func TestLoopFailureFoldsAllResults(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{
		call("broken", `{}`) + "\n" + call("fine", `{}`),
		"Recovered.",
	}}
	broken := rec.tool("broken", func(map[string]interface{}) (string, error) { return "", errors.New("sheet locked") })
	loop := newTestLoop(t, model, broken, rec.tool("fine", succeed("SUCCESS: ok")))

	outcome := loop.Run(context.Background(), Request{Prompt: "go"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "Recovered.", outcome.Text)
	assert.Equal(t, []string{"broken", "fine"}, rec.calls())
	require.Equal(t, 2, model.calls())
	second := model.requests[1].Messages
	assert.Equal(t, "Results: broken: Error: sheet locked | fine: SUCCESS: ok", second[len(second)-1].Content)
	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results[0].Failed())
	assert.False(t, outcome.Results[1].Failed())
}

func TestLoopSingleFailedCallDoesNotShortcut(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{
		call("calc", `{}`),
		"The range had no numbers.",
	}}
	loop := newTestLoop(t, model, rec.tool("calc", succeed("ERROR: No numeric data found.")))

	outcome := loop.Run(context.Background(), Request{Prompt: "sum it"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "The range had no numbers.", outcome.Text)
	assert.Equal(t, 2, model.calls())
}

func TestLoopCancelledBeforeSecondRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	model := &scriptedModel{replies: []string{call("a", `{}`) + call("b", `{}`), "unreachable"}}
	a := rec.tool("a", func(map[string]interface{}) (string, error) { return "SUCCESS: a", nil })
	b := rec.tool("b", func(map[string]interface{}) (string, error) {
		cancel()
		return "SUCCESS: b", nil
	})
	loop := newTestLoop(t, model, a, b)

	outcome := loop.Run(ctx, Request{Prompt: "two steps"})

	assert.Equal(t, OutcomeCancelled, outcome.Status)
	assert.ErrorIs(t, outcome.Err, framework.ErrCancelled)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, []string{"a", "b"}, rec.calls())
	require.Len(t, outcome.Results, 1, "result of the call running at cancellation is discarded")
}

func TestLoopCancelStopsRemainingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	model := &scriptedModel{replies: []string{call("a", `{}`) + call("b", `{}`)}}
	a := rec.tool("a", func(map[string]interface{}) (string, error) {
		cancel()
		return "SUCCESS: a", nil
	})
	loop := newTestLoop(t, model, a, rec.tool("b", succeed("SUCCESS: b")))

	outcome := loop.Run(ctx, Request{Prompt: "go"})

	assert.Equal(t, OutcomeCancelled, outcome.Status)
	assert.Equal(t, []string{"a"}, rec.calls())
}

func TestLoopCancelledBeforeFirstRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &scriptedModel{replies: []string{"hi"}}
	outcome := newTestLoop(t, model).Run(ctx, Request{Prompt: "hello"})

	assert.Equal(t, OutcomeCancelled, outcome.Status)
	assert.Equal(t, 0, outcome.Iterations)
	assert.Zero(t, model.calls())
}

func TestLoopBackendCancellationIsNotAnError(t *testing.T) {
	model := &scriptedModel{before: func(context.Context, int, framework.ChatRequest) error {
		return fmt.Errorf("ollama: %w", framework.ErrCancelled)
	}}
	outcome := newTestLoop(t, model).Run(context.Background(), Request{Prompt: "hello"})
	assert.Equal(t, OutcomeCancelled, outcome.Status)
}

func TestLoopLimitExceeded(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{call("flaky", `{}`)}, repeat: true}
	loop := newTestLoop(t, model, rec.tool("flaky", succeed("Error: try again")))

	outcome := loop.Run(context.Background(), Request{Prompt: "loop forever"})

	assert.Equal(t, OutcomeError, outcome.Status)
	assert.ErrorIs(t, outcome.Err, framework.ErrLoopLimitExceeded)
	assert.Equal(t, framework.DefaultMaxIterations, outcome.Iterations)
	assert.Equal(t, framework.DefaultMaxIterations, model.calls())
	assert.Len(t, rec.calls(), framework.DefaultMaxIterations)
}

func TestLoopEmptyReplyNudges(t *testing.T) {
	model := &scriptedModel{replies: []string{"   ", "Here you go."}}
	outcome := newTestLoop(t, model).Run(context.Background(), Request{Prompt: "hello"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, "Here you go.", outcome.Text)
	assert.Equal(t, 2, outcome.Iterations)
	second := model.requests[1].Messages
	assert.Equal(t, framework.Message{Role: framework.RoleSystem, Content: "System: Empty response. Please continue."}, second[len(second)-1])
}

func TestLoopEmptyRepliesCountTowardLimit(t *testing.T) {
	model := &scriptedModel{replies: []string{""}, repeat: true}
	outcome := newTestLoop(t, model).Run(context.Background(), Request{Prompt: "hello"})
	assert.ErrorIs(t, outcome.Err, framework.ErrLoopLimitExceeded)
}

func TestLoopBackendErrorTerminates(t *testing.T) {
	model := &scriptedModel{before: func(context.Context, int, framework.ChatRequest) error {
		return &framework.BackendError{Provider: "ollama", Status: 500, Message: "model not loaded"}
	}}
	outcome := newTestLoop(t, model).Run(context.Background(), Request{Prompt: "hello"})

	assert.Equal(t, OutcomeError, outcome.Status)
	var backendErr *framework.BackendError
	require.ErrorAs(t, outcome.Err, &backendErr)
	assert.Equal(t, 500, backendErr.Status)
	assert.Equal(t, 1, model.calls())
}

func TestLoopAttachesImageOnlyOnFirstRequest(t *testing.T) {
	rec := &recorder{}
	model := &scriptedModel{replies: []string{call("a", `{}`) + call("b", `{}`), "ok"}}
	loop := newTestLoop(t, model, rec.tool("a", succeed("SUCCESS")), rec.tool("b", succeed("SUCCESS")))
	img := &framework.Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}

	loop.Run(context.Background(), Request{Prompt: "describe", Image: img})

	require.Equal(t, 2, model.calls())
	assert.Same(t, img, model.requests[0].Image)
	assert.Nil(t, model.requests[1].Image)
}

func TestLoopUnknownCallIsPlainAnswer(t *testing.T) {
	model := &scriptedModel{replies: []string{`Use {"call":"delete_everything","args":{}} carefully.`}}
	outcome := newTestLoop(t, model).Run(context.Background(), Request{Prompt: "hello"})

	assert.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Contains(t, outcome.Text, "delete_everything")
}

func TestSeedMessages(t *testing.T) {
	loop := newTestLoop(t, &scriptedModel{})
	history := []framework.Interaction{
		{Role: framework.RoleUser, Content: "oldest"},
		{Role: framework.RoleUser, Content: "previous question"},
		{Role: framework.RoleAssistant, Content: strings.Repeat("あ", 300)},
	}

	messages := loop.Seed(Request{Prompt: "make the header bold", History: history, Snapshot: "Address: Sheet1!A1\nValues: [[1]]"})

	require.Len(t, messages, 4)
	assert.Equal(t, framework.RoleSystem, messages[0].Role)
	assert.Equal(t, SystemPrompt(ModeDesign), messages[0].Content)
	assert.Equal(t, framework.Message{Role: framework.RoleUser, Content: "previous question"}, messages[1])
	assert.Equal(t, framework.RoleAssistant, messages[2].Role)
	assert.Equal(t, 200, len([]rune(messages[2].Content)))
	assert.Equal(t, "[Selected cells: Address: Sheet1!A1\nValues: [[1]]]\n\nmake the header bold", messages[3].Content)
}

func TestSeedWithoutHistoryWindow(t *testing.T) {
	loop := newTestLoop(t, &scriptedModel{})
	loop.Config.HistoryWindow = -1
	messages := loop.Seed(Request{Prompt: "hi", History: []framework.Interaction{{Role: framework.RoleUser, Content: "x"}}})
	assert.Len(t, messages, 2)
}

func TestLoopEmitsOneTerminalEvent(t *testing.T) {
	var mu sync.Mutex
	var events []framework.Event
	sink := framework.TelemetryFunc(func(e framework.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	rec := &recorder{}
	model := &scriptedModel{replies: []string{call("a", `{}`)}}
	loop := newTestLoop(t, model, rec.tool("a", succeed("SUCCESS: a")))
	loop.Config.Telemetry = sink
	ctx := framework.WithInvocation(context.Background(), framework.Invocation{ID: "inv-1", Kind: framework.InvocationLoop})

	loop.Run(ctx, Request{Prompt: "go"})

	var types []framework.EventType
	for _, e := range events {
		types = append(types, e.Type)
		assert.Equal(t, "inv-1", e.InvocationID)
	}
	assert.Equal(t, []framework.EventType{
		framework.EventLoopStart,
		framework.EventToolCall,
		framework.EventToolResult,
		framework.EventLoopFinish,
	}, types)
	assert.Equal(t, framework.StatusSuccess, events[len(events)-1].Status)
}

func TestSelectSystemPrompt(t *testing.T) {
	cases := []struct {
		text string
		mode PromptMode
	}{
		{"合計を出して", ModeFormula},
		{"Compute the SUM of B", ModeFormula},
		{"ヘッダーを太字に", ModeDesign},
		{"make a chart", ModeDesign},
		{"システムテストを実行", ModeDiagnostics},
		{"please run system test", ModeDiagnostics},
		{"hello there", ModeGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.mode, DetectMode(tc.text), tc.text)
	}
	assert.Contains(t, SelectSystemPrompt("run the system test"), "run_all_tests")
}
