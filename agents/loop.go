package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lexcodex/cellmate/framework"
)

const (
	emptyReplyNudge = "System: Empty response. Please continue."
	resultsPrefix   = "Results: "
	donePrefix      = "Done: "
)

// OutcomeStatus is the terminal state of one loop invocation.
type OutcomeStatus string

const (
	OutcomeSuccess   OutcomeStatus = "success"
	OutcomeError     OutcomeStatus = "error"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Request is the input to one loop invocation.
type Request struct {
	Prompt string
	// SystemPrompt overrides the intent-based selection when set.
	SystemPrompt string
	History      []framework.Interaction
	// Snapshot is the serialized selection, prepended to the prompt.
	Snapshot string
	Image    *framework.Image
}

// Outcome reports how an invocation ended. Err is set for error and
// cancelled outcomes; Iterations counts model requests issued.
type Outcome struct {
	Status     OutcomeStatus          `json:"status"`
	Text       string                 `json:"text"`
	Err        error                  `json:"-"`
	Iterations int                    `json:"iterations"`
	Messages   []framework.Message    `json:"-"`
	Results    []framework.ToolResult `json:"-"`
}

// Loop drives the request, extract, dispatch cycle against one registry.
type Loop struct {
	Model     framework.LanguageModel
	Tools     *framework.ToolRegistry
	Extractor *framework.Extractor
	Config    *framework.Config
}

// NewLoop wires a loop with an extractor over the registry.
func NewLoop(model framework.LanguageModel, registry *framework.ToolRegistry, cfg *framework.Config) *Loop {
	if cfg == nil {
		cfg = framework.DefaultConfig("", "")
	}
	cfg.ApplyDefaults()
	return &Loop{
		Model:     model,
		Tools:     registry,
		Extractor: framework.NewExtractor(registry),
		Config:    cfg,
	}
}

func (l *Loop) debugf(format string, args ...interface{}) {
	if l == nil || l.Config == nil || !l.Config.DebugAgent {
		return
	}
	log.Printf("[agent] "+format, args...)
}

func (l *Loop) telemetry() framework.Telemetry {
	if l.Config == nil {
		return nil
	}
	return l.Config.Telemetry
}

// Seed builds the opening conversation: one system instruction, the clipped
// history window, then the user request.
func (l *Loop) Seed(req Request) []framework.Message {
	cfg := l.Config
	system := req.SystemPrompt
	if system == "" {
		system = SelectSystemPrompt(req.Prompt)
	}
	messages := []framework.Message{{Role: framework.RoleSystem, Content: system}}

	history := req.History
	if window := max(cfg.HistoryWindow, 0); len(history) > window {
		history = history[len(history)-window:]
	}
	for _, entry := range history {
		role := framework.RoleUser
		if entry.Role == framework.RoleAssistant {
			role = framework.RoleAssistant
		}
		messages = append(messages, framework.Message{Role: role, Content: clipRunes(entry.Content, cfg.HistoryCharBudget)})
	}

	prompt := req.Prompt
	if snapshot := strings.TrimSpace(req.Snapshot); snapshot != "" {
		prompt = fmt.Sprintf("[Selected cells: %s]\n\n%s", snapshot, req.Prompt)
	}
	return append(messages, framework.Message{Role: framework.RoleUser, Content: prompt})
}

// Run executes one invocation until a final answer, an error, the iteration
// bound or cancellation of ctx.
func (l *Loop) Run(ctx context.Context, req Request) Outcome {
	if l.Config == nil {
		l.Config = framework.DefaultConfig("", "")
	}
	l.Config.ApplyDefaults()
	if l.Extractor == nil {
		l.Extractor = framework.NewExtractor(l.Tools)
	}
	cfg := l.Config
	inv, _ := framework.InvocationFrom(ctx)
	run := &loopRun{loop: l, invocation: inv.ID, messages: l.Seed(req)}

	framework.Emit(l.telemetry(), framework.Event{
		Type:         framework.EventLoopStart,
		InvocationID: inv.ID,
		Status:       framework.StatusRunning,
		Message:      clipRunes(req.Prompt, 80),
	})

	for {
		if ctx.Err() != nil {
			return run.cancelled()
		}
		if run.iteration >= cfg.MaxIterations {
			return run.fail(fmt.Errorf("%w after %d iterations", framework.ErrLoopLimitExceeded, run.iteration))
		}
		run.iteration++
		l.debugf("iteration %d: requesting (%d messages)", run.iteration, len(run.messages))

		chat := framework.ChatRequest{
			Options:  cfg.Options(),
			Messages: append([]framework.Message(nil), run.messages...),
		}
		if run.iteration == 1 {
			chat.Image = req.Image
		}
		reply, err := l.Model.Send(ctx, chat)
		if err != nil {
			if errors.Is(err, framework.ErrCancelled) || framework.IsCancellation(err) {
				return run.cancelled()
			}
			return run.fail(err)
		}

		if strings.TrimSpace(reply) == "" {
			l.debugf("iteration %d: empty reply, nudging", run.iteration)
			run.messages = append(run.messages, framework.Message{Role: framework.RoleSystem, Content: emptyReplyNudge})
			framework.Emit(l.telemetry(), framework.Event{
				Type:         framework.EventNotice,
				InvocationID: inv.ID,
				Iteration:    run.iteration,
				Status:       framework.StatusSkipped,
				Message:      "empty model reply",
			})
			continue
		}
		run.messages = append(run.messages, framework.Message{Role: framework.RoleAssistant, Content: reply})
		if ctx.Err() != nil {
			return run.cancelled()
		}

		calls := l.Extractor.Extract(reply)
		l.debugf("iteration %d: %d tool call(s)", run.iteration, len(calls))
		if len(calls) == 0 {
			return run.succeed(reply)
		}

		results, stopped := run.dispatch(ctx, calls)
		run.results = append(run.results, results...)
		if stopped {
			return run.cancelled()
		}
		if len(calls) == 1 && !results[0].Failed() {
			return run.succeed(donePrefix + results[0].String())
		}
		run.messages = append(run.messages, framework.Message{Role: framework.RoleUser, Content: FoldResults(results)})
	}
}

// FoldResults renders every tool outcome as the single user message fed back
// to the model.
func FoldResults(results []framework.ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.String())
	}
	return resultsPrefix + strings.Join(parts, " | ")
}

type loopRun struct {
	loop       *Loop
	invocation string
	iteration  int
	messages   []framework.Message
	results    []framework.ToolResult
}

// dispatch executes calls in order. Executors run detached from ctx so a host
// mutation that has started is allowed to finish; its result is dropped when
// ctx was cancelled meanwhile.
func (r *loopRun) dispatch(ctx context.Context, calls []framework.ToolCall) ([]framework.ToolResult, bool) {
	sink := r.loop.telemetry()
	results := make([]framework.ToolResult, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			return results, true
		}
		framework.Emit(sink, framework.Event{
			Type:         framework.EventToolCall,
			InvocationID: r.invocation,
			Iteration:    r.iteration,
			Step:         i + 1,
			Total:        len(calls),
			Tool:         call.Name,
			Status:       framework.StatusRunning,
			Metadata:     map[string]interface{}{"args": call.Args},
		})
		result := r.loop.Tools.Execute(context.WithoutCancel(ctx), call)
		if ctx.Err() != nil {
			r.loop.debugf("discarding %s result after cancellation", call.Name)
			return results, true
		}
		status := framework.StatusSuccess
		if result.Failed() {
			status = framework.StatusError
		}
		framework.Emit(sink, framework.Event{
			Type:         framework.EventToolResult,
			InvocationID: r.invocation,
			Iteration:    r.iteration,
			Step:         i + 1,
			Total:        len(calls),
			Tool:         call.Name,
			Status:       status,
			Message:      result.String(),
		})
		results = append(results, result)
	}
	return results, false
}

func (r *loopRun) finish(status OutcomeStatus, text string, err error) Outcome {
	framework.Emit(r.loop.telemetry(), framework.Event{
		Type:         framework.EventLoopFinish,
		InvocationID: r.invocation,
		Iteration:    r.iteration,
		Status:       string(status),
		Message:      text,
	})
	return Outcome{
		Status:     status,
		Text:       text,
		Err:        err,
		Iterations: r.iteration,
		Messages:   r.messages,
		Results:    r.results,
	}
}

func (r *loopRun) succeed(text string) Outcome {
	r.loop.debugf("finished after %d iteration(s)", r.iteration)
	return r.finish(OutcomeSuccess, text, nil)
}

func (r *loopRun) fail(err error) Outcome {
	r.loop.debugf("failed: %v", err)
	return r.finish(OutcomeError, err.Error(), err)
}

func (r *loopRun) cancelled() Outcome {
	r.loop.debugf("cancelled at iteration %d", r.iteration)
	return r.finish(OutcomeCancelled, "", framework.ErrCancelled)
}

// clipRunes keeps at most n runes of s.
func clipRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
