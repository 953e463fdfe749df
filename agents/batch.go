package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lexcodex/cellmate/framework"
)

const batchSystemPrompt = "You are a data processing assistant. Do not chat; return only the result."

// RowSource is a one-column input range whose results are written into the
// adjacent column of the same row.
type RowSource interface {
	Values(ctx context.Context) ([]string, error)
	WriteResult(ctx context.Context, row int, text string) error
}

// BatchStatus summarizes a batch run.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
)

// RowOutcome records what happened to one row. Row is zero-based.
type RowOutcome struct {
	Row    int    `json:"row"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Status string `json:"status"`
}

// BatchReport is returned by every batch run, including cancelled ones.
type BatchReport struct {
	ID     string       `json:"id,omitempty"`
	Status BatchStatus  `json:"status"`
	Total  int          `json:"total"`
	Rows   []RowOutcome `json:"rows"`
}

// Counts tallies row outcomes by status.
func (r BatchReport) Counts() map[string]int {
	counts := make(map[string]int)
	for _, row := range r.Rows {
		counts[row.Status]++
	}
	return counts
}

// BatchRunner applies one instruction to every row with a single model call
// per row. No tools are extracted.
type BatchRunner struct {
	Model  framework.LanguageModel
	Config *framework.Config
}

// NewBatchRunner wires a runner to model.
func NewBatchRunner(model framework.LanguageModel, cfg *framework.Config) *BatchRunner {
	if cfg == nil {
		cfg = framework.DefaultConfig("", "")
	}
	cfg.ApplyDefaults()
	return &BatchRunner{Model: model, Config: cfg}
}

// BatchPrompt builds the one-shot prompt for a row value.
func BatchPrompt(instruction, value string) string {
	return fmt.Sprintf("Apply the following instruction to the text below.\nInstruction: %s\n\nTarget text:\n%s\n\nOutput only the result.", instruction, value)
}

func (b *BatchRunner) debugf(format string, args ...interface{}) {
	if b.Config == nil || !b.Config.DebugAgent {
		return
	}
	log.Printf("[batch] "+format, args...)
}

func (b *BatchRunner) telemetry() framework.Telemetry {
	if b.Config == nil {
		return nil
	}
	return b.Config.Telemetry
}

// Run processes rows in order. Blank rows are skipped and left untouched. A
// failed model call writes "Error: <message>" into that row's target and the
// run continues. Cancellation stops before the next row and yields a partial
// report without an error. The returned error is reserved for host failures:
// reading the range or writing a result.
func (b *BatchRunner) Run(ctx context.Context, instruction string, rows RowSource) (BatchReport, error) {
	if b.Config == nil {
		b.Config = framework.DefaultConfig("", "")
	}
	b.Config.ApplyDefaults()
	inv, _ := framework.InvocationFrom(ctx)
	report := BatchReport{ID: inv.ID, Status: BatchCompleted}

	values, err := rows.Values(ctx)
	if err != nil {
		return report, fmt.Errorf("read batch range: %w", err)
	}
	report.Total = len(values)
	sink := b.telemetry()
	framework.Emit(sink, framework.Event{
		Type:         framework.EventBatchStart,
		InvocationID: inv.ID,
		Total:        len(values),
		Status:       framework.StatusRunning,
		Message:      instruction,
	})
	finish := func(status string) {
		framework.Emit(sink, framework.Event{
			Type:         framework.EventBatchFinish,
			InvocationID: inv.ID,
			Total:        len(values),
			Status:       status,
			Message:      fmt.Sprintf("%d/%d rows processed", len(report.Rows), len(values)),
		})
	}

	for i, value := range values {
		if ctx.Err() != nil {
			report.Status = BatchPartial
			finish(framework.StatusCancelled)
			return report, nil
		}
		outcome := RowOutcome{Row: i, Input: value}
		if strings.TrimSpace(value) == "" {
			b.debugf("row %d: blank, skipped", i+1)
			outcome.Status = framework.StatusSkipped
			report.Rows = append(report.Rows, outcome)
			b.emitRow(inv.ID, i, len(values), outcome)
			continue
		}

		reply, err := b.Model.Send(ctx, framework.ChatRequest{
			Options: b.Config.Options(),
			Messages: []framework.Message{
				{Role: framework.RoleSystem, Content: batchSystemPrompt},
				{Role: framework.RoleUser, Content: BatchPrompt(instruction, value)},
			},
		})
		if err != nil && (errors.Is(err, framework.ErrCancelled) || framework.IsCancellation(err)) {
			report.Status = BatchPartial
			finish(framework.StatusCancelled)
			return report, nil
		}
		if err != nil {
			b.debugf("row %d: %v", i+1, err)
			outcome.Status = framework.StatusError
			outcome.Output = "Error: " + err.Error()
		} else {
			outcome.Status = framework.StatusSuccess
			outcome.Output = strings.TrimSpace(reply)
		}
		if werr := rows.WriteResult(context.WithoutCancel(ctx), i, outcome.Output); werr != nil {
			finish(framework.StatusError)
			return report, fmt.Errorf("write row %d: %w", i+1, werr)
		}
		report.Rows = append(report.Rows, outcome)
		b.emitRow(inv.ID, i, len(values), outcome)
	}
	finish(framework.StatusSuccess)
	return report, nil
}

func (b *BatchRunner) emitRow(invocation string, row, total int, outcome RowOutcome) {
	framework.Emit(b.telemetry(), framework.Event{
		Type:         framework.EventBatchRow,
		InvocationID: invocation,
		Step:         row + 1,
		Total:        total,
		Status:       outcome.Status,
		Message:      outcome.Output,
	})
}
