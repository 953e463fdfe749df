package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lexcodex/cellmate/agents"
	"github.com/lexcodex/cellmate/framework"
	"github.com/lexcodex/cellmate/persistence"
	"github.com/lexcodex/cellmate/tools"
)

// BatchLog records finished batch runs.
type BatchLog interface {
	RecordBatch(ctx context.Context, run persistence.BatchRun) error
}

// Service is the transport-neutral surface shared by the HTTP API and the
// JSON-RPC bridge.
type Service struct {
	Session  *agents.Session
	Registry *framework.ToolRegistry
	Workbook *tools.Workbook
	History  persistence.HistoryStore
	BatchLog BatchLog
	// Logger receives failures that do not reach the caller; nil uses the
	// standard logger.
	Logger *log.Logger
}

// SendParams is the payload of a chat request.
type SendParams struct {
	Prompt string `json:"prompt"`
	// Image is base64 or a data URL.
	Image string `json:"image,omitempty"`
	// Selection selects a range before the snapshot is taken.
	Selection string `json:"selection,omitempty"`
}

// SendResult mirrors agents.Outcome on the wire.
type SendResult struct {
	Status     agents.OutcomeStatus `json:"status"`
	Text       string               `json:"text,omitempty"`
	Error      string               `json:"error,omitempty"`
	Iterations int                  `json:"iterations"`
	Results    []string             `json:"results,omitempty"`
	// Err is the outcome error of an error-terminated loop.
	Err error `json:"-"`
}

// BatchParams selects the input column and the instruction for a batch run.
type BatchParams struct {
	Instruction string `json:"instruction"`
	Range       string `json:"range,omitempty"`
}

// ApplyResult reports where the last answer was written.
type ApplyResult struct {
	Address string `json:"address"`
}

var errInvalidParams = errors.New("invalid params")

// Send runs one agent loop. The returned error is non-nil only for rejected
// requests (busy or invalid params); loop failures are carried in the result.
func (s *Service) Send(ctx context.Context, params SendParams) (SendResult, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return SendResult{}, fmt.Errorf("%w: prompt required", errInvalidParams)
	}
	var image *framework.Image
	if params.Image != "" {
		img, err := framework.DecodeImage(params.Image)
		if err != nil {
			return SendResult{}, fmt.Errorf("%w: image: %v", errInvalidParams, err)
		}
		image = &img
	}
	outcome, err := s.Session.SendSelection(ctx, params.Selection, params.Prompt, image)
	if errors.Is(err, agents.ErrInvalidSelection) {
		return SendResult{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if err != nil {
		return SendResult{}, err
	}
	result := SendResult{Status: outcome.Status, Text: outcome.Text, Iterations: outcome.Iterations}
	for _, r := range outcome.Results {
		result.Results = append(result.Results, r.String())
	}
	if outcome.Status == agents.OutcomeError && outcome.Err != nil {
		result.Error = outcome.Err.Error()
		result.Err = outcome.Err
	}
	return result, nil
}

// Stop cancels the running invocation.
func (s *Service) Stop() bool {
	return s.Session.Stop()
}

// Batch runs the batch runner over a column of the workbook and logs the run.
func (s *Service) Batch(ctx context.Context, params BatchParams) (agents.BatchReport, error) {
	if strings.TrimSpace(params.Instruction) == "" {
		return agents.BatchReport{}, fmt.Errorf("%w: instruction required", errInvalidParams)
	}
	if s.Workbook == nil {
		return agents.BatchReport{}, errors.New("no workbook open")
	}
	rows, err := tools.NewColumnRows(s.Workbook, params.Range)
	if err != nil {
		return agents.BatchReport{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	started := time.Now().UTC()
	report, runErr := s.Session.RunBatch(ctx, params.Instruction, rows)
	if errors.Is(runErr, framework.ErrBusy) {
		return report, runErr
	}
	if s.BatchLog != nil && report.ID != "" {
		counts := report.Counts()
		status := string(report.Status)
		if runErr != nil {
			status = framework.StatusError
		}
		run := persistence.BatchRun{
			ID:          report.ID,
			Instruction: params.Instruction,
			Range:       rows.Address(),
			Status:      status,
			Total:       report.Total,
			Succeeded:   counts[framework.StatusSuccess],
			Failed:      counts[framework.StatusError],
			Skipped:     counts[framework.StatusSkipped],
			StartedAt:   started,
			FinishedAt:  time.Now().UTC(),
		}
		if err := s.BatchLog.RecordBatch(context.WithoutCancel(ctx), run); err != nil {
			s.logf("[batch] record run %s: %v", run.ID, err)
		}
	}
	return report, runErr
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Tools lists the registered tool specs.
func (s *Service) Tools() []framework.ToolSpec {
	return s.Registry.Describe()
}

// HistoryList returns the stored conversation of the session.
func (s *Service) HistoryList(ctx context.Context) ([]framework.Interaction, error) {
	if s.History == nil {
		return nil, nil
	}
	return s.History.List(ctx, s.Session.ConversationID)
}

// HistoryClear deletes the stored conversation of the session.
func (s *Service) HistoryClear(ctx context.Context) error {
	if s.History == nil {
		return nil
	}
	return s.History.Clear(ctx, s.Session.ConversationID)
}

// Apply writes the last answer into the active cell.
func (s *Service) Apply() (ApplyResult, error) {
	addr, err := s.Session.ApplyLastResponse()
	return ApplyResult{Address: addr}, err
}
