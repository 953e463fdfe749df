package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/cellmate/framework"
)

// HistoryStore persists chat entries per conversation.
type HistoryStore interface {
	Append(ctx context.Context, entry framework.Interaction) error
	Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error)
}

// Document is the part of the host workbook a session needs directly.
type Document interface {
	Select(ref string) error
	Snapshot(maxRows, maxChars int) (string, error)
	WriteActiveCell(text string) (string, error)
}

// ErrInvalidSelection wraps a range the document refused to select.
var ErrInvalidSelection = errors.New("invalid selection")

// Session serializes top-level invocations against one document. At most one
// loop or batch run is active; Stop cancels it.
type Session struct {
	Loop             *Loop
	Batch            *BatchRunner
	Document         Document
	History          HistoryStore
	ConversationID   string
	IncludeSelection bool

	mu           sync.Mutex
	cancel       context.CancelFunc
	active       string
	lastResponse string
}

// NewSession builds a session that replays history from store. Either of doc
// and store may be nil.
func NewSession(loop *Loop, batch *BatchRunner, doc Document, store HistoryStore) *Session {
	return &Session{
		Loop:             loop,
		Batch:            batch,
		Document:         doc,
		History:          store,
		ConversationID:   "default",
		IncludeSelection: doc != nil,
	}
}

func (s *Session) config() *framework.Config {
	if s.Loop != nil && s.Loop.Config != nil {
		return s.Loop.Config
	}
	return framework.DefaultConfig("", "")
}

func (s *Session) debugf(format string, args ...interface{}) {
	if !s.config().DebugAgent {
		return
	}
	log.Printf("[session] "+format, args...)
}

// begin claims the session for one invocation.
func (s *Session) begin(ctx context.Context, kind framework.InvocationKind, instruction string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, nil, framework.ErrBusy
	}
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	runCtx = framework.WithInvocation(runCtx, framework.Invocation{ID: id, Kind: kind, Instruction: instruction})
	s.cancel = cancel
	s.active = id
	done := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cancel()
		s.cancel = nil
		s.active = ""
	}
	return runCtx, done, nil
}

// Running reports the active invocation ID, if any.
func (s *Session) Running() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.cancel != nil
}

// Stop cancels the active invocation. It reports false when nothing runs.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Send runs the agent loop for prompt. ErrBusy is returned while another
// invocation is active; every other failure is carried in the Outcome.
func (s *Session) Send(ctx context.Context, prompt string, image *framework.Image) (Outcome, error) {
	return s.SendSelection(ctx, "", prompt, image)
}

// SendSelection is Send with the document selection moved to ref first. The
// selection changes only once the session is claimed, so a request rejected
// with ErrBusy leaves the running invocation's range alone.
func (s *Session) SendSelection(ctx context.Context, ref, prompt string, image *framework.Image) (Outcome, error) {
	if s.Loop == nil {
		return Outcome{}, errors.New("session has no agent loop")
	}
	runCtx, done, err := s.begin(ctx, framework.InvocationLoop, prompt)
	if err != nil {
		return Outcome{}, err
	}
	defer done()
	if ref != "" && s.Document != nil {
		if err := s.Document.Select(ref); err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
		}
	}

	cfg := s.config()
	req := Request{Prompt: prompt, Image: image}
	if s.History != nil {
		history, err := s.History.Recent(runCtx, s.ConversationID, max(cfg.HistoryWindow, 0))
		if err != nil {
			s.debugf("history unavailable: %v", err)
		}
		req.History = history
	}
	if s.IncludeSelection && s.Document != nil {
		// A failed snapshot only drops the prefix.
		if snapshot, err := s.Document.Snapshot(cfg.SnapshotMaxRows, cfg.SnapshotMaxChars); err == nil {
			req.Snapshot = snapshot
		} else {
			s.debugf("selection snapshot failed: %v", err)
		}
	}
	s.remember(runCtx, framework.RoleUser, prompt)

	outcome := s.Loop.Run(runCtx, req)
	if outcome.Status == OutcomeSuccess {
		s.mu.Lock()
		s.lastResponse = outcome.Text
		s.mu.Unlock()
		s.remember(runCtx, framework.RoleAssistant, outcome.Text)
	}
	return outcome, nil
}

func (s *Session) remember(ctx context.Context, role framework.Role, text string) {
	if s.History == nil {
		return
	}
	entry := framework.Interaction{
		ConversationID: s.ConversationID,
		Role:           role,
		Content:        text,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.History.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.debugf("history append failed: %v", err)
	}
}

// RunBatch applies instruction to every row of rows under the session guard.
func (s *Session) RunBatch(ctx context.Context, instruction string, rows RowSource) (BatchReport, error) {
	if s.Batch == nil {
		return BatchReport{}, errors.New("session has no batch runner")
	}
	runCtx, done, err := s.begin(ctx, framework.InvocationBatch, instruction)
	if err != nil {
		return BatchReport{}, err
	}
	defer done()
	return s.Batch.Run(runCtx, instruction, rows)
}

// LastResponse returns the most recent successful answer.
func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// SetLastResponse seeds the answer used by ApplyLastResponse.
func (s *Session) SetLastResponse(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResponse = text
}

// ApplyLastResponse writes the last answer into the active cell and returns
// its address.
func (s *Session) ApplyLastResponse() (string, error) {
	text := s.LastResponse()
	if text == "" {
		return "", errors.New("no response to apply")
	}
	if s.Document == nil {
		return "", errors.New("session has no document")
	}
	addr, err := s.Document.WriteActiveCell(text)
	if err != nil {
		return "", fmt.Errorf("apply response: %w", err)
	}
	return addr, nil
}
