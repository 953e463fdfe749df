package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lexcodex/cellmate/framework"
)

// MaxHistoryEntries is the number of chat entries kept per conversation.
const MaxHistoryEntries = 15

// HistoryStore persists chat entries per conversation, keeping only the most
// recent MaxHistoryEntries.
type HistoryStore interface {
	Append(ctx context.Context, entry framework.Interaction) error
	Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error)
	List(ctx context.Context, conversationID string) ([]framework.Interaction, error)
	Clear(ctx context.Context, conversationID string) error
}

func checkAppend(ctx context.Context, entry framework.Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.ConversationID == "" {
		return errors.New("conversation id required")
	}
	return nil
}

func tail(entries []framework.Interaction, n int) []framework.Interaction {
	if n >= 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// MemoryHistoryStore keeps history in process.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]framework.Interaction
	nextID  int64
}

// NewMemoryHistoryStore returns an empty store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{entries: make(map[string][]framework.Interaction)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, entry framework.Interaction) error {
	if err := checkAppend(ctx, entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.entries[entry.ConversationID] = tail(append(s.entries[entry.ConversationID], entry), MaxHistoryEntries)
	return nil
}

func (s *MemoryHistoryStore) Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error) {
	all, err := s.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return tail(all, limit), nil
}

func (s *MemoryHistoryStore) List(ctx context.Context, conversationID string) ([]framework.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]framework.Interaction(nil), s.entries[conversationID]...), nil
}

func (s *MemoryHistoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
	return nil
}

// FileHistoryStore keeps one JSON file per conversation.
type FileHistoryStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileHistoryStore builds a store in the provided root directory.
func NewFileHistoryStore(root string) (*FileHistoryStore, error) {
	if root == "" {
		return nil, errors.New("history store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileHistoryStore{root: root}, nil
}

func (s *FileHistoryStore) pathFor(id string) string {
	return filepath.Join(s.root, filepath.Base(id)+".history.json")
}

// Append stores entry and trims the conversation.
func (s *FileHistoryStore) Append(ctx context.Context, entry framework.Interaction) error {
	if err := checkAppend(ctx, entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(entry.ConversationID)
	if err != nil {
		return err
	}
	if n := len(existing); n > 0 {
		entry.ID = existing[n-1].ID + 1
	} else {
		entry.ID = 1
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	existing = tail(append(existing, entry), MaxHistoryEntries)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(entry.ConversationID), data, 0o644)
}

// Recent returns the last limit entries.
func (s *FileHistoryStore) Recent(ctx context.Context, conversationID string, limit int) ([]framework.Interaction, error) {
	all, err := s.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return tail(all, limit), nil
}

// List returns the stored conversation, oldest first.
func (s *FileHistoryStore) List(ctx context.Context, conversationID string) ([]framework.Interaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(conversationID)
}

// Clear removes the stored conversation.
func (s *FileHistoryStore) Clear(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileHistoryStore) read(conversationID string) ([]framework.Interaction, error) {
	data, err := os.ReadFile(s.pathFor(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entries []framework.Interaction
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
