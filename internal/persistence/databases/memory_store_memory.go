package databases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weavechat/internal/persistence"
)

// MemoryMemoryStore is an in-process persistence.MemoryStore.
type MemoryMemoryStore struct {
	mu      sync.Mutex
	records map[string]persistence.MemoryRecord
	byConv  map[string][]string // conversationID -> record IDs in insertion order
	seq     int64
}

// NewMemoryMemoryStore constructs an empty MemoryMemoryStore.
func NewMemoryMemoryStore() *MemoryMemoryStore {
	return &MemoryMemoryStore{
		records: make(map[string]persistence.MemoryRecord),
		byConv:  make(map[string][]string),
	}
}

func (s *MemoryMemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryMemoryStore) LatestCompleted(ctx context.Context, conversationID string) (persistence.MemoryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best persistence.MemoryRecord
	found := false
	for _, id := range s.byConv[conversationID] {
		rec := s.records[id]
		if rec.Status != persistence.MemoryCompleted {
			continue
		}
		if !found || rec.EndSequence > best.EndSequence {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryMemoryStore) HasProcessing(ctx context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byConv[conversationID] {
		if s.records[id].Status == persistence.MemoryProcessing {
			return true, nil
		}
	}
	return false, nil
}

// BeginProcessing inserts rec as a new processing record, refusing if one
// already exists for the conversation. The check-and-insert happens under
// the store's single mutex, making it atomic with HasProcessing.
func (s *MemoryMemoryStore) BeginProcessing(ctx context.Context, rec persistence.MemoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byConv[rec.ConversationID] {
		if s.records[id].Status == persistence.MemoryProcessing {
			return "", fmt.Errorf("conversation %s already has a processing memory record", rec.ConversationID)
		}
	}
	s.seq++
	rec.ID = fmt.Sprintf("mem-%d", s.seq)
	rec.Status = persistence.MemoryProcessing
	rec.CreatedAt = time.Now().UTC()
	s.records[rec.ID] = rec
	s.byConv[rec.ConversationID] = append(s.byConv[rec.ConversationID], rec.ID)
	return rec.ID, nil
}

func (s *MemoryMemoryStore) CompleteProcessing(ctx context.Context, memoryID, memoryText string, generationTimeMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memoryID]
	if !ok {
		return persistence.ErrNotFound
	}
	rec.Status = persistence.MemoryCompleted
	rec.MemoryText = memoryText
	rec.GenerationTimeMS = generationTimeMS
	s.records[memoryID] = rec
	return nil
}

func (s *MemoryMemoryStore) FailProcessing(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memoryID]
	if !ok {
		return persistence.ErrNotFound
	}
	rec.Status = persistence.MemoryFailed
	s.records[memoryID] = rec
	return nil
}
