package store

import (
	"context"
	"sync"

	"github.com/novolei/HChat-sub000/internal/models"
)

// MemoryStore is an in-memory PendingStore for tests and ephemeral runs.
// Records do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	msgs  map[string]*models.ChatMessage
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string]*models.ChatMessage)}
}

func (s *MemoryStore) Put(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.msgs[msg.ID]; !ok {
		s.order = append(s.order, msg.ID)
	}
	s.msgs[msg.ID] = clone(msg)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(msg), nil
}

func (s *MemoryStore) Update(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.msgs[msg.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = msg.Status
	cur.RetryCount = msg.RetryCount
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.ChatMessage
	for _, id := range s.order {
		msg, ok := s.msgs[id]
		if !ok || msg.Status.Resolved() || msg.Status == models.StatusFailed {
			continue
		}
		pending = append(pending, clone(msg))
	}
	return pending, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.msgs {
		if !msg.Status.Resolved() && msg.Status != models.StatusFailed {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(msg *models.ChatMessage) *models.ChatMessage {
	c := *msg
	if msg.Attachments != nil {
		c.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	}
	if msg.ReplyTo != nil {
		ref := *msg.ReplyTo
		c.ReplyTo = &ref
	}
	return &c
}
