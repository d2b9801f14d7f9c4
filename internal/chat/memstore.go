package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ConversationStore for tests and
// database-less development.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*Conversation
	messages map[uuid.UUID][]*Message
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[uuid.UUID]*Conversation),
		messages: make(map[uuid.UUID][]*Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) owned(id uuid.UUID, userID string) *Conversation {
	c, ok := s.convs[id]
	if !ok || c.UserID != userID {
		return nil
	}
	return c
}

func (s *MemoryStore) Create(_ context.Context, userID, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	c := &Conversation{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.convs[c.ID] = c
	cc := *c
	return &cc, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID, userID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.owned(id, userID)
	if c == nil {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, limit, offset int) ([]*Conversation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Conversation
	for _, c := range s.convs {
		if c.UserID == userID {
			cc := *c
			all = append(all, &cc)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].UpdatedAt.After(all[k].UpdatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) UpdateTitle(_ context.Context, id uuid.UUID, userID, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.owned(id, userID)
	if c == nil {
		return nil, ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = s.now()
	cc := *c
	return &cc, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(id, userID) == nil {
		return ErrNotFound
	}
	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, id uuid.UUID, userID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(id, userID) == nil {
		return nil, ErrNotFound
	}
	msgs := make([]*Message, 0, len(s.messages[id]))
	for _, m := range s.messages[id] {
		mm := *m
		msgs = append(msgs, &mm)
	}
	sort.SliceStable(msgs, func(i, k int) bool { return msgs[i].CreatedAt.Before(msgs[k].CreatedAt) })
	return msgs, nil
}

func (s *MemoryStore) add(id uuid.UUID, role, content, model string) *Message {
	m := &Message{
		ID:             uuid.New(),
		ConversationID: id,
		Role:           role,
		Content:        content,
		Model:          model,
		CreatedAt:      s.now(),
	}
	s.messages[id] = append(s.messages[id], m)
	s.convs[id].UpdatedAt = m.CreatedAt
	mm := *m
	return &mm
}

func (s *MemoryStore) AddMessage(_ context.Context, id uuid.UUID, userID, role, content, model string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(id, userID) == nil {
		return nil, ErrNotFound
	}
	return s.add(id, role, content, model), nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, messageID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID == messageID {
				if s.owned(convID, userID) == nil {
					return ErrNotFound
				}
				s.messages[convID] = append(msgs[:i], msgs[i+1:]...)
				s.convs[convID].UpdatedAt = s.now()
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveUserMessage(_ context.Context, id uuid.UUID, userID, content string) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(id, userID) == nil {
		return nil, false, ErrNotFound
	}

	msgs := s.messages[id]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		if msgs[i].Content == content && s.now().Sub(msgs[i].CreatedAt) < UserDedupeWindow {
			mm := *msgs[i]
			return &mm, true, nil
		}
		break
	}
	return s.add(id, "user", content, ""), false, nil
}

func (s *MemoryStore) SaveAssistantMessage(_ context.Context, id uuid.UUID, userID, content, model string) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned(id, userID) == nil {
		return nil, false, ErrNotFound
	}
	for _, m := range s.messages[id] {
		if m.Role == "assistant" && m.Content == content && m.Model == model {
			mm := *m
			return &mm, false, nil
		}
	}
	return s.add(id, "assistant", content, model), true, nil
}

func (s *MemoryStore) MaybeAutoTitle(_ context.Context, id uuid.UUID, userID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.owned(id, userID)
	if c == nil {
		return ErrNotFound
	}
	if c.Title != DefaultTitle {
		return nil
	}
	if title := GenerateTitle(source); title != DefaultTitle {
		c.Title = title
		c.UpdatedAt = s.now()
	}
	return nil
}
