package services

import (
	"chatbot/models"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrConversationNotFound = errors.New("conversation not found")

// MemoryConversationStore keeps the conversation log in process. Used for
// local runs without DynamoDB and in tests.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{sessions: make(map[string][]models.Conversation)}
}

func (s *MemoryConversationStore) SaveMessage(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now().UTC()
	}
	list := append(s.sessions[conv.SessionID], conv)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	s.sessions[conv.SessionID] = list
	return conv, nil
}

func (s *MemoryConversationStore) GetRecentConversations(ctx context.Context, sessionID string, limit int) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sessions[sessionID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]models.Conversation(nil), list...), nil
}

func (s *MemoryConversationStore) GetAllConversations(ctx context.Context, sessionID string) ([]models.Conversation, error) {
	return s.GetRecentConversations(ctx, sessionID, 0)
}

func (s *MemoryConversationStore) UpdateMessageFlag(ctx context.Context, sessionID, timestamp string, isLiked, isDisliked *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.sessions[sessionID]
	for i := range list {
		if FormatTimestamp(list[i].Timestamp) != timestamp {
			continue
		}
		if isLiked != nil {
			v := *isLiked
			list[i].IsLiked = &v
		}
		if isDisliked != nil {
			v := *isDisliked
			list[i].IsDisliked = &v
		}
		return nil
	}
	return ErrConversationNotFound
}
