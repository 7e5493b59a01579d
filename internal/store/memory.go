package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dtalero78/bot-bsl-sub000/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store, used in tests and for
// ephemeral local runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	flows         map[string]*models.FlowDefinition
	seen          map[string]struct{}
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.Conversation),
		flows:         make(map[string]*models.FlowDefinition),
		seen:          make(map[string]struct{}),
	}
}

func (s *InMemoryStore) GetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[userID]
	if !ok {
		return nil, nil
	}
	copied := *conv
	copied.Messages = append([]models.Message(nil), conv.Messages...)
	return &copied, nil
}

func (s *InMemoryStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *conv
	copied.Messages = append([]models.Message(nil), conv.Messages...)
	if copied.CreatedAt.IsZero() {
		if prev, ok := s.conversations[conv.UserID]; ok {
			copied.CreatedAt = prev.CreatedAt
		} else {
			copied.CreatedAt = time.Now()
		}
	}
	copied.UpdatedAt = time.Now()
	s.conversations[conv.UserID] = &copied
	return nil
}

func (s *InMemoryStore) SetObservations(ctx context.Context, userID, value string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[userID]
	if !ok {
		conv = &models.Conversation{UserID: userID, Phase: models.PhaseInicial, CreatedAt: time.Now()}
		s.conversations[userID] = conv
	}
	conv.Observations = value
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		copied := *conv
		copied.Messages = append([]models.Message(nil), conv.Messages...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteConversation(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, userID)
	return nil
}

func (s *InMemoryStore) SaveFlowDefinition(ctx context.Context, name string, def *models.FlowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[name] = def
	return nil
}

func (s *InMemoryStore) GetFlowDefinition(ctx context.Context, name string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.flows[name]
	if !ok {
		return nil, nil
	}
	return def, nil
}

func (s *InMemoryStore) MarkMessageSeen(ctx context.Context, userID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "\x00" + fingerprint
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *InMemoryStore) Close() error { return nil }
