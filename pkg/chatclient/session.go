package chatclient

import (
	"sync"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

// Session holds one cache per open conversation for a signed-in viewer.
// Closing a conversation discards its cache; reopening starts empty.
type Session struct {
	mu     sync.Mutex
	viewer models.Sender
	caches map[int64]*Cache
}

func NewSession(viewer models.Sender) *Session {
	return &Session{
		viewer: viewer,
		caches: make(map[int64]*Cache),
	}
}

// Open returns the cache for conversationID, creating it on first open.
func (s *Session) Open(conversationID int64) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache, ok := s.caches[conversationID]; ok {
		return cache
	}
	cache := NewCache(conversationID, s.viewer)
	s.caches[conversationID] = cache
	return cache
}

func (s *Session) Close(conversationID int64) {
	s.mu.Lock()
	delete(s.caches, conversationID)
	s.mu.Unlock()
}

func (s *Session) Cache(conversationID int64) (*Cache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, ok := s.caches[conversationID]
	return cache, ok
}

// Dispatch routes a realtime event to its conversation's cache. Events for
// conversations that are not open are dropped.
func (s *Session) Dispatch(event Event) (AppendResult, error) {
	cache, ok := s.Cache(event.ConversationID)
	if !ok {
		return AppendResult{}, nil
	}
	return cache.ApplyEvent(event)
}

// Pump applies events until the channel closes. Malformed payloads are skipped.
func (s *Session) Pump(events <-chan Event, onApplied func(Event, AppendResult)) {
	for event := range events {
		result, err := s.Dispatch(event)
		if err != nil || !result.Applied || onApplied == nil {
			continue
		}
		onApplied(event, result)
	}
}
