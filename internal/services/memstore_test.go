package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/repository"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory repository.ChatStore. Transactions run inline.
type memStore struct {
	mu sync.Mutex

	nextMessageID  int64
	nextMediaID    int64
	nextReactionID int64

	users         map[int64]models.Sender
	conversations map[int64]models.Conversation
	participants  map[int64]map[int64]*models.Participant
	messages      map[int64]*models.StoredMessage
	media         map[int64][]models.MessageMedia
	reactions     map[int64]*models.MessageReaction

	markReadCalls int
}

var _ repository.ChatStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[int64]models.Sender),
		conversations: make(map[int64]models.Conversation),
		participants:  make(map[int64]map[int64]*models.Participant),
		messages:      make(map[int64]*models.StoredMessage),
		media:         make(map[int64][]models.MessageMedia),
		reactions:     make(map[int64]*models.MessageReaction),
	}
}

func (s *memStore) addUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = models.Sender{ID: id, Name: name}
}

func (s *memStore) addConversation(id int64, userIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = models.Conversation{ID: id, Kind: models.ConversationGroup}
	members := make(map[int64]*models.Participant, len(userIDs))
	for _, userID := range userIDs {
		members[userID] = &models.Participant{ConversationID: id, UserID: userID}
	}
	s.participants[id] = members
}

func (s *memStore) message(id int64) models.StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *memStore) setCreatedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id].CreatedAt = at
}

func (s *memStore) corrupt(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id].Ciphertext[0] ^= 0xff
}

func (s *memStore) reactionCount(messageID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, reaction := range s.reactions {
		if reaction.MessageID == messageID {
			count++
		}
	}
	return count
}

func (s *memStore) lastReadAt(conversationID, userID int64) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[conversationID][userID].LastReadAt
}

func (s *memStore) GetIdentity(_ context.Context, userID int64) (*models.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (s *memStore) GetIdentities(_ context.Context, userIDs []int64) (map[int64]models.Sender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identities := make(map[int64]models.Sender, len(userIDs))
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			identities[id] = user
		}
	}
	return identities, nil
}

func (s *memStore) GetConversation(_ context.Context, conversationID int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &conversation, nil
}

func (s *memStore) IsParticipant(_ context.Context, conversationID int64, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[conversationID][userID]
	return ok, nil
}

func (s *memStore) ListParticipants(_ context.Context, conversationID int64) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participants := make([]models.Participant, 0)
	for _, participant := range s.participants[conversationID] {
		participants = append(participants, *participant)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].UserID < participants[j].UserID })
	return participants, nil
}

func (s *memStore) TouchConversation(_ context.Context, conversationID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation := s.conversations[conversationID]
	conversation.LastActivityAt = at
	s.conversations[conversationID] = conversation
	return nil
}

func (s *memStore) MarkRead(_ context.Context, conversationID int64, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReadCalls++
	participant, ok := s.participants[conversationID][userID]
	if !ok {
		return nil
	}
	if participant.LastReadAt == nil || participant.LastReadAt.Before(at) {
		readAt := at
		participant.LastReadAt = &readAt
	}
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, in repository.NewMessage) (*models.StoredMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ClientID != nil {
		for _, existing := range s.messages {
			if existing.ConversationID == in.ConversationID &&
				existing.SenderID == in.SenderID &&
				existing.ClientID != nil && *existing.ClientID == *in.ClientID {
				copied := *existing
				return &copied, false, nil
			}
		}
	}

	s.nextMessageID++
	message := &models.StoredMessage{
		ID:             s.nextMessageID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ClientID:       in.ClientID,
		Ciphertext:     in.Ciphertext,
		IV:             in.IV,
		Kind:           in.Kind,
		ReplyToID:      in.ReplyToID,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.CreatedAt,
	}
	s.messages[message.ID] = message
	copied := *message
	return &copied, true, nil
}

func (s *memStore) InsertMedia(_ context.Context, messageID int64, media []models.MessageMedia) ([]models.MessageMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := make([]models.MessageMedia, 0, len(media))
	for _, item := range media {
		s.nextMediaID++
		item.ID = s.nextMediaID
		item.MessageID = messageID
		inserted = append(inserted, item)
	}
	s.media[messageID] = append(s.media[messageID], inserted...)
	return inserted, nil
}

func (s *memStore) GetMessage(_ context.Context, messageID int64) (*models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *message
	return &copied, nil
}

func (s *memStore) GetMessagesByIDs(_ context.Context, messageIDs []int64) (map[int64]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[int64]models.StoredMessage, len(messageIDs))
	for _, id := range messageIDs {
		if message, ok := s.messages[id]; ok {
			byID[id] = *message
		}
	}
	return byID, nil
}

func newestFirst(messages []models.StoredMessage) {
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.After(messages[j].CreatedAt)
		}
		return messages[i].ID > messages[j].ID
	})
}

func olderThan(message, anchor *models.StoredMessage) bool {
	if message.CreatedAt.Equal(anchor.CreatedAt) {
		return message.ID < anchor.ID
	}
	return message.CreatedAt.Before(anchor.CreatedAt)
}

func (s *memStore) ListMessagesBefore(_ context.Context, conversationID int64, beforeID *int64, limit int) ([]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var anchor *models.StoredMessage
	if beforeID != nil {
		anchor = s.messages[*beforeID]
	}

	window := make([]models.StoredMessage, 0)
	for _, message := range s.messages {
		if message.ConversationID != conversationID {
			continue
		}
		if anchor != nil && !olderThan(message, anchor) {
			continue
		}
		window = append(window, *message)
	}
	newestFirst(window)
	if len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

func (s *memStore) ListPinnedMessages(_ context.Context, conversationID int64, limit int) ([]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := make([]models.StoredMessage, 0)
	for _, message := range s.messages {
		if message.ConversationID == conversationID && message.IsPinned && !message.IsDeleted {
			pinned = append(pinned, *message)
		}
	}
	newestFirst(pinned)
	if len(pinned) > limit {
		pinned = pinned[:limit]
	}
	return pinned, nil
}

func (s *memStore) UpdateMessageContent(_ context.Context, messageID int64, ciphertext, iv []byte, at time.Time) (*models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	message.Ciphertext = ciphertext
	message.IV = iv
	message.IsEdited = true
	message.UpdatedAt = at
	copied := *message
	return &copied, nil
}

func (s *memStore) SoftDeleteMessage(_ context.Context, messageID int64, at time.Time) (*models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if !message.IsDeleted {
		message.UpdatedAt = at
	}
	message.Ciphertext = nil
	message.IV = nil
	message.IsDeleted = true
	message.IsPinned = false
	copied := *message
	return &copied, nil
}

func (s *memStore) SetMessagePinned(_ context.Context, messageID int64, pinned bool, at time.Time) (*models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	message.IsPinned = pinned
	message.UpdatedAt = at
	copied := *message
	return &copied, nil
}

func (s *memStore) ListMediaForMessages(_ context.Context, messageIDs []int64) (map[int64][]models.MessageMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMessage := make(map[int64][]models.MessageMedia, len(messageIDs))
	for _, id := range messageIDs {
		if media, ok := s.media[id]; ok {
			byMessage[id] = append([]models.MessageMedia(nil), media...)
		}
	}
	return byMessage, nil
}

func (s *memStore) GetUserReaction(_ context.Context, messageID int64, userID int64) (*models.MessageReaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reaction := range s.reactions {
		if reaction.MessageID == messageID && reaction.UserID == userID {
			copied := *reaction
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memStore) InsertReaction(_ context.Context, messageID int64, userID int64, emoji string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReactionID++
	s.reactions[s.nextReactionID] = &models.MessageReaction{
		ID:        s.nextReactionID,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: at,
	}
	return nil
}

func (s *memStore) UpdateReactionEmoji(_ context.Context, reactionID int64, emoji string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reaction, ok := s.reactions[reactionID]; ok {
		reaction.Emoji = emoji
		reaction.CreatedAt = at
	}
	return nil
}

func (s *memStore) DeleteReaction(_ context.Context, reactionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions, reactionID)
	return nil
}

func (s *memStore) ListReactionsForMessages(_ context.Context, messageIDs []int64) (map[int64][]models.MessageReaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	byMessage := make(map[int64][]models.MessageReaction)
	for _, reaction := range s.reactions {
		if wanted[reaction.MessageID] {
			byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], *reaction)
		}
	}
	for id := range byMessage {
		rows := byMessage[id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	}
	return byMessage, nil
}

func (s *memStore) WithinTx(_ context.Context, fn func(repository.ChatStore) error) error {
	return fn(s)
}
