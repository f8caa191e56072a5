package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/boomerdev01-max/linkaia-sub001/internal/crypto"
	"github.com/boomerdev01-max/linkaia-sub001/internal/metrics"
	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/repository"
	"go.uber.org/zap"
)

// hydrate turns stored rows into API messages, preserving order. Rows that fail
// to decrypt carry crypto.DecryptedFallback instead of failing the batch.
func (s *ChatService) hydrate(ctx context.Context, store repository.ChatStore, rows []models.StoredMessage) ([]models.Message, error) {
	messages := make([]models.Message, 0, len(rows))
	if len(rows) == 0 {
		return messages, nil
	}

	messageIDs := make([]int64, 0, len(rows))
	senderSet := make(map[int64]struct{}, len(rows))
	replySet := make(map[int64]struct{})
	for _, row := range rows {
		messageIDs = append(messageIDs, row.ID)
		senderSet[row.SenderID] = struct{}{}
		if row.ReplyToID != nil {
			replySet[*row.ReplyToID] = struct{}{}
		}
	}

	replies, err := store.GetMessagesByIDs(ctx, keys(replySet))
	if err != nil {
		return nil, fmt.Errorf("load reply targets: %w", err)
	}
	for _, reply := range replies {
		senderSet[reply.SenderID] = struct{}{}
	}

	identities, err := store.GetIdentities(ctx, keys(senderSet))
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}
	media, err := store.ListMediaForMessages(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("load media: %w", err)
	}
	reactionRows, err := store.ListReactionsForMessages(ctx, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("load reactions: %w", err)
	}

	for _, row := range rows {
		message := models.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			ClientID:       row.ClientID,
			Sender:         identityOf(identities, row.SenderID),
			Content:        s.decryptContent(&row),
			Kind:           row.Kind,
			IsEdited:       row.IsEdited,
			IsDeleted:      row.IsDeleted,
			IsPinned:       row.IsPinned,
			ReplyToID:      row.ReplyToID,
			Media:          media[row.ID],
			Reactions:      reactionRows[row.ID],
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
		if message.Media == nil {
			message.Media = []models.MessageMedia{}
		}
		if message.Reactions == nil {
			message.Reactions = []models.MessageReaction{}
		}
		if row.ReplyToID != nil {
			if reply, ok := replies[*row.ReplyToID]; ok {
				message.ReplyTo = &models.ReplyPreview{
					ID:         reply.ID,
					SenderID:   reply.SenderID,
					SenderName: identityOf(identities, reply.SenderID).Name,
					Content:    s.decryptContent(&reply),
					Kind:       reply.Kind,
					IsDeleted:  reply.IsDeleted,
				}
			}
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *ChatService) decryptContent(row *models.StoredMessage) *string {
	if row.IsDeleted || !row.HasContent() {
		return nil
	}
	plaintext, err := s.codec.Decrypt(row.Ciphertext, row.IV)
	if err != nil {
		metrics.DecryptFailures.Inc()
		s.log.Warn("decrypt message", zap.Int64("message_id", row.ID), zap.Error(err))
		fallback := crypto.DecryptedFallback
		return &fallback
	}
	return &plaintext
}

func identityOf(identities map[int64]models.Sender, userID int64) models.Sender {
	if identity, ok := identities[userID]; ok {
		return identity
	}
	return models.Sender{ID: userID}
}

func keys(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortTypingUsers(users []models.TypingUser) {
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
}
