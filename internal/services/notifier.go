package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/segmentio/kafka-go"
)

const DefaultNotificationTopic = "messages.created"

// MessageNotification is what the notification subsystem learns about a new
// message. Content stays out of it; recipients fetch the message themselves.
type MessageNotification struct {
	MessageID      int64              `json:"message_id"`
	ConversationID int64              `json:"conversation_id"`
	SenderID       int64              `json:"sender_id"`
	SenderName     string             `json:"sender_name"`
	RecipientIDs   []int64            `json:"recipient_ids"`
	Kind           models.MessageKind `json:"kind"`
	MediaCount     int                `json:"media_count"`
	CreatedAt      time.Time          `json:"created_at"`
}

type Notifier interface {
	MessageCreated(ctx context.Context, notification MessageNotification) error
}

type NopNotifier struct{}

func (NopNotifier) MessageCreated(context.Context, MessageNotification) error { return nil }

type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultNotificationTopic
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// MessageCreated keys records by conversation so one conversation stays on one
// partition. The write is synchronous so delivery failures reach the caller,
// which already runs it off the request path.
func (n *KafkaNotifier) MessageCreated(ctx context.Context, notification MessageNotification) error {
	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(notification.ConversationID, 10)),
		Value: value,
		Time:  notification.CreatedAt,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
