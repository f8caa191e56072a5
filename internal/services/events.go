package services

import (
	"context"

	"github.com/boomerdev01-max/linkaia-sub001/internal/metrics"
	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"go.uber.org/zap"
)

// Publisher hands an event to the fan-out layer. Implementations must not block
// on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.Event) error { return nil }

func publishEvent(
	ctx context.Context,
	publisher Publisher,
	log *zap.Logger,
	eventType models.EventType,
	conversationID int64,
	originSession string,
	payload any,
) {
	event, err := models.NewEvent(eventType, conversationID, originSession, payload)
	if err != nil {
		log.Error("encode event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Warn("publish event",
			zap.String("type", string(eventType)),
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
}
