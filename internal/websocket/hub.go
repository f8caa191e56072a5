package chatws

import (
	"context"
	"encoding/json"

	"github.com/boomerdev01-max/linkaia-sub001/internal/metrics"
	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"go.uber.org/zap"
)

const broadcastBuffer = 256

type roomChange struct {
	client         *Client
	conversationID int64
}

// Hub owns all room membership; only the Run goroutine touches rooms and clients.
type Hub struct {
	rooms       map[int64]map[*Client]struct{}
	clients     map[*Client]struct{}
	register    chan *Client
	unregister  chan *Client
	subscribe   chan roomChange
	unsubscribe chan roomChange
	broadcast   chan models.Event
	done        chan struct{}

	broker Broker
	log    *zap.Logger
}

func NewHub(broker Broker, log *zap.Logger) *Hub {
	if broker == nil {
		broker = NewLocalBroker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:       make(map[int64]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan roomChange),
		unsubscribe: make(chan roomChange),
		broadcast:   make(chan models.Event, broadcastBuffer),
		done:        make(chan struct{}),
		broker:      broker,
		log:         log,
	}
}

// Publish hands the event to the broker; delivery happens on whichever
// instances hold subscribers.
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	return h.broker.Publish(ctx, event)
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if err := h.broker.Subscribe(ctx, h.enqueue); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return nil
		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.ActiveConnections.Inc()
		case client := <-h.unregister:
			h.drop(client)
		case change := <-h.subscribe:
			if _, ok := h.clients[change.client]; !ok {
				continue
			}
			room, ok := h.rooms[change.conversationID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[change.conversationID] = room
			}
			room[change.client] = struct{}{}
			change.client.rooms[change.conversationID] = struct{}{}
		case change := <-h.unsubscribe:
			h.leave(change.client, change.conversationID)
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Subscribe(client *Client, conversationID int64) {
	select {
	case h.subscribe <- roomChange{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(client *Client, conversationID int64) {
	select {
	case h.unsubscribe <- roomChange{client: client, conversationID: conversationID}:
	case <-h.done:
	}
}

func (h *Hub) enqueue(event models.Event) {
	select {
	case h.broadcast <- event:
	default:
		metrics.EventsDropped.Inc()
		h.log.Warn("hub broadcast queue full",
			zap.String("type", string(event.Type)),
			zap.Int64("conversation_id", event.ConversationID),
		)
	}
}

func (h *Hub) deliver(event models.Event) {
	room, ok := h.rooms[event.ConversationID]
	if !ok {
		return
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		h.log.Error("encode event", zap.Error(err))
		return
	}

	for client := range room {
		if event.OriginSession != "" && client.origin == event.OriginSession {
			continue
		}
		select {
		case client.send <- encoded:
		default:
			metrics.EventsDropped.Inc()
			h.log.Warn("dropping slow client",
				zap.Int64("user_id", client.userID),
				zap.String("session_id", client.sessionID),
			)
			h.drop(client)
		}
	}
}

func (h *Hub) leave(client *Client, conversationID int64) {
	delete(client.rooms, conversationID)
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for conversationID := range client.rooms {
		h.leave(client, conversationID)
	}
	delete(h.clients, client)
	close(client.done)
	metrics.ActiveConnections.Dec()
}
