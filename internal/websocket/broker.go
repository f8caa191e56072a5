package chatws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const SubjectPrefix = "linkaia.chat.conversation."

func ConversationSubject(conversationID int64) string {
	return SubjectPrefix + strconv.FormatInt(conversationID, 10)
}

// Broker moves events between instances. Every instance subscribes to every
// conversation subject and filters locally by room membership.
type Broker interface {
	Publish(ctx context.Context, event models.Event) error
	Subscribe(ctx context.Context, deliver func(models.Event)) error
	Close() error
}

// LocalBroker loops events straight back into this process.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver func(models.Event)
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Publish(_ context.Context, event models.Event) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(event)
	}
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, deliver func(models.Event)) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	return nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
	return nil
}

func ConnectNATS(url string, log *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("linkaia-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
}

type NATSBroker struct {
	conn *nats.Conn
	log  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSBroker(conn *nats.Conn, log *zap.Logger) *NATSBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSBroker{conn: conn, log: log}
}

func (b *NATSBroker) Publish(_ context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(ConversationSubject(event.ConversationID), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(_ context.Context, deliver func(models.Event)) error {
	sub, err := b.conn.Subscribe(SubjectPrefix+"*", func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.log.Warn("drop malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		deliver(event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
