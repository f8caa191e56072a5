package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	testDBOnce sync.Once
	testDBPool *pgxpool.Pool
	testDBErr  error
)

func TestPgStoreInsertMessageIsIdempotentByClientID(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(integrationTestPool(t))
	fx := seedConversation(t, ctx, store.pool)

	clientID := fmt.Sprintf("tmp-%d", time.Now().UnixNano())
	in := NewMessage{
		ConversationID: fx.conversationID,
		SenderID:       fx.alice,
		ClientID:       &clientID,
		Ciphertext:     []byte{1, 2, 3},
		IV:             []byte{4, 5, 6},
		Kind:           models.MessageText,
		CreatedAt:      time.Now().UTC(),
	}

	first, created, err := store.InsertMessage(ctx, in)
	if err != nil || !created {
		t.Fatalf("first InsertMessage: created=%v err=%v", created, err)
	}
	second, created, err := store.InsertMessage(ctx, in)
	if err != nil {
		t.Fatalf("second InsertMessage: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected the first row back, got created=%v id=%d want %d", created, second.ID, first.ID)
	}
}

func TestPgStoreListMessagesBeforeWalksBackwards(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(integrationTestPool(t))
	fx := seedConversation(t, ctx, store.pool)

	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 5; i++ {
		row, _, err := store.InsertMessage(ctx, NewMessage{
			ConversationID: fx.conversationID,
			SenderID:       fx.alice,
			Kind:           models.MessageText,
			Ciphertext:     []byte{byte(i)},
			IV:             []byte{byte(i)},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
		ids = append(ids, row.ID)
	}

	page, err := store.ListMessagesBefore(ctx, fx.conversationID, nil, 3)
	if err != nil {
		t.Fatalf("ListMessagesBefore: %v", err)
	}
	if len(page) != 3 || page[0].ID != ids[4] || page[2].ID != ids[2] {
		t.Fatalf("expected newest three first, got %+v", page)
	}

	cursor := page[2].ID
	older, err := store.ListMessagesBefore(ctx, fx.conversationID, &cursor, 3)
	if err != nil {
		t.Fatalf("ListMessagesBefore cursor: %v", err)
	}
	if len(older) != 2 || older[0].ID != ids[1] || older[1].ID != ids[0] {
		t.Fatalf("expected the two oldest, got %+v", older)
	}
}

func TestPgStoreWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(integrationTestPool(t))
	fx := seedConversation(t, ctx, store.pool)

	var insertedID int64
	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx ChatStore) error {
		row, _, err := tx.InsertMessage(ctx, NewMessage{
			ConversationID: fx.conversationID,
			SenderID:       fx.alice,
			Kind:           models.MessageText,
			Ciphertext:     []byte{9},
			IV:             []byte{9},
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		insertedID = row.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.GetMessage(ctx, insertedID); err == nil {
		t.Fatalf("message %d survived the rollback", insertedID)
	}
}

func TestPgStoreSoftDeleteClearsPin(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(integrationTestPool(t))
	fx := seedConversation(t, ctx, store.pool)

	row, _, err := store.InsertMessage(ctx, NewMessage{
		ConversationID: fx.conversationID,
		SenderID:       fx.alice,
		Kind:           models.MessageText,
		Ciphertext:     []byte{7},
		IV:             []byte{7},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if _, err := store.SetMessagePinned(ctx, row.ID, true, time.Now().UTC()); err != nil {
		t.Fatalf("SetMessagePinned: %v", err)
	}

	deleted, err := store.SoftDeleteMessage(ctx, row.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	if !deleted.IsDeleted || deleted.IsPinned || deleted.Ciphertext != nil {
		t.Fatalf("expected an unpinned tombstone, got %+v", deleted)
	}
}

func TestPgStoreReactionsAndIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewPgStore(integrationTestPool(t))
	fx := seedConversation(t, ctx, store.pool)

	row, _, err := store.InsertMessage(ctx, NewMessage{
		ConversationID: fx.conversationID,
		SenderID:       fx.alice,
		Kind:           models.MessageText,
		Ciphertext:     []byte{1},
		IV:             []byte{1},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	now := time.Now().UTC()
	if err := store.InsertReaction(ctx, row.ID, fx.bob, "👍", now); err != nil {
		t.Fatalf("InsertReaction: %v", err)
	}
	// a racing second insert from the same user replaces instead of adding a row
	if err := store.InsertReaction(ctx, row.ID, fx.bob, "❤️", now); err != nil {
		t.Fatalf("second InsertReaction: %v", err)
	}

	reaction, err := store.GetUserReaction(ctx, row.ID, fx.bob)
	if err != nil || reaction == nil || reaction.Emoji != "❤️" {
		t.Fatalf("GetUserReaction: %+v %v", reaction, err)
	}
	byMessage, err := store.ListReactionsForMessages(ctx, []int64{row.ID})
	if err != nil {
		t.Fatalf("ListReactionsForMessages: %v", err)
	}
	if len(byMessage[row.ID]) != 1 {
		t.Fatalf("expected one reaction row, got %+v", byMessage[row.ID])
	}

	identities, err := store.GetIdentities(ctx, []int64{fx.alice, fx.bob})
	if err != nil {
		t.Fatalf("GetIdentities: %v", err)
	}
	if identities[fx.alice].Name != "Alice Test" {
		t.Fatalf("expected profile name, got %q", identities[fx.alice].Name)
	}
	if identities[fx.bob].Name == "" {
		t.Fatalf("bob has no profile and should fall back to the email local part")
	}

	if err := store.MarkRead(ctx, fx.conversationID, fx.bob, now); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	participants, err := store.ListParticipants(ctx, fx.conversationID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	for _, participant := range participants {
		if participant.UserID == fx.bob && participant.LastReadAt == nil {
			t.Fatalf("bob's last_read_at was not set")
		}
	}
}

type conversationFixture struct {
	conversationID int64
	alice          int64
	bob            int64
}

func seedConversation(t *testing.T, ctx context.Context, pool *pgxpool.Pool) conversationFixture {
	t.Helper()

	suffix := time.Now().UnixNano()
	var fx conversationFixture
	if err := pool.QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id`,
		fmt.Sprintf("chat-alice-%d@example.com", suffix)).Scan(&fx.alice); err != nil {
		t.Fatalf("insert alice: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id`,
		fmt.Sprintf("chat-bob-%d@example.com", suffix)).Scan(&fx.bob); err != nil {
		t.Fatalf("insert bob: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO user_profiles (user_id, full_name) VALUES ($1, 'Alice Test')`, fx.alice); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO conversations (kind) VALUES ('direct') RETURNING id`).Scan(&fx.conversationID); err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
	`, fx.conversationID, fx.alice, fx.bob); err != nil {
		t.Fatalf("insert participants: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM conversations WHERE id = $1`, fx.conversationID)
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = ANY($1)`, []int64{fx.alice, fx.bob})
	})
	return fx
}

func integrationTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testDBOnce.Do(func() {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(filepath.Join("..", "..", ".env"))

		dbURL := os.Getenv("DB_URL")
		if dbURL == "" {
			testDBErr = fmt.Errorf("DB_URL is not set")
			return
		}

		testDBPool, testDBErr = pgxpool.New(context.Background(), dbURL)
		if testDBErr != nil {
			return
		}
		testDBErr = testDBPool.Ping(context.Background())
	})

	if testDBErr != nil {
		t.Skipf("skipping integration test: %v", testDBErr)
	}
	return testDBPool
}
