package chatclient

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
	"github.com/boomerdev01-max/linkaia-sub001/internal/reactions"
	"github.com/google/uuid"
)

// NearBottomThreshold is how close to the end of the list, in pixels, the
// viewport must be for new messages to scroll it.
const NearBottomThreshold = 150.0

// typingTTL mirrors the server's presence TTL so a lost stop event still clears.
const typingTTL = 5 * time.Second

type (
	Message         = models.Message
	MessageMedia    = models.MessageMedia
	MessageReaction = models.MessageReaction
	MessagePage     = models.MessagePage
	MessageKind     = models.MessageKind
	Event           = models.Event
)

type SendStatus int

const (
	StatusConfirmed SendStatus = iota
	StatusPending
	StatusFailed
)

func (s SendStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("SendStatus(%d)", int(s))
	}
}

var (
	ErrUnknownTempID = errors.New("chatclient: unknown temp id")
	ErrNotFailed     = errors.New("chatclient: entry has not failed")
	ErrNotPending    = errors.New("chatclient: entry is not pending")
)

// Draft is what an optimistic send needs to be replayed. Media holds only
// attachments that already uploaded.
type Draft struct {
	Content   string
	Kind      models.MessageKind
	ReplyToID *int64
	Media     []MessageMedia
}

// Entry is one row of the local list. TempID is set only while an optimistic
// send is pending or failed; confirmation discards it.
type Entry struct {
	TempID  string
	Message Message
	Status  SendStatus
	Err     error
	Draft   *Draft
}

type AppendResult struct {
	Applied    bool
	AutoScroll bool
}

type TypingState struct {
	UserID    int64
	UserName  string
	ExpiresAt time.Time
}

// Cache is the local, ordered view of one open conversation. Realtime events
// and send completions arrive on different goroutines; every method locks.
type Cache struct {
	mu sync.Mutex

	conversationID int64
	viewer         models.Sender
	now            func() time.Time

	entries []*Entry
	byID    map[int64]*Entry
	byTemp  map[string]*Entry
	typing  map[int64]TypingState

	nearBottom bool
	nextCursor *string
	hasMore    bool
	loaded     bool
}

func NewCache(conversationID int64, viewer models.Sender) *Cache {
	return &Cache{
		conversationID: conversationID,
		viewer:         viewer,
		now:            time.Now,
		byID:           make(map[int64]*Entry),
		byTemp:         make(map[string]*Entry),
		typing:         make(map[int64]TypingState),
		nearBottom:     true,
	}
}

func (c *Cache) ConversationID() int64 {
	return c.conversationID
}

// SetViewport records how far, in pixels, the viewport is from the bottom.
func (c *Cache) SetViewport(distanceFromBottom float64) {
	c.mu.Lock()
	c.nearBottom = distanceFromBottom <= NearBottomThreshold
	c.mu.Unlock()
}

func (c *Cache) NearBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nearBottom
}

// PrependPage merges a page of older history (oldest first, as the API
// returns it) in front of what is loaded. Messages already present are skipped.
func (c *Cache) PrependPage(page MessagePage) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	older := make([]*Entry, 0, len(page.Messages))
	for _, message := range page.Messages {
		if _, ok := c.byID[message.ID]; ok {
			continue
		}
		entry := &Entry{Message: message, Status: StatusConfirmed}
		c.byID[message.ID] = entry
		older = append(older, entry)
	}
	c.entries = append(older, c.entries...)

	c.nextCursor = page.NextCursor
	c.hasMore = page.HasMore
	c.loaded = true
	return len(older)
}

// Cursor returns where the next older page starts and whether one exists.
func (c *Cache) Cursor() (cursor string, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return "", true
	}
	if c.nextCursor != nil {
		cursor = *c.nextCursor
	}
	return cursor, c.hasMore
}

// AddOptimistic appends a pending entry rendered from the draft and returns its
// temp id, which doubles as the client_id of the send.
func (c *Cache) AddOptimistic(draft Draft) (string, AppendResult) {
	tempID := uuid.NewString()
	now := c.now()

	content := draft.Content
	kind := draft.Kind
	if kind == "" {
		kind = models.InferKind(content, draft.Media)
	}
	message := Message{
		ConversationID: c.conversationID,
		SenderID:       c.viewer.ID,
		ClientID:       &tempID,
		Sender:         c.viewer,
		Kind:           kind,
		ReplyToID:      draft.ReplyToID,
		Media:          append([]MessageMedia{}, draft.Media...),
		Reactions:      []MessageReaction{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if content != "" {
		message.Content = &content
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry{TempID: tempID, Message: message, Status: StatusPending, Draft: &draft}
	c.entries = append(c.entries, entry)
	c.byTemp[tempID] = entry
	return tempID, AppendResult{Applied: true, AutoScroll: c.nearBottom}
}

// UpdateDraft replaces the replay data of a pending entry, e.g. once uploads
// have settled.
func (c *Cache) UpdateDraft(tempID string, draft Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTemp[tempID]
	if !ok {
		return ErrUnknownTempID
	}
	if entry.Status != StatusPending {
		return ErrNotPending
	}
	entry.Draft = &draft
	entry.Message.Media = append([]MessageMedia{}, draft.Media...)
	return nil
}

// Confirm swaps the pending entry for the server's message in the same
// position and forgets the temp id. If the message already arrived some other
// way, that copy is dropped.
func (c *Cache) Confirm(tempID string, message Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTemp[tempID]
	if !ok {
		return ErrUnknownTempID
	}

	if existing, ok := c.byID[message.ID]; ok && existing != entry {
		c.removeLocked(existing)
	}

	delete(c.byTemp, tempID)
	entry.TempID = ""
	entry.Message = message
	entry.Status = StatusConfirmed
	entry.Err = nil
	entry.Draft = nil
	c.byID[message.ID] = entry
	return nil
}

func (c *Cache) Fail(tempID string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTemp[tempID]
	if !ok {
		return ErrUnknownTempID
	}
	if entry.Status == StatusConfirmed {
		return ErrNotPending
	}
	entry.Status = StatusFailed
	entry.Err = err
	return nil
}

// Retry moves a failed entry back to pending and returns what to resend.
func (c *Cache) Retry(tempID string) (Draft, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTemp[tempID]
	if !ok {
		return Draft{}, ErrUnknownTempID
	}
	if entry.Status != StatusFailed || entry.Draft == nil {
		return Draft{}, ErrNotFailed
	}
	entry.Status = StatusPending
	entry.Err = nil
	return *entry.Draft, nil
}

// Dismiss drops a failed entry. Pending and confirmed entries stay.
func (c *Cache) Dismiss(tempID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byTemp[tempID]
	if !ok {
		return ErrUnknownTempID
	}
	if entry.Status != StatusFailed {
		return ErrNotFailed
	}
	c.removeLocked(entry)
	return nil
}

// ApplyEvent folds a realtime event into the cache. Events for other
// conversations and for messages that are not loaded are ignored.
func (c *Cache) ApplyEvent(event Event) (AppendResult, error) {
	if event.ConversationID != c.conversationID {
		return AppendResult{}, nil
	}

	switch event.Type {
	case models.EventMessageCreated:
		var message Message
		if err := event.Decode(&message); err != nil {
			return AppendResult{}, err
		}
		return c.applyCreated(message), nil
	case models.EventMessageUpdated:
		var update models.MessageUpdate
		if err := event.Decode(&update); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Applied: c.applyUpdated(update)}, nil
	case models.EventReactionChanged:
		var change models.ReactionChange
		if err := event.Decode(&change); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Applied: c.applyReactions(change)}, nil
	case models.EventTyping:
		var notice models.TypingNotice
		if err := event.Decode(&notice); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Applied: c.applyTyping(notice)}, nil
	default:
		return AppendResult{}, nil
	}
}

func (c *Cache) applyCreated(message Message) AppendResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[message.ID]; ok {
		return AppendResult{}
	}
	// an echo of one of our own sends; the HTTP response confirms it
	if message.ClientID != nil {
		if _, ok := c.byTemp[*message.ClientID]; ok {
			return AppendResult{}
		}
	}

	entry := &Entry{Message: message, Status: StatusConfirmed}
	c.entries = append(c.entries, entry)
	c.byID[message.ID] = entry
	delete(c.typing, message.SenderID)
	return AppendResult{Applied: true, AutoScroll: c.nearBottom}
}

// applyUpdated is last-write-wins on updated_at; a stale update is dropped.
func (c *Cache) applyUpdated(update models.MessageUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byID[update.MessageID]
	if !ok {
		return false
	}
	message := &entry.Message
	if update.UpdatedAt.Before(message.UpdatedAt) {
		return false
	}

	if update.Content != nil {
		content := *update.Content
		message.Content = &content
	}
	if update.IsEdited != nil {
		message.IsEdited = *update.IsEdited
	}
	if update.IsPinned != nil {
		message.IsPinned = *update.IsPinned
	}
	if update.IsDeleted != nil {
		message.IsDeleted = *update.IsDeleted
		if message.IsDeleted {
			message.Content = nil
			message.IsPinned = false
		}
	}
	message.UpdatedAt = update.UpdatedAt
	return true
}

func (c *Cache) applyReactions(change models.ReactionChange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byID[change.MessageID]
	if !ok {
		return false
	}
	entry.Message.Reactions = append([]MessageReaction{}, change.Reactions...)
	return true
}

func (c *Cache) applyTyping(notice models.TypingNotice) bool {
	if notice.UserID == c.viewer.ID {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !notice.Active {
		_, existed := c.typing[notice.UserID]
		delete(c.typing, notice.UserID)
		return existed
	}
	c.typing[notice.UserID] = TypingState{
		UserID:    notice.UserID,
		UserName:  notice.UserName,
		ExpiresAt: c.now().Add(typingTTL),
	}
	return true
}

// Typing lists who is typing right now, ordered by user id.
func (c *Cache) Typing() []TypingState {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]TypingState, 0, len(c.typing))
	for userID, state := range c.typing {
		if !state.ExpiresAt.After(now) {
			delete(c.typing, userID)
			continue
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Entries returns a copy of the list, oldest first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, len(c.entries))
	for i, entry := range c.entries {
		out[i] = *entry
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Message(messageID int64) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byID[messageID]
	if !ok {
		return Message{}, false
	}
	return entry.Message, true
}

// Reactions summarizes a loaded message's reactions from the viewer's side.
func (c *Cache) Reactions(messageID int64) (reactions.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.byID[messageID]
	if !ok {
		return reactions.Summary{}, false
	}
	return reactions.Summarize(entry.Message.Reactions, c.viewer.ID), true
}

func (c *Cache) removeLocked(target *Entry) {
	for i, entry := range c.entries {
		if entry == target {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	if target.TempID != "" {
		delete(c.byTemp, target.TempID)
	}
	if target.Status == StatusConfirmed && c.byID[target.Message.ID] == target {
		delete(c.byID, target.Message.ID)
	}
}
