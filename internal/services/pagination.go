package services

import (
	"strconv"
	"strings"

	"github.com/boomerdev01-max/linkaia-sub001/internal/models"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}

// ParseCursor decodes an opaque cursor. An empty cursor means "start at the newest message".
func ParseCursor(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, ErrInvalidCursor
	}
	return &id, nil
}

func EncodeCursor(messageID int64) string {
	return strconv.FormatInt(messageID, 10)
}

// trimPage applies the over-fetch-by-one rule to a newest-first window that was
// fetched with limit+1 rows.
func trimPage(rows []models.StoredMessage, limit int) ([]models.StoredMessage, bool, *string) {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if !hasMore || len(rows) == 0 {
		return rows, false, nil
	}
	cursor := EncodeCursor(rows[len(rows)-1].ID)
	return rows, true, &cursor
}

// Chronological returns a copy of a newest-first page ordered oldest-first for display.
func Chronological(messages []models.Message) []models.Message {
	ordered := make([]models.Message, len(messages))
	for i, message := range messages {
		ordered[len(messages)-1-i] = message
	}
	return ordered
}
