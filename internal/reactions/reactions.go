package reactions

import "github.com/boomerdev01-max/linkaia-sub001/internal/models"

// Vocabulary is the fixed, ordered set of reactions a user may leave on a message.
var Vocabulary = []string{"👍", "❤️", "😂", "😮", "😢", "😡"}

func Allowed(emoji string) bool {
	for _, candidate := range Vocabulary {
		if candidate == emoji {
			return true
		}
	}
	return false
}

type Group struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	UserReacted bool   `json:"user_reacted"`
}

type Summary struct {
	Groups      []Group `json:"groups"`
	Total       int     `json:"total"`
	ViewerEmoji *string `json:"viewer_emoji"`
}

// Counts returns emoji -> count for quick lookups.
func (s Summary) Counts() map[string]int {
	counts := make(map[string]int, len(s.Groups))
	for _, group := range s.Groups {
		counts[group.Emoji] = group.Count
	}
	return counts
}

// Summarize groups a message's reaction rows by emoji in vocabulary order.
// Rows with emojis outside the vocabulary are ignored.
func Summarize(rows []models.MessageReaction, viewerID int64) Summary {
	counts := make(map[string]int, len(Vocabulary))
	var viewerEmoji *string
	for _, row := range rows {
		if !Allowed(row.Emoji) {
			continue
		}
		counts[row.Emoji]++
		if row.UserID == viewerID {
			emoji := row.Emoji
			viewerEmoji = &emoji
		}
	}

	summary := Summary{Groups: make([]Group, 0, len(counts)), ViewerEmoji: viewerEmoji}
	for _, emoji := range Vocabulary {
		count := counts[emoji]
		if count == 0 {
			continue
		}
		summary.Groups = append(summary.Groups, Group{
			Emoji:       emoji,
			Count:       count,
			UserReacted: viewerEmoji != nil && *viewerEmoji == emoji,
		})
		summary.Total += count
	}
	return summary
}
