package store

import (
	"time"

	"github.com/stepline/stepline/internal/types"
)

// DefaultData returns the built-in starter dataset written on first use:
// five simple sample challenges with emoji icons, no history.
func DefaultData() types.AppData {
	now := time.Now()
	sample := func(id, text, emoji string, order int) types.Challenge {
		return types.Challenge{
			ID:        id,
			Text:      text,
			Icon:      types.EmojiIcon(emoji),
			Order:     order,
			CreatedAt: now,
		}
	}

	return types.AppData{
		Challenges: []types.Challenge{
			sample("1", "Make your bed", "🛏️", 1),
			sample("2", "Drink a glass of water", "💧", 2),
			sample("3", "Do 5 push-ups", "💪", 3),
			sample("4", "Take deep breaths for 1 minute", "🧘", 4),
			sample("5", "Organize your desk", "📚", 5),
		},
		Sessions: []types.Session{},
	}
}
