package icons

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stepline/stepline/internal/types"
)

const suggestSystemPrompt = "You pick one emoji for a task in a daily routine checklist. " +
	"Reply with exactly one emoji and nothing else."

// Suggester asks a model for an emoji matching a challenge's text. A
// failed or nonsensical suggestion is just an error; the caller falls
// back to manual choice and nothing is persisted here.
type Suggester struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewSuggester creates a Suggester with the given API key.
func NewSuggester(apiKey string) *Suggester {
	return &Suggester{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude3_5HaikuLatest,
	}
}

// Suggest returns an emoji icon for the given challenge text.
func (sg *Suggester) Suggest(ctx context.Context, text string) (types.Icon, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Icon{}, fmt.Errorf("nothing to suggest an icon for")
	}

	msg, err := sg.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     sg.model,
		MaxTokens: 16,
		System: []anthropic.TextBlockParam{
			{Text: suggestSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return types.Icon{}, fmt.Errorf("icon suggestion failed: %w", err)
	}

	var reply string
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply += block.Text
		}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || len(reply) > 16 {
		return types.Icon{}, fmt.Errorf("model returned no usable emoji (%q)", reply)
	}
	return types.EmojiIcon(reply), nil
}
