package reply

import (
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/retrieval"
)

// EstimateTokens approximates the token count of s at four runes per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// BuildHistory maps stored messages onto alternating chat turns.
// Consecutive turns of the same role are merged, and the history always
// starts and ends with a user turn.
func BuildHistory(messages []model.Message) []llm.ChatMessage {
	turns := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		role := ""
		switch {
		case m.Direction == model.DirectionInbound:
			role = llm.RoleUser
		case m.Kind == model.KindReply && m.Status != model.StatusFailed:
			role = llm.RoleAssistant
		default:
			continue
		}

		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}

		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + content
			continue
		}
		turns = append(turns, llm.ChatMessage{Role: role, Content: content})
	}

	for len(turns) > 0 && turns[0].Role != llm.RoleUser {
		turns = turns[1:]
	}
	for len(turns) > 0 && turns[len(turns)-1].Role != llm.RoleUser {
		turns = turns[:len(turns)-1]
	}
	return turns
}

// SelectChunks drops chunks scoring below threshold and keeps the rest,
// in order, while they fit in budget tokens.
func SelectChunks(chunks []retrieval.Chunk, threshold float64, budget int) []retrieval.Chunk {
	selected := make([]retrieval.Chunk, 0, len(chunks))
	used := 0
	for _, c := range chunks {
		if c.Score < threshold {
			continue
		}
		cost := EstimateTokens(c.Text)
		if budget > 0 && used+cost > budget {
			break
		}
		used += cost
		selected = append(selected, c)
	}
	return selected
}

// SystemPrompt appends retrieved context to the assistant's base prompt.
func SystemPrompt(base string, chunks []retrieval.Chunk) string {
	if len(chunks) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("Use the following reference material when it is relevant to the user's message:\n")
	for _, c := range chunks {
		b.WriteString("\n---\n")
		b.WriteString(strings.TrimSpace(c.Text))
	}
	return b.String()
}
