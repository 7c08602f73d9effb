package chat

import (
	"strings"

	"github.com/mattjoyce/edgeclaw/internal/state"
)

// BuildPrompt renders history and messages in the chat template the engine expects and
// leaves an open assistant turn.
func BuildPrompt(history []state.Turn, messages []Message) string {
	var b strings.Builder
	for _, t := range history {
		writeTurn(&b, "user", t.UserMsg)
		writeTurn(&b, "assistant", t.AssistantMsg)
	}
	for _, m := range messages {
		writeTurn(&b, m.Role, m.Content)
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func writeTurn(b *strings.Builder, role, content string) {
	switch role {
	case "system", "user", "assistant":
		b.WriteString("<|" + role + "|>\n")
		b.WriteString(content)
		b.WriteString("\n")
	default:
		b.WriteString(role + ": " + content + "\n")
	}
}

// EstimateTokens approximates a token count at four bytes per token.
func EstimateTokens(text string) int {
	return max(1, len(text)/4)
}
