package chat

import "strings"

// Message is one OpenAI-style chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExtractCommand inspects the last user message. When it starts with '/', it returns the
// lower-cased command and the trimmed remainder of the line.
func ExtractCommand(messages []Message) (cmd, args string, ok bool) {
	var last *Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = &messages[i]
			break
		}
	}
	if last == nil {
		return "", "", false
	}

	text := strings.TrimSpace(last.Content)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, args, _ = strings.Cut(text[1:], " ")
	cmd = strings.ToLower(cmd)
	if cmd == "" {
		return "", "", false
	}
	return cmd, strings.TrimSpace(args), true
}

// lastUserContent returns the most recent user message, or "".
func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
