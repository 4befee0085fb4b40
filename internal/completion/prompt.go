// Package completion turns chat conversations into model prompts and
// model output into chat completion responses.
package completion

import (
	"strings"

	"modelgate/pkg/api"
)

// BuildPrompt renders a conversation into the flat string the model
// consumes: one "role: content" line per message in order, closed by a
// bare "assistant:" line that cues the model to answer. The result has no
// trailing newline.
//
// The rendering is total: an empty conversation yields just the marker
// line, and a message with no role is attributed to the user rather than
// rejected.
func BuildPrompt(messages []api.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = api.RoleUser
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("assistant:")
	return b.String()
}
