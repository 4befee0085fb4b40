package completion

import (
	"strings"
	"testing"

	"modelgate/pkg/api"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		messages []api.ChatMessage
		want     string
	}{
		{
			name:     "empty conversation",
			messages: nil,
			want:     "assistant:",
		},
		{
			name: "single user message",
			messages: []api.ChatMessage{
				{Role: "user", Content: "Hi"},
			},
			want: "user: Hi\nassistant:",
		},
		{
			name: "multi turn keeps order",
			messages: []api.ChatMessage{
				{Role: "system", Content: "Be brief."},
				{Role: "user", Content: "What is Go?"},
				{Role: "assistant", Content: "A language."},
				{Role: "user", Content: "Elaborate."},
			},
			want: "system: Be brief.\nuser: What is Go?\nassistant: A language.\nuser: Elaborate.\nassistant:",
		},
		{
			name: "missing role defaults to user",
			messages: []api.ChatMessage{
				{Content: "anonymous"},
			},
			want: "user: anonymous\nassistant:",
		},
		{
			name: "empty content keeps the line",
			messages: []api.ChatMessage{
				{Role: "user"},
			},
			want: "user: \nassistant:",
		},
		{
			name: "free-form role passes through",
			messages: []api.ChatMessage{
				{Role: "narrator", Content: "Meanwhile..."},
			},
			want: "narrator: Meanwhile...\nassistant:",
		},
		{
			name: "content with newlines is not escaped",
			messages: []api.ChatMessage{
				{Role: "user", Content: "line one\nline two"},
			},
			want: "user: line one\nline two\nassistant:",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := BuildPrompt(tc.messages)
			if got != tc.want {
				t.Errorf("BuildPrompt() = %q, want %q", got, tc.want)
			}
			if !strings.HasSuffix(got, "assistant:") {
				t.Errorf("prompt must end with the assistant marker: %q", got)
			}
			if strings.HasSuffix(got, "\n") {
				t.Errorf("prompt must not end with a newline: %q", got)
			}
		})
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	t.Parallel()

	messages := []api.ChatMessage{
		{Role: "system", Content: "x"},
		{Role: "user", Content: "y"},
	}
	first := BuildPrompt(messages)
	for i := 0; i < 100; i++ {
		if got := BuildPrompt(messages); got != first {
			t.Fatalf("rendering is not deterministic: %q vs %q", got, first)
		}
	}
}
