package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// substitute replaces {{name}} placeholders with variation bindings.
// Unbound placeholders are left intact so a missing variable is visible in
// the rendered prompt rather than silently erased.
func substitute(template string, variables map[string]string) string {
	if len(variables) == 0 {
		return template
	}
	return templateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RenderPrompt produces the text sent to the model from prompt content,
// which is either a JSON string holding a template or a JSON array of
// {role, content} messages. Message lists are flattened into a transcript.
func RenderPrompt(content json.RawMessage, variables map[string]string) (string, error) {
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return "", fmt.Errorf("prompt content is empty")
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return substitute(text, variables), nil
	}

	var messages []promptMessage
	if err := json.Unmarshal(content, &messages); err != nil {
		return "", fmt.Errorf("prompt content is neither a string nor a message list: %w", err)
	}
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		if msg.Role != "" {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
		}
		sb.WriteString(substitute(msg.Content, variables))
	}
	return sb.String(), nil
}
