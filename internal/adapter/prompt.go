package adapter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"insight-bridge/internal/models"
)

// BuildPrompt flattens an ordered conversation into the single delimited
// prompt string the vendor engines expect. Only the first system message is
// honored; later ones are dropped. Every non-system message appears in the
// history block in conversation order, and the prompt always ends with the
// "Assistant: " cue the engine completes from.
func BuildPrompt(messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}

	hasUser := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return "", fmt.Errorf("%w: at least one user message is required", ErrValidation)
	}

	var b strings.Builder

	for _, msg := range messages {
		if msg.Role == "system" {
			b.WriteString("<system_prompt>\n ")
			b.WriteString(msg.Content)
			b.WriteString("\n</system_prompt>\n\n")
			break
		}
	}

	b.WriteString("<conversation_history>\n")
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		b.WriteString(capitalizeRole(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant: ")

	return b.String(), nil
}

func capitalizeRole(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	}
	r, size := utf8.DecodeRuneInString(role)
	if r == utf8.RuneError {
		return role
	}
	return string(unicode.ToUpper(r)) + role[size:]
}
