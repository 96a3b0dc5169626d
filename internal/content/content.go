package content

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	MaxMessageLength   = 4000
	MaxGroupNameLength = 100
)

var (
	policy   = bluemonday.UGCPolicy()
	strict   = bluemonday.StrictPolicy()
	markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Plain strips every tag. It is used for names and descriptions.
func Plain(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// Render converts message markdown to sanitized HTML.
func Render(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return Sanitize(buf.String()), nil
}

// Blank reports whether text has no visible characters.
func Blank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// ValidateMessage checks that a message has content and fits the length limit.
func ValidateMessage(text string) error {
	if Blank(text) {
		return errors.New("message is empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return fmt.Errorf("message is longer than %d characters", MaxMessageLength)
	}
	return nil
}

// ValidateGroupName checks that a group name is not empty after stripping markup.
func ValidateGroupName(name string) error {
	name = Plain(name)
	if name == "" {
		return errors.New("group name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLength {
		return fmt.Errorf("group name is longer than %d characters", MaxGroupNameLength)
	}
	return nil
}
