package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FormatInterval renders a minute count for humans: "45 min", "1h", "2h 30m".
func FormatInterval(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours, rest := minutes/60, minutes%60
	if rest == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rest)
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

var (
	handlePattern = regexp.MustCompile(`^@?[A-Za-z][A-Za-z0-9_]{3,31}$`)
	linkPattern   = regexp.MustCompile(`^(?:https?://)?(?:www\.)?(?:t\.me|telegram\.me)/([A-Za-z0-9_]+)/?$`)
)

// ChatRef is a parsed reference to a Telegram chat.
type ChatRef struct {
	// Ref is what to look the chat up by: a numeric id or "@handle".
	Ref string
	// Handle is set when the reference named a public handle.
	Handle string
}

// ParseChatRef accepts a numeric chat id, "@handle", "handle" or a t.me
// link and normalizes it.
func ParseChatRef(input string) (ChatRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return ChatRef{}, fmt.Errorf("empty chat reference")
	}
	if _, err := strconv.ParseInt(input, 10, 64); err == nil {
		return ChatRef{Ref: input}, nil
	}
	if m := linkPattern.FindStringSubmatch(input); m != nil {
		input = m[1]
	}
	if !handlePattern.MatchString(input) {
		return ChatRef{}, fmt.Errorf("invalid chat reference %q", input)
	}
	handle := "@" + strings.TrimPrefix(input, "@")
	return ChatRef{Ref: handle, Handle: handle}, nil
}
