package discord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidColor   = errors.New("discord: color must be #RRGGBB")
	ErrInvalidMention = errors.New("discord: mention must be none, everyone or here")
)

// ParseColor converts "#RRGGBB" into a 24-bit integer.
func ParseColor(hex string) (int, error) {
	if len(hex) != 7 || hex[0] != '#' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	return int(v), nil
}

// Mention selects the top-level content ping of a message.
type Mention int

const (
	MentionNone Mention = iota
	MentionEveryone
	MentionHere
)

func ParseMention(s string) (Mention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MentionNone, nil
	case "everyone":
		return MentionEveryone, nil
	case "here":
		return MentionHere, nil
	default:
		return MentionNone, fmt.Errorf("%w: %q", ErrInvalidMention, s)
	}
}

// Content returns the literal placed in Message.Content.
func (m Mention) Content() string {
	switch m {
	case MentionEveryone:
		return "@everyone"
	case MentionHere:
		return "@here"
	default:
		return ""
	}
}

func (m Mention) String() string {
	switch m {
	case MentionEveryone:
		return "everyone"
	case MentionHere:
		return "here"
	default:
		return "none"
	}
}
