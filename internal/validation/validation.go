// Package validation provides centralized input validation for replay.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// =============================================================================
// Episode IDs
// =============================================================================

// ParseEpisodeID parses a decimal, positive episode ID. Surrounding
// whitespace is rejected.
func ParseEpisodeID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("episode id cannot be empty")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("must be positive: %d", id)
	}
	return id, nil
}

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for entity names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSpaces  bool
}

// DefaultNameRules returns the rules for subdataset, embodiment and teleop
// mode names.
func DefaultNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSpaces:  true,
	}
}

// ChannelNameRules returns the rules for channel names. Channels are path
// components of every store format.
func ChannelNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}
	if rules.AllowSpaces && strings.TrimSpace(name) != name {
		return fmt.Errorf("name cannot start or end with whitespace")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ' ':
		return rules.AllowSpaces
	}
	return false
}

// ValidateEntityName validates an entity name with default rules.
func ValidateEntityName(name string) error {
	return ValidateName(name, DefaultNameRules())
}

// ValidateChannelName validates a channel name.
func ValidateChannelName(name string) error {
	return ValidateName(name, ChannelNameRules())
}

// =============================================================================
// SQL LIKE Patterns
// =============================================================================

var sqlLikeMetaChars = regexp.MustCompile(`[%_\\]`)

// EscapeLikePattern escapes special characters in a LIKE pattern. The
// escape character is a backslash, so queries use ESCAPE '\'.
func EscapeLikePattern(pattern string) string {
	return sqlLikeMetaChars.ReplaceAllStringFunc(pattern, func(s string) string {
		return "\\" + s
	})
}

// SafeLikePrefix creates a safe LIKE prefix pattern.
func SafeLikePrefix(prefix string) string {
	return EscapeLikePattern(prefix) + "%"
}

// SafeLikeContains creates a safe LIKE contains pattern.
func SafeLikeContains(pattern string) string {
	return "%" + EscapeLikePattern(pattern) + "%"
}
