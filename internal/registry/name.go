package registry

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxNameLength is the longest station name accepted, in characters.
const MaxNameLength = 64

// nameRegex rejects control characters and leading/trailing whitespace.
// Any printable script is allowed: station names are often not ASCII.
var nameRegex = regexp.MustCompile(`^[^\p{Cc}\s](?:[^\p{Cc}]*[^\p{Cc}\s])?$`)

// ErrInvalidName is returned for empty, overlong, or unprintable names.
var ErrInvalidName = errors.New("registry: invalid station name")

// ValidateName checks a station name before it becomes a registry key.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if n > MaxNameLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInvalidName, n, MaxNameLength)
	}
	if !utf8.ValidString(name) || !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
