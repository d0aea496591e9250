package artifact

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const maxIDLength = 255

var ErrInvalidID = errors.New("invalid artifact id")

// ValidateID checks that name can be used as an artifact identifier on both
// sides: a plain, visible file name without separators or control characters.
func ValidateID(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, name)
	case len(name) > maxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, name)
	}

	for _, r := range name {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidID, name)
		}
	}
	return nil
}

// IsHidden reports whether name is a dot-file. Hidden names are reserved for
// the manifest and in-flight transfer files.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// TempName returns the hidden name an artifact is written under before it is
// promoted. e.g., "2024-03.data" -> ".2024-03.data.<token>.part"
func TempName(id, token string) string {
	return "." + id + "." + token + TempSuffix
}

// IsTempName reports whether name was produced by TempName.
func IsTempName(name string) bool {
	return IsHidden(name) && strings.HasSuffix(name, TempSuffix)
}

const TempSuffix = ".part"
