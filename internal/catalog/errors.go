package catalog

import (
	"errors"
	"fmt"
)

type ListErrorKind uint8

const (
	// DirectoryAbsent means the remote directory does not exist yet. Callers
	// treat it as an empty remote.
	DirectoryAbsent ListErrorKind = iota
	// UnparsableListing means the server returned entries but none of them
	// could be understood.
	UnparsableListing
)

func (k ListErrorKind) String() string {
	switch k {
	case DirectoryAbsent:
		return "directory absent"
	case UnparsableListing:
		return "unparsable listing"
	default:
		return "unknown"
	}
}

type ListError struct {
	Kind    ListErrorKind
	Dir     string
	Entries int
	Err     error
}

func (e *ListError) Error() string {
	if e.Kind == UnparsableListing {
		return fmt.Sprintf("list %s: %s (%d entries)", e.Dir, e.Kind, e.Entries)
	}
	if e.Err != nil {
		return fmt.Sprintf("list %s: %s: %v", e.Dir, e.Kind, e.Err)
	}
	return fmt.Sprintf("list %s: %s", e.Dir, e.Kind)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// IsDirectoryAbsent reports whether err is a ListError for a missing directory.
func IsDirectoryAbsent(err error) bool {
	var le *ListError
	return errors.As(err, &le) && le.Kind == DirectoryAbsent
}
