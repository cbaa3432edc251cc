package docstore

import (
	"fmt"
	"strings"
)

const (
	lockSuffix = ".lock"
	tmpSuffix  = ".tmp"
)

// ValidateName returns an error wrapping ErrInvalidName if name cannot be used
// as a document name.
//
// A valid name is a single path element that does not start with a dot (temp
// files and dotfiles) and does not end with ".lock" (lock sentinels). This keeps
// the mapping from names to document, lock and temp files collision-free.
func ValidateName(name string) error {
	reason := ""
	switch {
	case name == "":
		reason = "empty"
	case len(name) > 200:
		reason = "too long"
	case strings.ContainsAny(name, "/\\\x00"):
		reason = "contains a path separator or NUL"
	case strings.HasPrefix(name, "."):
		reason = "starts with a dot"
	case strings.HasSuffix(name, lockSuffix):
		reason = "ends with " + lockSuffix
	default:
		return nil
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidName, name, reason)
}
