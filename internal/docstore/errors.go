// Defines the error taxonomy returned by the store.

package docstore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockTimeout is matched by errors returned when a document lock could
	// not be acquired within the configured timeout.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrMalformedDocument is matched by errors returned when persisted content
	// cannot be decoded.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrTransformFailed is matched by errors returned when an UpdateFunc fails.
	ErrTransformFailed = errors.New("transform failed")
	// ErrIO is matched by errors wrapping filesystem failures.
	ErrIO = errors.New("i/o failure")
	// ErrInvalidName is returned for document names that cannot be mapped to a
	// file under the root.
	ErrInvalidName = errors.New("invalid document name")
	// ErrInvalidDocument is returned when a value cannot be encoded as JSON.
	ErrInvalidDocument = errors.New("document is not representable as JSON")
)

// LockTimeoutError reports that the lock for Name was not acquired.
type LockTimeoutError struct {
	Name    string
	Elapsed time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not lock %q within %s", e.Name, e.Elapsed.Round(time.Millisecond))
}

// Is reports whether target is ErrLockTimeout.
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// MalformedDocumentError reports that the content of Name is not a JSON object.
type MalformedDocumentError struct {
	Name string
	Err  error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed document %q: %v", e.Name, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedDocument.
func (e *MalformedDocumentError) Is(target error) bool {
	return target == ErrMalformedDocument
}

// TransformError wraps the failure of an UpdateFunc. Nothing was persisted.
type TransformError struct {
	Name string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("update of %q failed: %v", e.Name, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransformFailed.
func (e *TransformError) Is(target error) bool {
	return target == ErrTransformFailed
}

// IOError wraps a filesystem error on a document, temporary or lock file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrIO.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}
