package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// UpdateFunc computes the next value of a document from its current value.
//
// It runs exactly once per Update call while the document lock is held. It may
// mutate and return cur or return a new Document; returning nil persists an
// empty object. It must not access the store for the same document.
type UpdateFunc func(cur Document) (Document, error)

// Repository is the narrow interface collaborators use to share documents.
type Repository interface {
	Read(ctx context.Context, name string) (Document, error)
	Write(ctx context.Context, name string, doc Document) error
	Update(ctx context.Context, name string, fn UpdateFunc) (Document, error)
}

// Options configures a Store.
type Options struct {
	Lock LockOptions

	// OnPersist, if set, runs after a document was successfully persisted,
	// while its lock is still held. Its error is returned to the caller but the
	// new content stays written.
	OnPersist func(ctx context.Context, name string) error
}

// Store is a directory of JSON documents. It is safe for concurrent use by
// multiple goroutines and by multiple processes sharing the same root.
type Store struct {
	root      string
	locks     *Locker
	onPersist func(ctx context.Context, name string) error
}

var _ Repository = (*Store)(nil)

// New returns a Store rooted at root, creating the directory if needed.
func New(root string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, &IOError{Op: "create root", Path: root, Err: err}
	}
	return &Store{
		root:      root,
		locks:     NewLocker(root, opts.Lock),
		onPersist: opts.OnPersist,
	}, nil
}

// Root returns the directory holding the documents.
func (s *Store) Root() string {
	return s.root
}

// Locker returns the Locker guarding the documents.
func (s *Store) Locker() *Locker {
	return s.locks
}

// Path returns the file backing the document name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Read returns the current value of the document name.
//
// A document that was never written reads as an empty Document.
func (s *Store) Read(ctx context.Context, name string) (Document, error) {
	var doc Document
	err := s.locks.With(ctx, name, func() error {
		var err error
		doc, err = s.load(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Write replaces the content of the document name with doc.
func (s *Store) Write(ctx context.Context, name string, doc Document) error {
	return s.locks.With(ctx, name, func() error {
		return s.persist(ctx, name, doc)
	})
}

// Update atomically applies fn to the document name and persists the result.
//
// The lock is held across load, fn and persist, so concurrent updates of the
// same document are serialized. If fn fails, nothing is written and the error
// is returned as a *TransformError.
func (s *Store) Update(ctx context.Context, name string, fn UpdateFunc) (Document, error) {
	var out Document
	err := s.locks.With(ctx, name, func() error {
		cur, err := s.load(name)
		if err != nil {
			return err
		}
		next, err := apply(fn, cur)
		if err != nil {
			return &TransformError{Name: name, Err: err}
		}
		if next == nil {
			next = Document{}
		}
		if err := s.persist(ctx, name, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns the names of all documents present in the root, sorted.
//
// The listing is not taken under any lock.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &IOError{Op: "list", Path: s.root, Err: err}
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || ValidateName(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// load must be called with the lock held.
func (s *Store) load(name string) (Document, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from a validated name
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return Decode(name, data)
}

// persist must be called with the lock held.
func (s *Store) persist(ctx context.Context, name string, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", name, err)
	}
	if err := writeFileAtomic(s.root, name, data); err != nil {
		return err
	}
	if s.onPersist != nil {
		if err := s.onPersist(ctx, name); err != nil {
			return fmt.Errorf("%q was written but the persist hook failed: %w", name, err)
		}
	}
	return nil
}

// apply runs fn, converting a panic into an error.
func apply(fn UpdateFunc, cur Document) (next Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(cur)
}

// writeFileAtomic writes data to a temp file in dir and renames it over
// dir/name.
func writeFileAtomic(dir, name string, data []byte) error {
	target := filepath.Join(dir, name)
	f, err := os.CreateTemp(dir, "."+name+".*"+tmpSuffix)
	if err != nil {
		return &IOError{Op: "create temp file for", Path: target, Err: err}
	}
	tmp := f.Name()
	fail := func(op string, err error) error {
		_ = f.Close()
		return &IOError{Op: op, Path: tmp, Err: errors.Join(err, os.Remove(tmp))}
	}
	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp, Err: errors.Join(err, os.Remove(tmp))}
	}
	if err := os.Rename(tmp, target); err != nil {
		return &IOError{Op: "rename", Path: tmp, Err: errors.Join(err, os.Remove(tmp))}
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry of a rename. Best effort: not every
// platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // G304: dir is the store root
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
