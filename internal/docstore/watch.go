// Reports changes made to documents by any process.

package docstore

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Op describes what happened to a watched document.
type Op int

const (
	// OpChanged means the document was created or replaced.
	OpChanged Op = iota + 1
	// OpRemoved means the document file disappeared.
	OpRemoved
	// OpError carries a watcher error in Event.Err.
	OpError
)

func (o Op) String() string {
	switch o {
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a change notification for a document.
type Event struct {
	Name string
	Op   Op
	Err  error
}

// Watch reports changes to the named documents, or to every document when
// names is empty, until ctx is done. The channel is closed afterwards.
//
// Events are hints: by the time one is received the document may have changed
// again. Read it to get the current value.
func (s *Store) Watch(ctx context.Context, names ...string) (<-chan Event, error) {
	filter := make(map[string]bool, len(names))
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			return nil, err
		}
		filter[n] = true
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &IOError{Op: "watch", Path: s.root, Err: err}
	}
	if err := w.Add(s.root); err != nil {
		_ = w.Close()
		return nil, &IOError{Op: "watch", Path: s.root, Err: err}
	}
	ch := make(chan Event, 16)
	send := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(ch)
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(e.Name)
				if ValidateName(name) != nil || (len(filter) != 0 && !filter[name]) {
					continue
				}
				var op Op
				switch {
				case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
					op = OpChanged
				case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
					op = OpRemoved
				default:
					continue
				}
				if !send(Event{Name: name, Op: op}) {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if !send(Event{Op: OpError, Err: err}) {
					return
				}
			}
		}
	}()
	return ch, nil
}
