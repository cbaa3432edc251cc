package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore creates a store in the test's temp directory.
func setupStore(t *testing.T, opts *Options) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data"), opts)
	require.NoError(t, err)
	return s
}

func increment(doc Document) (Document, error) {
	n, _, err := Get[int](doc, "counter")
	if err != nil {
		return nil, err
	}
	doc["counter"] = n + 1
	return doc, nil
}

// incrementAndLog increments counter and appends the new value to log, so the
// log shows the order in which transforms ran.
func incrementAndLog(doc Document) (Document, error) {
	doc, err := increment(doc)
	if err != nil {
		return nil, err
	}
	log, _ := doc["log"].([]any)
	doc["log"] = append(log, doc["counter"])
	return doc, nil
}

// checkLog verifies counter is n and log holds 1..n in order.
func checkLog(t *testing.T, got Document, n int) {
	t.Helper()
	assert.Equal(t, json.Number(strconv.Itoa(n)), got["counter"])
	log, _ := got["log"].([]any)
	require.Len(t, log, n)
	for i, v := range log {
		assert.Equal(t, json.Number(strconv.Itoa(i+1)), v)
	}
}

// leftovers returns the names of lock and temp files in the store root.
func leftovers(t *testing.T, s *Store) []string {
	t.Helper()
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), lockSuffix) || strings.HasSuffix(e.Name(), tmpSuffix) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestNew(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b", "c")
	s, err := New(root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Read", func(t *testing.T) {
		t.Run("missing", func(t *testing.T) {
			s := setupStore(t, nil)
			doc, err := s.Read(ctx, "missing.json")
			require.NoError(t, err)
			assert.Equal(t, Document{}, doc)
			assert.Empty(t, leftovers(t, s))
		})

		t.Run("empty file", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, os.WriteFile(s.Path("empty.json"), nil, 0o644))
			doc, err := s.Read(ctx, "empty.json")
			require.NoError(t, err)
			assert.Equal(t, Document{}, doc)
		})

		t.Run("malformed", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, os.WriteFile(s.Path("bad.json"), []byte("\x00\x01 not json"), 0o644))
			doc, err := s.Read(ctx, "bad.json")
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, ErrMalformedDocument)
			assert.Empty(t, leftovers(t, s))
		})

		t.Run("invalid name", func(t *testing.T) {
			s := setupStore(t, nil)
			_, err := s.Read(ctx, "../outside.json")
			assert.ErrorIs(t, err, ErrInvalidName)
		})

		t.Run("io failure", func(t *testing.T) {
			s := setupStore(t, nil)
			// A directory where the document should be cannot be read as a file.
			require.NoError(t, os.Mkdir(s.Path("dir.json"), 0o755))
			_, err := s.Read(ctx, "dir.json")
			assert.ErrorIs(t, err, ErrIO)
			var ioErr *IOError
			require.True(t, errors.As(err, &ioErr))
			assert.Equal(t, "read", ioErr.Op)
			assert.Empty(t, leftovers(t, s))
		})

		t.Run("lock timeout", func(t *testing.T) {
			s := setupStore(t, &Options{Lock: LockOptions{Timeout: 150 * time.Millisecond, RetryInterval: 10 * time.Millisecond}})
			held, err := s.Locker().Acquire(ctx, "busy.json")
			require.NoError(t, err)
			defer func() { _ = held.Release() }()
			_, err = s.Read(ctx, "busy.json")
			assert.ErrorIs(t, err, ErrLockTimeout)
			err = s.Write(ctx, "busy.json", Document{"a": 1.0})
			assert.ErrorIs(t, err, ErrLockTimeout)
			called := false
			_, err = s.Update(ctx, "busy.json", func(d Document) (Document, error) {
				called = true
				return d, nil
			})
			assert.ErrorIs(t, err, ErrLockTimeout)
			assert.False(t, called)
			_, err = os.Stat(s.Path("busy.json"))
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	})

	t.Run("Write", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			s := setupStore(t, nil)
			want := Document{
				"key":    "value",
				"number": json.Number("42"),
				"big":    json.Number("9007199254740993"),
				"list":   []any{"a", json.Number("1.5"), nil, true},
				"nested": map[string]any{"x": map[string]any{"y": "z"}},
			}
			require.NoError(t, s.Write(ctx, "test.json", want))
			got, err := s.Read(ctx, "test.json")
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Empty(t, leftovers(t, s))
		})

		t.Run("replaces without merging", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "r.json", Document{"a": 1.0, "b": 2.0}))
			require.NoError(t, s.Write(ctx, "r.json", Document{"c": 3.0}))
			got, err := s.Read(ctx, "r.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"c": json.Number("3")}, got)
		})

		t.Run("on-disk format", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "f.json", Document{"counter": 0}))
			data, err := os.ReadFile(s.Path("f.json"))
			require.NoError(t, err)
			assert.Equal(t, "{\n  \"counter\": 0\n}\n", string(data))
		})

		t.Run("unrepresentable keeps old content", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "u.json", Document{"ok": true}))
			err := s.Write(ctx, "u.json", Document{"bad": func() {}})
			assert.ErrorIs(t, err, ErrInvalidDocument)
			got, err := s.Read(ctx, "u.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"ok": true}, got)
			assert.Empty(t, leftovers(t, s))
		})
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("increments", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "update_test.json", Document{"counter": 0}))
			got, err := s.Update(ctx, "update_test.json", increment)
			require.NoError(t, err)
			assert.Equal(t, 1, got["counter"])
			read, err := s.Read(ctx, "update_test.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"counter": json.Number("1")}, read)
		})

		t.Run("untouched keys keep their bytes", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, os.WriteFile(s.Path("ids.json"), []byte(`{"id": 9007199254740993, "n": 0, "ratio": 1.10}`), 0o644))
			_, err := s.Update(ctx, "ids.json", func(d Document) (Document, error) {
				d["n"] = 1.0
				return d, nil
			})
			require.NoError(t, err)
			data, err := os.ReadFile(s.Path("ids.json"))
			require.NoError(t, err)
			assert.Equal(t, "{\n  \"id\": 9007199254740993,\n  \"n\": 1,\n  \"ratio\": 1.10\n}\n", string(data))
		})

		t.Run("missing document starts empty", func(t *testing.T) {
			s := setupStore(t, nil)
			got, err := s.Update(ctx, "new.json", func(d Document) (Document, error) {
				assert.Equal(t, Document{}, d)
				d["created"] = true
				return d, nil
			})
			require.NoError(t, err)
			assert.Equal(t, Document{"created": true}, got)
		})

		t.Run("appends in order", func(t *testing.T) {
			s := setupStore(t, nil)
			for i := range 5 {
				_, err := s.Update(ctx, "items.json", func(d Document) (Document, error) {
					items, _ := d["items"].([]any)
					d["items"] = append(items, fmt.Sprintf("item_%d", i))
					return d, nil
				})
				require.NoError(t, err)
			}
			got, err := s.Read(ctx, "items.json")
			require.NoError(t, err)
			assert.Equal(t, []any{"item_0", "item_1", "item_2", "item_3", "item_4"}, got["items"])
		})

		t.Run("nil result persists empty object", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "n.json", Document{"a": 1.0}))
			got, err := s.Update(ctx, "n.json", func(Document) (Document, error) { return nil, nil })
			require.NoError(t, err)
			assert.Equal(t, Document{}, got)
			read, err := s.Read(ctx, "n.json")
			require.NoError(t, err)
			assert.Equal(t, Document{}, read)
		})

		t.Run("lock held during transform", func(t *testing.T) {
			s := setupStore(t, nil)
			_, err := s.Update(ctx, "l.json", func(d Document) (Document, error) {
				assert.True(t, fileExists(t, s.Locker().Path("l.json")))
				return d, nil
			})
			require.NoError(t, err)
			assert.False(t, fileExists(t, s.Locker().Path("l.json")))
		})

		t.Run("transform error", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "tx.json", Document{"counter": 7.0}))
			boom := errors.New("boom")
			got, err := s.Update(ctx, "tx.json", func(d Document) (Document, error) {
				d["counter"] = 100.0
				return nil, boom
			})
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrTransformFailed)
			assert.ErrorIs(t, err, boom)
			var terr *TransformError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, "tx.json", terr.Name)

			read, err := s.Read(ctx, "tx.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"counter": json.Number("7")}, read)
			assert.Empty(t, leftovers(t, s))
		})

		t.Run("transform panic", func(t *testing.T) {
			s := setupStore(t, nil)
			_, err := s.Update(ctx, "p.json", func(d Document) (Document, error) {
				var m map[string]int
				m["boom"]++
				return d, nil
			})
			assert.ErrorIs(t, err, ErrTransformFailed)
			assert.Contains(t, err.Error(), "panic")
			assert.Empty(t, leftovers(t, s))
			_, err = os.Stat(s.Path("p.json"))
			assert.ErrorIs(t, err, os.ErrNotExist)
		})

		t.Run("malformed is not overwritten", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, os.WriteFile(s.Path("m.json"), []byte("{oops"), 0o644))
			called := false
			_, err := s.Update(ctx, "m.json", func(d Document) (Document, error) {
				called = true
				return d, nil
			})
			assert.ErrorIs(t, err, ErrMalformedDocument)
			assert.False(t, called)
			data, err := os.ReadFile(s.Path("m.json"))
			require.NoError(t, err)
			assert.Equal(t, "{oops", string(data))
		})

		t.Run("concurrent increments", func(t *testing.T) {
			s := setupStore(t, nil)
			require.NoError(t, s.Write(ctx, "t.json", Document{"counter": 0}))
			var wg sync.WaitGroup
			errs := make([]error, 5)
			for i := range 5 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = s.Update(ctx, "t.json", increment)
				}()
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}
			got, err := s.Read(ctx, "t.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"counter": json.Number("5")}, got)
		})

		t.Run("no lost updates across stores", func(t *testing.T) {
			root := t.TempDir()
			opts := &Options{Lock: LockOptions{Timeout: time.Minute, RetryInterval: time.Millisecond}}
			const stores, perStore = 4, 10
			var wg sync.WaitGroup
			errs := make(chan error, stores*perStore)
			for range stores {
				s, err := New(root, opts)
				require.NoError(t, err)
				for range perStore {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := s.Update(ctx, "shared.json", incrementAndLog)
						errs <- err
					}()
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			s, err := New(root, nil)
			require.NoError(t, err)
			got, err := s.Read(ctx, "shared.json")
			require.NoError(t, err)
			// Every transform saw the result of the previous one.
			checkLog(t, got, stores*perStore)
			assert.Empty(t, leftovers(t, s))
		})
	})

	t.Run("OnPersist", func(t *testing.T) {
		t.Run("called under lock", func(t *testing.T) {
			var s *Store
			var calls []string
			s = setupStore(t, &Options{OnPersist: func(_ context.Context, name string) error {
				assert.True(t, fileExists(t, s.Locker().Path(name)))
				calls = append(calls, name)
				return nil
			}})
			require.NoError(t, s.Write(ctx, "a.json", Document{}))
			_, err := s.Update(ctx, "b.json", increment)
			require.NoError(t, err)
			_, err = s.Read(ctx, "a.json")
			require.NoError(t, err)
			_, _ = s.Update(ctx, "c.json", func(Document) (Document, error) { return nil, errors.New("no") })
			assert.Equal(t, []string{"a.json", "b.json"}, calls)
		})

		t.Run("error is reported", func(t *testing.T) {
			hookErr := errors.New("hook")
			s := setupStore(t, &Options{OnPersist: func(context.Context, string) error { return hookErr }})
			err := s.Write(ctx, "h.json", Document{"v": 1.0})
			assert.ErrorIs(t, err, hookErr)
			got, err := s.Read(ctx, "h.json")
			require.NoError(t, err)
			assert.Equal(t, Document{"v": json.Number("1")}, got)
		})
	})

	t.Run("Names", func(t *testing.T) {
		s := setupStore(t, nil)
		require.NoError(t, s.Write(ctx, "b.json", Document{}))
		require.NoError(t, s.Write(ctx, "a.json", Document{}))
		require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".hidden"), nil, 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "sub"), 0o755))
		held, err := s.Locker().Acquire(ctx, "c.json")
		require.NoError(t, err)
		defer func() { _ = held.Release() }()
		names, err := s.Names()
		require.NoError(t, err)
		assert.Equal(t, []string{"a.json", "b.json"}, names)
	})
}
