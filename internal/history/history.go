// Package history records successive versions of documents in a git
// repository rooted at the store directory.
//
// It is meant to be plugged into docstore.Options.OnPersist so that commits
// happen while the document lock is held, keeping the commit order of a
// document identical to the order of its writes. A Recorder serializes its own
// commits but does not coordinate with other processes: enable it in a single
// writer process.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ignoreRules keeps lock sentinels and in-flight writes out of the history.
const ignoreRules = "*.lock\n.*.tmp\n"

// Commit is one recorded version.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Recorder commits documents to the repository in dir.
type Recorder struct {
	dir   string
	name  string
	email string

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository in dir, initializing it if needed.
func Open(dir, name, email string) (*Recorder, error) {
	if name == "" {
		name = "docstore"
	}
	if email == "" {
		email = "docstore@localhost"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open git repo: %w", err)
		}
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
	}
	ignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignore); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignore, []byte(ignoreRules), 0o644); err != nil { //nolint:gosec // G306: not a secret
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &Recorder{dir: dir, name: name, email: email, repo: repo}, nil
}

// Record commits the current content of the document file. It is a no-op when
// the content matches the last commit.
func (r *Recorder) Record(_ context.Context, doc, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(doc); err != nil {
		return fmt.Errorf("failed to stage %s: %w", doc, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if fs, ok := status[doc]; !ok || fs.Staging == gogit.Unmodified {
		return nil
	}
	if msg == "" {
		msg = "update " + doc
	}
	now := time.Now()
	sig := &object.Signature{Name: r.name, Email: r.email, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit %s: %w", doc, err)
	}
	return nil
}

// Log returns up to n commits touching doc, newest first. n <= 0 means 100.
func (r *Recorder) Log(_ context.Context, doc string, n int) ([]*Commit, error) {
	if n <= 0 {
		n = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(&gogit.LogOptions{FileName: &doc})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

// At returns the content of doc as of revision rev: a full or abbreviated
// commit hash, or "HEAD" for the latest.
func (r *Recorder) At(_ context.Context, rev, doc string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	c, err := r.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", rev, err)
	}
	f, err := c.File(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s at %s: %w", doc, rev, err)
	}
	s, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", doc, rev, err)
	}
	return []byte(s), nil
}
