package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/maruel/ksid"

	"github.com/maruel/docstore/internal/docstore"
)

var (
	// ErrNotFound is returned when the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	errIDRequired   = errors.New("id is required")
	errUserExists   = errors.New("user exists")
	errNameRequired = errors.New("name is required")
)

// Service manages conversations, users and projects.
type Service struct {
	store  docstore.Repository
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Service persisting into store.
func New(store docstore.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "conversation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func newID() string {
	return ksid.NewID().String()
}

// Create adds an empty conversation.
func (s *Service) Create(ctx context.Context, userID, projectID, title string) (*Conversation, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	c := &Conversation{
		ID:        newID(),
		Title:     title,
		UserID:    userID,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if _, err := s.store.Update(ctx, ConversationsDoc, func(d docstore.Document) (docstore.Document, error) {
		return d, putRecord(d, conversationsKey, c.ID, c)
	}); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.InfoContext(ctx, "Created conversation", "id", c.ID, "user", userID, "project", projectID)
	return c, nil
}

// Get returns the conversation id, or nil if it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	d, err := s.store.Read(ctx, ConversationsDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return getRecord[Conversation](d, conversationsKey, id)
}

// List returns conversations, most recently updated first. A non-empty userID
// restricts the result to that user's conversations.
func (s *Service) List(ctx context.Context, userID string) ([]*Conversation, error) {
	d, err := s.store.Read(ctx, ConversationsDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	all, err := allRecords[Conversation](d, conversationsKey)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Conversation) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// AddMessage appends a message to the conversation convID.
//
// Returns an error matching ErrNotFound if the conversation does not exist.
func (s *Service) AddMessage(ctx context.Context, convID, content, role string, metadata map[string]any) (*Message, error) {
	if role == "" {
		role = "user"
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	var msg *Message
	_, err := s.store.Update(ctx, ConversationsDoc, func(d docstore.Document) (docstore.Document, error) {
		c, err := getRecord[Conversation](d, conversationsKey, convID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("conversation %q: %w", convID, ErrNotFound)
		}
		now := s.now()
		msg = &Message{ID: newID(), Content: content, Role: role, Timestamp: now, Metadata: metadata}
		c.Messages = append(c.Messages, *msg)
		c.UpdatedAt = now
		return d, putRecord(d, conversationsKey, convID, c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	s.logger.DebugContext(ctx, "Added message", "conversation", convID, "role", role)
	return msg, nil
}

// Delete removes the conversation id. It reports false if it did not exist.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	found := false
	_, err := s.store.Update(ctx, ConversationsDoc, func(d docstore.Document) (docstore.Document, error) {
		found = deleteRecord(d, conversationsKey, id)
		return d, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	if found {
		s.logger.InfoContext(ctx, "Deleted conversation", "id", id)
	}
	return found, nil
}

// EnsureUser returns the user id, registering it with attrs if it does not
// exist yet. attrs are ignored for an existing user, and nothing is written.
func (s *Service) EnsureUser(ctx context.Context, id string, attrs map[string]any) (*User, error) {
	if id == "" {
		return nil, errIDRequired
	}
	var u *User
	_, err := s.store.Update(ctx, UsersDoc, func(d docstore.Document) (docstore.Document, error) {
		existing, err := getRecord[User](d, usersKey, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			u = existing
			return nil, errUserExists
		}
		u = &User{ID: id, CreatedAt: s.now(), Attributes: attrs}
		return d, putRecord(d, usersKey, id, u)
	})
	if errors.Is(err, errUserExists) {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	s.logger.InfoContext(ctx, "Registered user", "id", id)
	return u, nil
}

// GetUser returns the user id, or nil if it does not exist.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	d, err := s.store.Read(ctx, UsersDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return getRecord[User](d, usersKey, id)
}

// CreateProject adds a project.
func (s *Service) CreateProject(ctx context.Context, name, description, ownerID string) (*Project, error) {
	if name == "" {
		return nil, errNameRequired
	}
	p := &Project{ID: newID(), Name: name, Description: description, OwnerID: ownerID, CreatedAt: s.now()}
	if _, err := s.store.Update(ctx, ProjectsDoc, func(d docstore.Document) (docstore.Document, error) {
		return d, putRecord(d, projectsKey, p.ID, p)
	}); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.logger.InfoContext(ctx, "Created project", "id", p.ID, "name", name)
	return p, nil
}

// ListProjects returns projects sorted by creation time. A non-empty ownerID
// restricts the result to that owner's projects.
func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	d, err := s.store.Read(ctx, ProjectsDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects: %w", err)
	}
	all, err := allRecords[Project](d, projectsKey)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if ownerID == "" || p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *Project) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func getRecord[T any](d docstore.Document, key, id string) (*T, error) {
	table, ok := d[key].(map[string]any)
	if !ok {
		return nil, nil
	}
	v, ok, err := docstore.Get[T](docstore.Document(table), id)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func allRecords[T any](d docstore.Document, key string) ([]*T, error) {
	table, ok := d[key].(map[string]any)
	if !ok {
		return nil, nil
	}
	out := make([]*T, 0, len(table))
	for id := range table {
		v, ok, err := docstore.Get[T](docstore.Document(table), id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, &v)
		}
	}
	return out, nil
}

func putRecord(d docstore.Document, key, id string, v any) error {
	return docstore.Set(docstore.Document(docstore.Object(d, key)), id, v)
}

func deleteRecord(d docstore.Document, key, id string) bool {
	table, ok := d[key].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := table[id]; !ok {
		return false
	}
	delete(table, id)
	return true
}
