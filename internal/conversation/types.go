package conversation

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"

	"github.com/invopop/jsonschema"
)

// Document names and their top-level keys.
const (
	ConversationsDoc = "conversations.json"
	UsersDoc         = "users.json"
	ProjectsDoc      = "projects.json"

	conversationsKey = "conversations"
	usersKey         = "users"
	projectsKey      = "projects"
)

// DefaultTitle is used when a conversation is created without a title.
const DefaultTitle = "New Conversation"

// Message is one entry of a conversation.
type Message struct {
	ID        string         `json:"id" jsonschema:"description=Unique message identifier"`
	Content   string         `json:"content"`
	Role      string         `json:"role" jsonschema:"enum=user,enum=assistant,enum=system"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Conversation is an ordered list of messages.
type Conversation struct {
	ID        string    `json:"id" jsonschema:"description=Unique conversation identifier"`
	Title     string    `json:"title"`
	UserID    string    `json:"user_id,omitempty" jsonschema:"description=Owner of the conversation"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" jsonschema:"description=Time of the last message"`
	Messages  []Message `json:"messages"`
}

// User is a registered caller.
//
// Attributes supplied at registration are stored flat in the user's JSON
// object next to id and created_at, which take precedence on a name clash.
type User struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Attributes map[string]any `json:"-"`
}

func (u User) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(u.Attributes)+2)
	maps.Copy(m, u.Attributes)
	m["id"] = u.ID
	m["created_at"] = u.CreatedAt
	return json.Marshal(m)
}

func (u *User) UnmarshalJSON(b []byte) error {
	var fields struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var attrs map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return err
	}
	delete(attrs, "id")
	delete(attrs, "created_at")
	if len(attrs) == 0 {
		attrs = nil
	}
	*u = User{ID: fields.ID, CreatedAt: fields.CreatedAt, Attributes: attrs}
	return nil
}

// JSONSchemaExtend documents that a user record carries free-form attributes.
func (User) JSONSchemaExtend(s *jsonschema.Schema) {
	s.AdditionalProperties = jsonschema.TrueSchema
}

// Project groups conversations.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
