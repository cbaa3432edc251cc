package conversation

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

type conversationsFile struct {
	Conversations map[string]Conversation `json:"conversations"`
}

type usersFile struct {
	Users map[string]User `json:"users"`
}

type projectsFile struct {
	Projects map[string]Project `json:"projects"`
}

// Schema returns the JSON Schema of one of the documents managed by Service.
func Schema(doc string) (*jsonschema.Schema, error) {
	var v any
	switch doc {
	case ConversationsDoc:
		v = &conversationsFile{}
	case UsersDoc:
		v = &usersFile{}
	case ProjectsDoc:
		v = &projectsFile{}
	default:
		return nil, fmt.Errorf("no schema for document %q", doc)
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.Reflect(v), nil
}

// Documents lists the document names managed by Service.
func Documents() []string {
	return []string{ConversationsDoc, UsersDoc, ProjectsDoc}
}
