// Package conversation stores conversations, users and projects as records
// inside shared docstore documents.
//
// Each kind lives in its own document under a top-level key mapping record ID
// to record:
//
//	conversations.json  {"conversations": {"<id>": Conversation}}
//	users.json          {"users": {"<id>": User}}
//	projects.json       {"projects": {"<id>": Project}}
//
// Every mutation is a single docstore Update so concurrent request handlers
// never lose each other's changes.
package conversation
