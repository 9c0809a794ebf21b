package store

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("not_found")

// Event is one delivery on a subscription: the full document at the
// subscribed key after a change. Doc is nil when the document was deleted.
type Event struct {
	Key string
	Doc map[string]any
}

// Store is the shared session backend. Documents are JSON-shaped maps keyed
// by a flat string key. Delivery on subscriptions is at-least-once and
// eventually consistent; per-key write order is preserved, cross-key order
// is not. There are no cross-key transactions.
//
// Update merges fields into an existing document. Field names may use "/"
// to address nested fields ("players/player_2/deaths"); a nil value deletes
// the field. Updating a key that does not exist is a no-op, so late writes
// against a torn-down session (heartbeats, stale position updates) cannot
// resurrect it.
type Store interface {
	Put(ctx context.Context, key string, doc map[string]any) error
	Update(ctx context.Context, key string, fields map[string]any) error
	Get(ctx context.Context, key string) (map[string]any, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]map[string]any, error)
	Subscribe(ctx context.Context, key string) (<-chan Event, error)
	Close() error
}

const (
	SessionPrefix    = "sessions/"
	InvitationPrefix = "invitations/"
)

func SessionKey(sessionID string) string {
	return SessionPrefix + sessionID
}

func InvitationKey(invitationID string) string {
	return InvitationPrefix + invitationID
}

// ApplyFields merges an Update field set into doc, creating intermediate
// maps as needed. Shared by every backend so merge semantics stay identical.
func ApplyFields(doc map[string]any, fields map[string]any) {
	for name, value := range fields {
		parts := strings.Split(name, "/")
		node := doc
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if value == nil {
			delete(node, leaf)
			continue
		}
		node[leaf] = value
	}
}

// CloneDoc deep-copies a document so callers never alias backend state.
func CloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if child, ok := v.(map[string]any); ok {
			out[k] = CloneDoc(child)
			continue
		}
		out[k] = v
	}
	return out
}
