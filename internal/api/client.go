// Package api defines the boundary to the huddle REST backend: cursor-
// paginated fetches, the message write call, and a loader that drives pages
// into the cache. The sync core only depends on the interfaces here, so tests
// run against fakes and the HTTP client stays replaceable.
package api

import (
	"context"

	"github.com/huddle-im/huddle/internal/cache"
)

// ConversationFetcher pages through conversation lists, newest activity first.
type ConversationFetcher interface {
	FetchConversations(ctx context.Context, kind cache.ConversationKind, cursor string) (*cache.ConversationPage, error)
}

// MessageFetcher pages through one conversation's history, newest first.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, conversationID, cursor string, limit int) (*cache.MessagePage, error)
}

// MessageSender submits an outgoing message and returns the confirmed entity.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, body string, kind cache.ContentKind, attachments []cache.Attachment) (*cache.Message, error)
}
