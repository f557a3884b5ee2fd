package api

import (
	"context"
	"fmt"

	"github.com/huddle-im/huddle/internal/cache"
	"go.uber.org/zap"
)

// DefaultPageLimit is the message page size requested from the backend.
const DefaultPageLimit = 50

// Loader drives cursor pagination from the REST boundary into the cache:
// fetch a page, append it on the older end, let the store notify consumers.
type Loader struct {
	store  *cache.Store
	convs  ConversationFetcher
	msgs   MessageFetcher
	logger *zap.Logger
	limit  int
}

// NewLoader creates a loader over the given fetchers.
func NewLoader(store *cache.Store, convs ConversationFetcher, msgs MessageFetcher, logger *zap.Logger, limit int) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &Loader{store: store, convs: convs, msgs: msgs, logger: logger, limit: limit}
}

// RefreshConversations replaces a kind's list with a fresh first page.
func (l *Loader) RefreshConversations(ctx context.Context, kind cache.ConversationKind) error {
	page, err := l.convs.FetchConversations(ctx, kind, "")
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	l.store.ReplaceAllConversations(cache.ConversationsScope(kind), []*cache.ConversationPage{page})
	return nil
}

// LoadMoreConversations appends the next older page of a kind's list. It is a
// no-op once the backend reports no more data.
func (l *Loader) LoadMoreConversations(ctx context.Context, kind cache.ConversationKind) error {
	scope := cache.ConversationsScope(kind)
	cursor, ok := nextConversationCursor(l.store.ConversationPages(scope))
	if !ok {
		return nil
	}
	page, err := l.convs.FetchConversations(ctx, kind, cursor)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	l.store.AppendConversationPage(scope, page)
	return nil
}

// RefreshMessages replaces a conversation's history with a fresh first page.
func (l *Loader) RefreshMessages(ctx context.Context, conversationID string) error {
	page, err := l.msgs.FetchMessages(ctx, conversationID, "", l.limit)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	l.store.ReplaceAllMessages(cache.MessagesScope(conversationID), []*cache.MessagePage{page})
	return nil
}

// LoadOlderMessages appends the next older history page for a conversation.
// It is a no-op once the backend reports no more data.
func (l *Loader) LoadOlderMessages(ctx context.Context, conversationID string) error {
	scope := cache.MessagesScope(conversationID)
	cursor, ok := nextMessageCursor(l.store.MessagePages(scope))
	if !ok {
		return nil
	}
	page, err := l.msgs.FetchMessages(ctx, conversationID, cursor, l.limit)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	l.store.AppendMessagePage(scope, page)
	return nil
}

func nextConversationCursor(pages []*cache.ConversationPage) (string, bool) {
	if len(pages) == 0 {
		return "", true
	}
	last := pages[len(pages)-1]
	return last.NextCursor, last.HasMore
}

func nextMessageCursor(pages []*cache.MessagePage) (string, bool) {
	if len(pages) == 0 {
		return "", true
	}
	last := pages[len(pages)-1]
	return last.NextCursor, last.HasMore
}
