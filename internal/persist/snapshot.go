package persist

import (
	"fmt"

	"github.com/huddle-im/huddle/internal/cache"
)

// snapshotMessagesPerConversation bounds how much history each conversation
// keeps across restarts; older pages are refetched on demand.
const snapshotMessagesPerConversation = 50

// SaveSnapshot replaces the persisted snapshot with the store's current
// conversations and the newest messages of each. Provisional local messages
// are skipped: their send bookkeeping does not survive a restart, so
// persisting them would strand unretryable ghosts.
func (db *DB) SaveSnapshot(store *cache.Store) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for _, c := range store.KnownConversations() {
		lm := c.LastMessage
		if lm == nil {
			lm = &cache.LastMessage{}
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, name, kind, member_count, unread_count,
				last_msg_id, last_msg_sender, last_msg_snippet, last_msg_kind, last_msg_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, string(c.Kind), c.MemberCount, c.Unread,
			lm.MsgID, lm.SenderID, lm.Snippet, string(lm.Kind), lm.SentAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		flat := store.FlattenMessages(cache.MessagesScope(c.ID))
		start := 0
		if len(flat) > snapshotMessagesPerConversation {
			start = len(flat) - snapshotMessagesPerConversation
		}
		for _, m := range flat[start:] {
			if cache.IsLocalID(m.ID) {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO messages (conversation_id, msg_id, sender_id, sender_name, body, kind,
					sent_at, edited_at, pinned, starred)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ConversationID, m.ID, m.SenderID, m.SenderName, m.Body, string(m.Kind),
				m.SentAt, m.EditedAt, m.Pinned, m.Starred); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot seeds an empty store from the persisted snapshot. Every loaded
// page advertises more data so the loader can page past the snapshot into
// real history.
func (db *DB) LoadSnapshot(store *cache.Store) error {
	byKind := make(map[cache.ConversationKind][]*cache.Conversation)
	convIDs := []string{}

	rows, err := db.Query(`
		SELECT id, name, kind, member_count, unread_count,
			last_msg_id, last_msg_sender, last_msg_snippet, last_msg_kind, last_msg_at, updated_at
		FROM conversations ORDER BY last_msg_at DESC`)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	for rows.Next() {
		var c cache.Conversation
		var kind string
		lm := cache.LastMessage{}
		var lmKind string
		if err := rows.Scan(&c.ID, &c.Name, &kind, &c.MemberCount, &c.Unread,
			&lm.MsgID, &lm.SenderID, &lm.Snippet, &lmKind, &lm.SentAt, &c.UpdatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan conversation: %w", err)
		}
		c.Kind = cache.ConversationKind(kind)
		if lm.MsgID != "" {
			lm.Kind = cache.ContentKind(lmKind)
			c.LastMessage = &lm
		}
		byKind[c.Kind] = append(byKind[c.Kind], &c)
		convIDs = append(convIDs, c.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("load conversations: %w", err)
	}
	_ = rows.Close()

	for kind, items := range byKind {
		store.ReplaceAllConversations(cache.ConversationsScope(kind), []*cache.ConversationPage{
			{Items: items, HasMore: true},
		})
	}

	for _, id := range convIDs {
		msgs, err := db.loadMessages(id)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			continue
		}
		store.ReplaceAllMessages(cache.MessagesScope(id), []*cache.MessagePage{
			{Items: msgs, HasMore: true},
		})
	}
	return nil
}

// loadMessages returns a conversation's snapshot newest-first, matching the
// fetch order pages arrive in.
func (db *DB) loadMessages(conversationID string) ([]*cache.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, sender_name, body, kind,
			sent_at, edited_at, pinned, starred
		FROM messages WHERE conversation_id = ?
		ORDER BY sent_at DESC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*cache.Message
	for rows.Next() {
		var m cache.Message
		var kind string
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.SenderName, &m.Body, &kind,
			&m.SentAt, &m.EditedAt, &m.Pinned, &m.Starred); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = cache.ContentKind(kind)
		m.Delivery = cache.DeliverySent
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
