// Package unread holds the pure accounting rules for per-conversation unread
// counters. Everything is computed from inputs the reducer already has, so
// the rules are testable without any transport in sight.
package unread

import "github.com/huddle-im/huddle/internal/cache"

// ShouldIncrement reports whether a newly delivered message bumps the
// conversation's unread counter. A message is only "new to the user" when the
// conversation is not the one they are viewing and they did not send it
// themselves (possibly from another device).
func ShouldIncrement(conv *cache.Conversation, senderID, activeConversationID, localUserID string) bool {
	if conv == nil {
		return false
	}
	if conv.ID == activeConversationID {
		return false
	}
	if senderID == localUserID {
		return false
	}
	return true
}

// Clear returns the conversation with its unread counter reset. Read receipts
// are absolute, not incremental: the prior value is irrelevant.
func Clear(conv cache.Conversation) cache.Conversation {
	conv.Unread = 0
	return conv
}
