package cache

import (
	"strings"

	"github.com/google/uuid"
)

// ConversationKind distinguishes group rooms from direct chats.
type ConversationKind string

const (
	KindGroup  ConversationKind = "group"
	KindDirect ConversationKind = "direct"
)

// ContentKind is the canonical message content type.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentFile  ContentKind = "file"
	ContentTask  ContentKind = "task"
)

// DeliveryState tracks an outgoing message through its send lifecycle.
type DeliveryState string

const (
	DeliverySending  DeliveryState = "sending"
	DeliverySent     DeliveryState = "sent"
	DeliveryRetrying DeliveryState = "retrying"
	DeliveryFailed   DeliveryState = "failed"
)

// LocalIDPrefix marks a provisional message identity minted on this client
// before the server has assigned one.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh provisional message identity.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a provisional client-minted identity.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID   string
	Name string
	URL  string
	Size int64
}

// LastMessage is the denormalized newest-message projection carried on a
// conversation for sidebar rendering and activity sorting.
type LastMessage struct {
	MsgID    string
	SenderID string
	Snippet  string
	Kind     ContentKind
	SentAt   int64
}

// Conversation is a cached conversation. Unread is never negative: it counts
// messages delivered while the conversation was not active.
type Conversation struct {
	ID          string
	Name        string
	Kind        ConversationKind
	MemberCount int
	Unread      int
	LastMessage *LastMessage
	UpdatedAt   int64

	// StaleHint is the time of the last generic "something changed" signal
	// from the hub. Views may refresh metadata lazily; the cache never
	// discards state because of it.
	StaleHint int64
}

// Message is a cached message. ID is server-assigned once confirmed; while
// optimistic it carries a LocalIDPrefix identity.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
	Kind           ContentKind
	SentAt         int64
	EditedAt       int64 // 0 = never edited
	Pinned         bool
	Starred        bool
	Attachments    []Attachment
	Delivery       DeliveryState
	FailReason     string
}

// Summary projects a message into the conversation's LastMessage slot.
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		MsgID:    m.ID,
		SenderID: m.SenderID,
		Snippet:  truncate(m.Body, 100),
		Kind:     m.Kind,
		SentAt:   m.SentAt,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// MessagePage is a cursor-bounded slice of messages, newest-first as fetched.
type MessagePage struct {
	Items      []*Message
	NextCursor string
	HasMore    bool
}

// ConversationPage is a cursor-bounded slice of conversations as fetched.
type ConversationPage struct {
	Items      []*Conversation
	NextCursor string
	HasMore    bool
}
