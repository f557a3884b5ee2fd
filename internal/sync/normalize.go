package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huddle-im/huddle/internal/cache"
)

// ErrMalformedEvent marks a realtime payload missing required fields. Such
// events are logged and dropped at the ingress boundary.
var ErrMalformedEvent = errors.New("malformed realtime event")

// Canonical event types after normalization.
const (
	TypeMessageSent         = "message.sent"
	TypeMessageRead         = "message.read"
	TypeConversationUpdated = "conversation.updated"
)

// Envelope is the decoded wire frame from the realtime hub.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// canonicalType folds the event-name spellings different hub versions emit
// into one canonical set.
func canonicalType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "message.sent", "messagesent", "message.new", "message_new":
		return TypeMessageSent
	case "message.read", "messageread", "message_read":
		return TypeMessageRead
	case "conversation.updated", "conversationupdated", "conversation_updated":
		return TypeConversationUpdated
	default:
		return ""
	}
}

// wireKind tolerates the content kind arriving as a string name or a numeric
// code, depending on hub version.
type wireKind struct {
	kind cache.ContentKind
}

func (k *wireKind) UnmarshalJSON(b []byte) error {
	var code int
	if err := json.Unmarshal(b, &code); err == nil {
		switch code {
		case 2:
			k.kind = cache.ContentImage
		case 3:
			k.kind = cache.ContentFile
		case 4:
			k.kind = cache.ContentTask
		default:
			k.kind = cache.ContentText
		}
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("%w: content kind is neither code nor name", ErrMalformedEvent)
	}
	switch strings.ToLower(name) {
	case "image":
		k.kind = cache.ContentImage
	case "file":
		k.kind = cache.ContentFile
	case "task":
		k.kind = cache.ContentTask
	default:
		k.kind = cache.ContentText
	}
	return nil
}

// wireTime tolerates timestamps arriving as unix milliseconds or RFC3339.
type wireTime struct {
	millis int64
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		t.millis = n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: unparseable timestamp", ErrMalformedEvent)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedEvent, s)
	}
	t.millis = parsed.UnixMilli()
	return nil
}

type wireAttachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type wireMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	Content        string           `json:"content"`
	Body           string           `json:"body"`
	Kind           *wireKind        `json:"kind"`
	Type           *wireKind        `json:"type"`
	SentAt         *wireTime        `json:"sentAt"`
	CreatedAt      *wireTime        `json:"createdAt"`
	EditedAt       *wireTime        `json:"editedAt"`
	Pinned         bool             `json:"pinned"`
	Starred        bool             `json:"starred"`
	Attachments    []wireAttachment `json:"attachments"`
}

// normalizeMessageSent turns a message.sent payload into a cache message.
// The payload may be the message object itself or wrapped under "message".
func normalizeMessageSent(payload json.RawMessage) (*cache.Message, error) {
	var wrapped struct {
		Message *wireMessage `json:"message"`
	}
	wm := &wireMessage{}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Message != nil {
		wm = wrapped.Message
	} else if err := json.Unmarshal(payload, wm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if wm.ID == "" || wm.ConversationID == "" || wm.SenderID == "" {
		return nil, fmt.Errorf("%w: missing id, conversationId or senderId", ErrMalformedEvent)
	}

	body := wm.Content
	if body == "" {
		body = wm.Body
	}
	kind := cache.ContentText
	if wm.Kind != nil {
		kind = wm.Kind.kind
	} else if wm.Type != nil {
		kind = wm.Type.kind
	}
	sentAt := time.Now().UnixMilli()
	if wm.SentAt != nil {
		sentAt = wm.SentAt.millis
	} else if wm.CreatedAt != nil {
		sentAt = wm.CreatedAt.millis
	}
	var editedAt int64
	if wm.EditedAt != nil {
		editedAt = wm.EditedAt.millis
	}

	m := &cache.Message{
		ID:             wm.ID,
		ConversationID: wm.ConversationID,
		SenderID:       wm.SenderID,
		SenderName:     wm.SenderName,
		Body:           body,
		Kind:           kind,
		SentAt:         sentAt,
		EditedAt:       editedAt,
		Pinned:         wm.Pinned,
		Starred:        wm.Starred,
		Delivery:       cache.DeliverySent,
	}
	for _, a := range wm.Attachments {
		m.Attachments = append(m.Attachments, cache.Attachment(a))
	}
	return m, nil
}

// normalizeMessageRead extracts the conversation and reader from a
// message.read payload.
func normalizeMessageRead(payload json.RawMessage) (conversationID, userID string, err error) {
	var wire struct {
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if wire.ConversationID == "" {
		return "", "", fmt.Errorf("%w: missing conversationId", ErrMalformedEvent)
	}
	return wire.ConversationID, wire.UserID, nil
}
