package cache

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/huddle-im/huddle/internal/bus"
	"go.uber.org/zap"
)

// ErrMessageNotFound is returned when a reconcile or mark targets a message
// that is no longer cached.
var ErrMessageNotFound = errors.New("message not found in cache")

// echoWindowMillis bounds the sent-timestamp distance for matching a realtime
// echo of the local user's own in-flight send when identities cannot be
// correlated exactly.
const echoWindowMillis = 30_000

// InsertOutcome reports what InsertIncomingMessage did.
type InsertOutcome int

const (
	// OutcomeInserted means the message was new and is now in the newest page.
	OutcomeInserted InsertOutcome = iota
	// OutcomeDuplicate means a message with the same identity was already cached.
	OutcomeDuplicate
	// OutcomeEchoSuppressed means the message matched the local user's own
	// in-flight optimistic send and was dropped in favor of the send's own
	// confirmation path.
	OutcomeEchoSuppressed
	// OutcomeUnknownConversation means the target conversation is not
	// materialized in any cached scope; the event is a benign no-op.
	OutcomeUnknownConversation
)

// Store is the single shared cache behind every UI surface: cursor-paginated
// pages of conversations and messages keyed by scope, plus the active
// conversation and the local user identity consulted by unread accounting.
//
// All mutation goes through the realtime reducer and the outbox coordinator;
// consumers read flattened projections and subscribe to change events on the
// bus. Every exported method is atomic under one mutex and no lock is ever
// held across a network call. The store has an explicit lifecycle: construct
// at session start, drop at logout.
type Store struct {
	mu          sync.Mutex
	bus         *bus.Bus
	logger      *zap.Logger
	localUserID string
	activeConv  string

	convIndex map[string]*Conversation
	convPages map[string][]*ConversationPage
	msgPages  map[string][]*MessagePage

	gens      map[string]uint64
	msgFlats  map[string]*msgFlat
	convFlats map[string]*convFlat
}

type msgFlat struct {
	gen   uint64
	items []*Message
}

type convFlat struct {
	gen   uint64
	items []*Conversation
}

// NewStore creates an empty store for one logical session.
func NewStore(localUserID string, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		bus:         b,
		logger:      logger,
		localUserID: localUserID,
		convIndex:   make(map[string]*Conversation),
		convPages:   make(map[string][]*ConversationPage),
		msgPages:    make(map[string][]*MessagePage),
		gens:        make(map[string]uint64),
		msgFlats:    make(map[string]*msgFlat),
		convFlats:   make(map[string]*convFlat),
	}
}

// LocalUserID returns the identity whose own messages never count as unread.
func (s *Store) LocalUserID() string {
	return s.localUserID
}

// Active returns the conversation currently open in the UI, or "".
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConv
}

// SetActive marks a conversation as the one the user is viewing and clears
// its unread counter. Pass "" when no conversation is open.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	s.activeConv = conversationID
	var evt *bus.Event
	if c, ok := s.convIndex[conversationID]; ok && c.Unread != 0 {
		c.Unread = 0
		scope := ConversationsScope(c.Kind)
		s.bumpLocked(scope)
		evt = &bus.Event{Scope: scope, Kind: bus.KindUnreadChanged, Payload: conversationID}
	}
	s.mu.Unlock()
	s.publish(evt)
}

// MessagePages returns the cached pages for a message scope, newest-first.
func (s *Store) MessagePages(scope string) []*MessagePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgPages[scope]
}

// ConversationPages returns the cached pages for a conversation scope.
func (s *Store) ConversationPages(scope string) []*ConversationPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convPages[scope]
}

// AppendMessagePage appends an older page fetched past the current history.
func (s *Store) AppendMessagePage(scope string, p *MessagePage) {
	s.mu.Lock()
	s.msgPages[scope] = append(s.msgPages[scope], p)
	s.bumpLocked(scope)
	s.mu.Unlock()
	s.publish(&bus.Event{Scope: scope, Kind: bus.KindPageAppended})
}

// ReplaceAllMessages swaps a scope's entire page sequence, e.g. on refresh.
func (s *Store) ReplaceAllMessages(scope string, pages []*MessagePage) {
	s.mu.Lock()
	s.msgPages[scope] = pages
	s.bumpLocked(scope)
	s.mu.Unlock()
	s.publish(&bus.Event{Scope: scope, Kind: bus.KindPagesReplaced})
}

// AppendConversationPage appends an older conversations page. Items already
// known to the cache keep their canonical struct: fetched fields are merged
// into it so unread and last-message mutations stay visible in every scope.
func (s *Store) AppendConversationPage(scope string, p *ConversationPage) {
	s.mu.Lock()
	s.canonicalizeLocked(p)
	s.convPages[scope] = append(s.convPages[scope], p)
	s.bumpLocked(scope)
	s.mu.Unlock()
	s.publish(&bus.Event{Scope: scope, Kind: bus.KindPageAppended})
}

// ReplaceAllConversations swaps a conversation scope's page sequence.
func (s *Store) ReplaceAllConversations(scope string, pages []*ConversationPage) {
	s.mu.Lock()
	for _, p := range pages {
		s.canonicalizeLocked(p)
	}
	s.convPages[scope] = pages
	s.bumpLocked(scope)
	s.mu.Unlock()
	s.publish(&bus.Event{Scope: scope, Kind: bus.KindPagesReplaced})
}

// canonicalizeLocked rewrites page items to the store's canonical
// per-conversation structs, merging freshly fetched fields into them.
func (s *Store) canonicalizeLocked(p *ConversationPage) {
	for i, c := range p.Items {
		existing, ok := s.convIndex[c.ID]
		if !ok {
			s.convIndex[c.ID] = c
			continue
		}
		existing.Name = c.Name
		existing.Kind = c.Kind
		existing.MemberCount = c.MemberCount
		existing.Unread = c.Unread
		existing.LastMessage = c.LastMessage
		existing.UpdatedAt = c.UpdatedAt
		p.Items[i] = existing
	}
}

// FlattenMessages returns a conversation's known history oldest-first,
// deduplicated by identity (first occurrence in fetch order wins). The result
// is referentially stable: repeated calls over unchanged pages return the
// same slice, so consumers can cheaply skip redundant re-renders.
func (s *Store) FlattenMessages(scope string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gens[scope]
	if f, ok := s.msgFlats[scope]; ok && f.gen == gen {
		return f.items
	}

	seen := make(map[string]struct{})
	var newestFirst []*Message
	for _, p := range s.msgPages[scope] {
		for _, m := range p.Items {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			newestFirst = append(newestFirst, m)
		}
	}

	items := make([]*Message, len(newestFirst))
	for i, m := range newestFirst {
		items[len(items)-1-i] = m
	}
	s.msgFlats[scope] = &msgFlat{gen: gen, items: items}
	return items
}

// FlattenConversations returns a list scope ordered by most recent activity,
// conversations without any message last. Same stability contract as
// FlattenMessages.
func (s *Store) FlattenConversations(scope string) []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.gens[scope]
	if f, ok := s.convFlats[scope]; ok && f.gen == gen {
		return f.items
	}

	seen := make(map[string]struct{})
	var items []*Conversation
	for _, p := range s.convPages[scope] {
		for _, c := range p.Items {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			items = append(items, c)
		}
	}

	sortConversations(items)
	s.convFlats[scope] = &convFlat{gen: gen, items: items}
	return items
}

// Conversation returns a snapshot copy of a cached conversation, or nil.
func (s *Store) Conversation(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convIndex[id]
	if !ok {
		return nil
	}
	cp := *c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

// UnreadCount returns the unread counter for a conversation, 0 if unknown.
func (s *Store) UnreadCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convIndex[id]; ok {
		return c.Unread
	}
	return 0
}

// KnownConversations returns snapshot copies of every cached conversation.
func (s *Store) KnownConversations() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conversation, 0, len(s.convIndex))
	for _, c := range s.convIndex {
		cp := *c
		if c.LastMessage != nil {
			lm := *c.LastMessage
			cp.LastMessage = &lm
		}
		out = append(out, &cp)
	}
	return out
}

// InsertIncomingMessage merges one realtime-delivered message into the cache.
// The check-and-insert is a single atomic step, so a duplicate delivery, an
// echo of the local user's in-flight send, and the coordinator's concurrent
// identity swap can never materialize the same logical message twice.
func (s *Store) InsertIncomingMessage(m *Message) InsertOutcome {
	s.mu.Lock()

	if _, ok := s.convIndex[m.ConversationID]; !ok {
		s.mu.Unlock()
		return OutcomeUnknownConversation
	}

	scope := MessagesScope(m.ConversationID)
	newest := s.newestPageLocked(scope)

	for _, existing := range newest.Items {
		if existing.ID == m.ID {
			s.mu.Unlock()
			return OutcomeDuplicate
		}
	}

	if m.SenderID == s.localUserID {
		for _, existing := range newest.Items {
			if IsLocalID(existing.ID) &&
				(existing.Delivery == DeliverySending || existing.Delivery == DeliveryRetrying) &&
				existing.Body == m.Body &&
				absDiff(existing.SentAt, m.SentAt) <= echoWindowMillis {
				s.mu.Unlock()
				return OutcomeEchoSuppressed
			}
		}
	}

	newest.Items = append([]*Message{m}, newest.Items...)
	s.bumpLocked(scope)
	s.mu.Unlock()

	s.publish(&bus.Event{Scope: scope, Kind: bus.KindMessageInserted, Payload: m.ID})
	return OutcomeInserted
}

// InsertLocalMessage puts a provisional outgoing message at the head of its
// conversation's newest page and promotes it to the last-message summary so
// the sidebar reorders immediately.
func (s *Store) InsertLocalMessage(m *Message) {
	scope := MessagesScope(m.ConversationID)
	s.mu.Lock()
	newest := s.newestPageLocked(scope)
	newest.Items = append([]*Message{m}, newest.Items...)
	s.bumpLocked(scope)
	convScope := s.setLastMessageLocked(m.ConversationID, m.Summary())
	s.mu.Unlock()

	s.publish(&bus.Event{Scope: scope, Kind: bus.KindMessageInserted, Payload: m.ID})
	if convScope != "" {
		s.publish(&bus.Event{Scope: convScope, Kind: bus.KindConversationMeta, Payload: m.ConversationID})
	}
}

// ReconcileLocal swaps a provisional message for the server-confirmed entity
// in place. The slot replacement happens under the store lock, so no flatten
// can ever observe both identities or neither.
func (s *Store) ReconcileLocal(conversationID, localID string, confirmed *Message) error {
	scope := MessagesScope(conversationID)
	if confirmed.Delivery == "" {
		confirmed.Delivery = DeliverySent
	}

	s.mu.Lock()
	slot := s.findMessageLocked(scope, localID)
	if slot == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	*slot = confirmed
	s.bumpLocked(scope)

	var convScope string
	if c, ok := s.convIndex[conversationID]; ok && c.LastMessage != nil && c.LastMessage.MsgID == localID {
		convScope = s.setLastMessageLocked(conversationID, confirmed.Summary())
	}
	s.mu.Unlock()

	s.publish(&bus.Event{Scope: scope, Kind: bus.KindMessageReconciled, Payload: confirmed.ID})
	if convScope != "" {
		s.publish(&bus.Event{Scope: convScope, Kind: bus.KindConversationMeta, Payload: conversationID})
	}
	return nil
}

// MarkFailed flags a provisional message as failed, keeping it visible with
// its failure reason so the user can retry.
func (s *Store) MarkFailed(conversationID, localID, reason string) error {
	return s.markDelivery(conversationID, localID, DeliveryFailed, reason, bus.KindMessageFailed)
}

// MarkRetrying flags a provisional message as being retried.
func (s *Store) MarkRetrying(conversationID, localID string) error {
	return s.markDelivery(conversationID, localID, DeliveryRetrying, "", bus.KindMessageUpdated)
}

func (s *Store) markDelivery(conversationID, localID string, state DeliveryState, reason, kind string) error {
	scope := MessagesScope(conversationID)
	s.mu.Lock()
	slot := s.findMessageLocked(scope, localID)
	if slot == nil {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	(*slot).Delivery = state
	(*slot).FailReason = reason
	s.bumpLocked(scope)
	s.mu.Unlock()

	s.publish(&bus.Event{Scope: scope, Kind: kind, Payload: localID})
	return nil
}

// SetLastMessage updates a conversation's denormalized newest-message summary.
func (s *Store) SetLastMessage(conversationID string, lm *LastMessage) {
	s.mu.Lock()
	convScope := s.setLastMessageLocked(conversationID, lm)
	s.mu.Unlock()
	if convScope != "" {
		s.publish(&bus.Event{Scope: convScope, Kind: bus.KindConversationMeta, Payload: conversationID})
	}
}

// IncrementUnread bumps a conversation's unread counter by one.
func (s *Store) IncrementUnread(conversationID string) {
	s.mu.Lock()
	var evt *bus.Event
	if c, ok := s.convIndex[conversationID]; ok {
		c.Unread++
		scope := ConversationsScope(c.Kind)
		s.bumpLocked(scope)
		evt = &bus.Event{Scope: scope, Kind: bus.KindUnreadChanged, Payload: conversationID}
	}
	s.mu.Unlock()
	s.publish(evt)
}

// ClearUnread resets a conversation's unread counter to zero. Read receipts
// are absolute, so the prior value does not matter.
func (s *Store) ClearUnread(conversationID string) {
	s.mu.Lock()
	var evt *bus.Event
	if c, ok := s.convIndex[conversationID]; ok && c.Unread != 0 {
		c.Unread = 0
		scope := ConversationsScope(c.Kind)
		s.bumpLocked(scope)
		evt = &bus.Event{Scope: scope, Kind: bus.KindUnreadChanged, Payload: conversationID}
	}
	s.mu.Unlock()
	s.publish(evt)
}

// MarkConversationStale records a generic change hint without touching pages
// or unread counters.
func (s *Store) MarkConversationStale(conversationID string, at int64) {
	s.mu.Lock()
	var evt *bus.Event
	if c, ok := s.convIndex[conversationID]; ok {
		c.StaleHint = at
		evt = &bus.Event{Scope: ConversationsScope(c.Kind), Kind: bus.KindStaleHint, Payload: conversationID}
	}
	s.mu.Unlock()
	s.publish(evt)
}

// MarkAllConversationsStale records a change hint on every cached
// conversation, for hub signals that carry no target.
func (s *Store) MarkAllConversationsStale(at int64) {
	s.mu.Lock()
	for _, c := range s.convIndex {
		c.StaleHint = at
	}
	s.mu.Unlock()
	s.publish(&bus.Event{Scope: conversationsPrefix, Kind: bus.KindStaleHint})
}

func (s *Store) setLastMessageLocked(conversationID string, lm *LastMessage) string {
	c, ok := s.convIndex[conversationID]
	if !ok {
		return ""
	}
	c.LastMessage = lm
	c.UpdatedAt = lm.SentAt
	scope := ConversationsScope(c.Kind)
	s.bumpLocked(scope)
	return scope
}

// newestPageLocked returns the first page of a scope, creating a synthetic
// open-ended page when a live message arrives before any history fetch.
func (s *Store) newestPageLocked(scope string) *MessagePage {
	pages := s.msgPages[scope]
	if len(pages) == 0 {
		p := &MessagePage{HasMore: true}
		s.msgPages[scope] = []*MessagePage{p}
		return p
	}
	return pages[0]
}

func (s *Store) findMessageLocked(scope, id string) **Message {
	for _, p := range s.msgPages[scope] {
		for i, m := range p.Items {
			if m.ID == id {
				return &p.Items[i]
			}
		}
	}
	return nil
}

func (s *Store) bumpLocked(scope string) {
	s.gens[scope]++
}

func (s *Store) publish(evt *bus.Event) {
	if evt == nil || s.bus == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.bus.Publish(*evt)
}

// sortConversations orders by newest activity first; conversations without
// any message keep their fetch order at the tail.
func sortConversations(items []*Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.LastMessage == nil || b.LastMessage == nil {
			return a.LastMessage != nil && b.LastMessage == nil
		}
		return a.LastMessage.SentAt > b.LastMessage.SentAt
	})
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
