package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/huddle-im/huddle/internal/cache"
)

// Client is the REST implementation of the fetch and send boundaries.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a REST client for the given backend.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type conversationDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	MemberCount int             `json:"memberCount"`
	UnreadCount int             `json:"unreadCount"`
	LastMessage *lastMessageDTO `json:"lastMessage"`
	UpdatedAt   int64           `json:"updatedAt"`
}

type lastMessageDTO struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	Snippet  string `json:"snippet"`
	Kind     string `json:"kind"`
	SentAt   int64  `json:"sentAt"`
}

type messageDTO struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	SenderName     string          `json:"senderName"`
	Body           string          `json:"body"`
	Kind           string          `json:"kind"`
	SentAt         int64           `json:"sentAt"`
	EditedAt       int64           `json:"editedAt"`
	Pinned         bool            `json:"pinned"`
	Starred        bool            `json:"starred"`
	Attachments    []attachmentDTO `json:"attachments"`
}

type attachmentDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type pageDTO[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor"`
	HasMore    bool   `json:"hasMore"`
}

// FetchConversations implements ConversationFetcher.
func (c *Client) FetchConversations(ctx context.Context, kind cache.ConversationKind, cursor string) (*cache.ConversationPage, error) {
	q := url.Values{"kind": {string(kind)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var dto pageDTO[conversationDTO]
	if err := c.get(ctx, "/api/conversations?"+q.Encode(), &dto); err != nil {
		return nil, err
	}

	page := &cache.ConversationPage{NextCursor: dto.NextCursor, HasMore: dto.HasMore}
	for _, d := range dto.Items {
		page.Items = append(page.Items, d.toCache())
	}
	return page, nil
}

// FetchMessages implements MessageFetcher.
func (c *Client) FetchMessages(ctx context.Context, conversationID, cursor string, limit int) (*cache.MessagePage, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var dto pageDTO[messageDTO]
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()
	if err := c.get(ctx, path, &dto); err != nil {
		return nil, err
	}

	page := &cache.MessagePage{NextCursor: dto.NextCursor, HasMore: dto.HasMore}
	for _, d := range dto.Items {
		page.Items = append(page.Items, d.toCache())
	}
	return page, nil
}

// SendMessage implements MessageSender.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string, kind cache.ContentKind, attachments []cache.Attachment) (*cache.Message, error) {
	reqBody := map[string]any{
		"body": body,
		"kind": string(kind),
	}
	if len(attachments) > 0 {
		ids := make([]string, len(attachments))
		for i, a := range attachments {
			ids[i] = a.ID
		}
		reqBody["attachmentIds"] = ids
	}

	var dto messageDTO
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.post(ctx, path, reqBody, &dto); err != nil {
		return nil, err
	}
	return dto.toCache(), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", req.URL.Path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (d *conversationDTO) toCache() *cache.Conversation {
	c := &cache.Conversation{
		ID:          d.ID,
		Name:        d.Name,
		Kind:        cache.ConversationKind(d.Kind),
		MemberCount: d.MemberCount,
		Unread:      d.UnreadCount,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.LastMessage != nil {
		c.LastMessage = &cache.LastMessage{
			MsgID:    d.LastMessage.ID,
			SenderID: d.LastMessage.SenderID,
			Snippet:  d.LastMessage.Snippet,
			Kind:     cache.ContentKind(d.LastMessage.Kind),
			SentAt:   d.LastMessage.SentAt,
		}
	}
	return c
}

func (d *messageDTO) toCache() *cache.Message {
	m := &cache.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		SenderName:     d.SenderName,
		Body:           d.Body,
		Kind:           cache.ContentKind(d.Kind),
		SentAt:         d.SentAt,
		EditedAt:       d.EditedAt,
		Pinned:         d.Pinned,
		Starred:        d.Starred,
		Delivery:       cache.DeliverySent,
	}
	for _, a := range d.Attachments {
		m.Attachments = append(m.Attachments, cache.Attachment(a))
	}
	return m
}
