// ABOUTME: HTTP client for the clonepilot relay API
// ABOUTME: Sends messages, starts conversations and reads conversation info

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/clonepilot/internal/directline"
)

// maxErrorBody bounds how much of a non-JSON error body is kept.
const maxErrorBody = 4 << 10

// Reply is the relay's answer to a start or message call.
type Reply struct {
	ContactID      string                `json:"contactId"`
	ConversationID string                `json:"conversationId,omitempty"`
	Started        bool                  `json:"started"`
	Activities     []directline.Activity `json:"activities"`
	Messages       []string              `json:"messages"`
	Complete       bool                  `json:"complete"`
	StopReason     string                `json:"stopReason,omitempty"`
	Watermark      string                `json:"watermark,omitempty"`
}

// ConversationInfo describes a contact's conversation.
type ConversationInfo struct {
	ContactID       string     `json:"contactId"`
	HasConversation bool       `json:"hasConversation"`
	ConversationID  string     `json:"conversationId,omitempty"`
	Watermark       string     `json:"watermark,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// APIError is a non-2xx relay response.
type APIError struct {
	StatusCode     int
	Message        string
	Kind           string
	UpstreamStatus int
	Retryable      bool

	// Reply holds activities collected before a mid-turn failure.
	Reply *Reply
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("relay: %s (%d %s)", e.Message, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("relay: %s (%d)", e.Message, e.StatusCode)
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Client talks to a clonepilot relay.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer JWT sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the relay at baseURL, e.g. "http://127.0.0.1:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage relays text for contactID and returns the agent's reply.
func (c *Client) SendMessage(ctx context.Context, contactID, text string) (*Reply, error) {
	var reply Reply
	body := map[string]string{"contactId": contactID, "text": text}
	if err := c.do(ctx, http.MethodPost, "/directline/message", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// StartConversation starts a conversation for contactID and returns the greeting.
func (c *Client) StartConversation(ctx context.Context, contactID string) (*Reply, error) {
	var reply Reply
	body := map[string]string{"contactId": contactID}
	if err := c.do(ctx, http.MethodPost, "/directline/start", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// ConversationInfo reports whether contactID has a conversation.
func (c *Client) ConversationInfo(ctx context.Context, contactID string) (*ConversationInfo, error) {
	var info ConversationInfo
	path := "/directline/conversations/" + url.PathEscape(contactID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health checks the relay's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "unhealthy"}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns a relay error body into an *APIError. Bodies that are
// not JSON are kept verbatim as the message.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error          string `json:"error"`
		Kind           string `json:"kind"`
		UpstreamStatus int    `json:"upstreamStatus"`
		Retryable      bool   `json:"retryable"`
		Reply          *Reply `json:"reply"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
		apiErr.UpstreamStatus = body.UpstreamStatus
		apiErr.Retryable = body.Retryable
		apiErr.Reply = body.Reply
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
