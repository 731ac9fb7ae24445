// ABOUTME: Stateless HTTP client for the Direct Line REST protocol
// ABOUTME: Creates conversations, posts activities and fetches activity pages by watermark

package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// maxResponseBody bounds how much of a successful response body is read.
const maxResponseBody = 8 << 20

// Operation names used in errors, logs and metrics.
const (
	OpCreateConversation = "create_conversation"
	OpPostActivity       = "post_activity"
	OpFetchActivities    = "fetch_activities"
)

// Observer receives one callback per completed HTTP exchange.
type Observer interface {
	ObserveRequest(op, outcome string, elapsed time.Duration)
}

// Config configures a Client.
type Config struct {
	Endpoint    string
	Credentials CredentialSource
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Observer    Observer
}

// Client talks to a Direct Line endpoint. It holds no conversation state and
// is safe for concurrent use.
type Client struct {
	endpoint string
	creds    CredentialSource
	http     *http.Client
	logger   *slog.Logger
	observer Observer
}

// NewClient creates a Client. It fails with ErrNotConfigured when no
// credential source is given, so a misconfigured relay is caught at startup.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, ErrNotConfigured
	}
	if s, ok := cfg.Credentials.(StaticCredential); ok && s == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is empty", ErrNotConfigured)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		creds:    cfg.Credentials,
		http:     httpClient,
		logger:   logger.With("component", "directline"),
		observer: cfg.Observer,
	}, nil
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CreateConversation opens a new remote conversation using the endpoint credential.
func (c *Client) CreateConversation(ctx context.Context) (*Conversation, error) {
	secret, err := c.creds.Token(ctx)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return nil, fmt.Errorf("obtaining credential: %w", err)
	case err != nil:
		return nil, fmt.Errorf("%w: obtaining credential: %w", ErrTransportUnavailable, err)
	}
	if secret == "" {
		return nil, ErrNotConfigured
	}

	var conv Conversation
	if err := c.do(ctx, OpCreateConversation, http.MethodPost, c.endpoint+"/conversations", secret, nil, &conv, ErrTransportUnavailable); err != nil {
		return nil, err
	}
	if conv.ConversationID == "" || conv.Token == "" {
		return nil, fmt.Errorf("%w: %s: response missing conversation id or token", ErrTransportUnavailable, OpCreateConversation)
	}

	c.logger.Debug("conversation created", "conversation_id", conv.ConversationID)
	return &conv, nil
}

// PostActivity sends one activity into the conversation and returns the id
// the remote assigned to it.
func (c *Client) PostActivity(ctx context.Context, conv *Conversation, activity *Activity) (string, error) {
	if !usable(conv) {
		return "", ErrNoActiveSession
	}

	var resp activityID
	if err := c.do(ctx, OpPostActivity, http.MethodPost, c.activitiesURL(conv), conv.Token, activity, &resp, ErrTransportRejected); err != nil {
		return "", err
	}

	c.logger.Debug("activity posted",
		"conversation_id", conv.ConversationID,
		"type", activity.Type,
		"activity_id", resp.ID)
	return resp.ID, nil
}

// FetchActivities returns the activities after watermark. An empty watermark
// fetches from the start of the conversation.
func (c *Client) FetchActivities(ctx context.Context, conv *Conversation, watermark string) (*ActivitySet, error) {
	if !usable(conv) {
		return nil, ErrNoActiveSession
	}

	u := c.activitiesURL(conv)
	if watermark != "" {
		u += "?" + url.Values{"watermark": {watermark}}.Encode()
	}

	var set ActivitySet
	if err := c.do(ctx, OpFetchActivities, http.MethodGet, u, conv.Token, nil, &set, ErrTransportUnavailable); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) activitiesURL(conv *Conversation) string {
	return c.endpoint + "/conversations/" + url.PathEscape(conv.ConversationID) + "/activities"
}

func usable(conv *Conversation) bool {
	return conv != nil && conv.ConversationID != "" && conv.Token != ""
}

// do performs one JSON exchange. Non-2xx responses become a *StatusError of
// kind statusKind; network and decoding failures are ErrTransportUnavailable.
func (c *Client) do(ctx context.Context, op, method, target, bearer string, in, out any, statusKind error) error {
	start := time.Now()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, "error", start)
		return fmt.Errorf("%w: %s: %w", ErrTransportUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.observe(op, statusClass(resp.StatusCode), start)
		c.logger.Warn("directline request failed",
			"op", op,
			"status", resp.StatusCode)
		return &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errBody)),
			kind:       statusKind,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.observe(op, "error", start)
		return fmt.Errorf("%w: %s: reading response: %w", ErrTransportUnavailable, op, err)
	}
	c.observe(op, "ok", start)

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: decoding response: %w", ErrTransportUnavailable, op, err)
	}
	return nil
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, outcome, time.Since(start))
	}
}

// statusClass buckets a status code as "http_4xx" or "http_5xx" to keep metric labels bounded.
func statusClass(code int) string {
	return fmt.Sprintf("http_%dxx", code/100)
}
