// ABOUTME: Per-contact Direct Line session state and its persistence over a KV store
// ABOUTME: Sessions are JSON encoded under "directline:<contactID>" keys

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/clonepilot/internal/store"
)

// ErrNotFound is returned when no session exists for a contact
var ErrNotFound = errors.New("session not found")

// keyPrefix namespaces session keys inside a shared KV store.
const keyPrefix = "directline:"

// Session links a local contact to a remote conversation.
// A Session is only ever stored with both ConversationID and Token set.
type Session struct {
	ContactID      string    `json:"contactId"`
	ConversationID string    `json:"conversationId"`
	Token          string    `json:"token"`
	Watermark      string    `json:"watermark,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Valid reports whether the session carries everything needed to talk to
// the remote conversation.
func (s *Session) Valid() bool {
	return s != nil && s.ContactID != "" && s.ConversationID != "" && s.Token != ""
}

// LogValue keeps the conversation token out of logs.
func (s *Session) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("contact_id", s.ContactID),
		slog.String("conversation_id", s.ConversationID),
		slog.String("watermark", s.Watermark),
		slog.String("token", redact(s.Token)),
	)
}

func redact(token string) string {
	if len(token) <= 8 {
		return "[redacted]"
	}
	return token[:4] + "…[redacted]"
}

// Store persists sessions in a KV store.
type Store struct {
	kv store.KV
}

// NewStore wraps a KV store.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Key returns the KV key a contact's session is stored under.
func Key(contactID string) string {
	return keyPrefix + contactID
}

// Get returns the session for contactID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, contactID string) (*Session, error) {
	data, err := s.kv.Get(ctx, Key(contactID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session for %q: %w", contactID, err)
	}
	return &sess, nil
}

// Put creates or replaces the session for sess.ContactID.
// Incomplete sessions are rejected so no half-initialized state is ever visible.
func (s *Store) Put(ctx context.Context, sess *Session) error {
	if !sess.Valid() {
		return fmt.Errorf("refusing to store incomplete session")
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, Key(sess.ContactID), data); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// SetWatermark replaces the stored watermark for contactID.
func (s *Store) SetWatermark(ctx context.Context, contactID, watermark string) error {
	sess, err := s.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if sess.Watermark == watermark {
		return nil
	}
	sess.Watermark = watermark
	return s.Put(ctx, sess)
}
