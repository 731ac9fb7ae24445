// ABOUTME: Conversation service relaying contact messages to the remote agent
// ABOUTME: Owns session creation, start events, message posting and per-contact serialization

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/clonepilot/internal/directline"
	"github.com/2389/clonepilot/internal/poll"
	"github.com/2389/clonepilot/internal/session"
)

var (
	// ErrAlreadyStarted is returned by StartConversation when the contact has a session.
	ErrAlreadyStarted = errors.New("conversation already started")

	// ErrContactRequired is returned when the contact id is empty.
	ErrContactRequired = errors.New("contact id is required")

	// ErrTextRequired is returned when a message has no text.
	ErrTextRequired = errors.New("message text is required")
)

// SessionStore defines what the service needs from session storage
type SessionStore interface {
	Get(ctx context.Context, contactID string) (*session.Session, error)
	Put(ctx context.Context, sess *session.Session) error
}

// Transport defines what the service needs from the Direct Line client
type Transport interface {
	CreateConversation(ctx context.Context) (*directline.Conversation, error)
	PostActivity(ctx context.Context, conv *directline.Conversation, activity *directline.Activity) (string, error)
}

// Poller collects the agent's reply after a post
type Poller interface {
	Run(ctx context.Context, req poll.Request) (*poll.Result, error)
}

// Recorder observes session lifecycle. Implementations must be safe for concurrent use.
type Recorder interface {
	SessionCreated()
}

// Options configures the activities the service posts.
type Options struct {
	UserID     string
	Locale     string
	StartEvent string
	StartValue map[string]any

	// ForwardFirstMessage posts the text of a message that implicitly started
	// the conversation after the start event, instead of dropping it.
	ForwardFirstMessage bool

	Broadcaster *Broadcaster
	Recorder    Recorder
}

// Reply is the outcome of one start or send operation.
type Reply struct {
	ContactID      string
	ConversationID string

	// Started is true when this call created the remote conversation.
	Started bool

	// Activities are the agent's activities in arrival order. May be empty.
	Activities []directline.Activity

	// Complete is false when polling stopped before the agent's turn was seen to end.
	Complete   bool
	StopReason poll.Reason
	Watermark  string
}

// Info describes a contact's conversation without touching the remote side.
type Info struct {
	ContactID       string
	HasConversation bool
	ConversationID  string
	Watermark       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Service relays messages between local contacts and the remote agent.
// Calls for the same contact are serialized; different contacts run in parallel.
type Service struct {
	sessions  SessionStore
	transport Transport
	poller    Poller
	opts      Options
	locks     *keyedMutex
	logger    *slog.Logger
}

// New creates a conversation Service
func New(sessions SessionStore, transport Transport, poller Poller, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserID == "" {
		opts.UserID = "user"
	}
	if opts.StartEvent == "" {
		opts.StartEvent = "startConversation"
	}
	return &Service{
		sessions:  sessions,
		transport: transport,
		poller:    poller,
		opts:      opts,
		locks:     newKeyedMutex(),
		logger:    logger.With("component", "conversation"),
	}
}

// StartConversation creates the remote conversation for contactID, sends the
// start event and returns the agent's greeting.
func (s *Service) StartConversation(ctx context.Context, contactID string) (*Reply, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, ErrContactRequired
	}

	unlock, err := s.locks.Lock(ctx, contactID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, err = s.sessions.Get(ctx, contactID)
	switch {
	case err == nil:
		return nil, ErrAlreadyStarted
	case !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	return s.start(ctx, contactID)
}

// SendMessage relays text from contactID and returns the agent's reply. When
// the contact has no conversation yet, one is started first.
func (s *Service) SendMessage(ctx context.Context, contactID, text string) (*Reply, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, ErrContactRequired
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextRequired
	}

	unlock, err := s.locks.Lock(ctx, contactID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.sessions.Get(ctx, contactID)
	if errors.Is(err, session.ErrNotFound) {
		reply, err := s.start(ctx, contactID)
		if err != nil || !s.opts.ForwardFirstMessage {
			return reply, err
		}

		sess, err = s.sessions.Get(ctx, contactID)
		if err != nil {
			return reply, fmt.Errorf("reloading session: %w", err)
		}
		next, err := s.send(ctx, sess, text)
		if next == nil {
			// The greeting is already past the stored watermark.
			return reply, err
		}
		next.Started = true
		next.Activities = append(reply.Activities, next.Activities...)
		return next, err
	}
	if err != nil {
		return nil, err
	}

	return s.send(ctx, sess, text)
}

// ConversationInfo reports whether contactID has a conversation.
func (s *Service) ConversationInfo(ctx context.Context, contactID string) (*Info, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, ErrContactRequired
	}

	sess, err := s.sessions.Get(ctx, contactID)
	if errors.Is(err, session.ErrNotFound) {
		return &Info{ContactID: contactID}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Info{
		ContactID:       contactID,
		HasConversation: true,
		ConversationID:  sess.ConversationID,
		Watermark:       sess.Watermark,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
	}, nil
}

// start runs the start sequence. Must be called with the contact's lock held.
func (s *Service) start(ctx context.Context, contactID string) (*Reply, error) {
	conv, err := s.transport.CreateConversation(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	// Stored only once both the id and token are known
	sess := &session.Session{
		ContactID:      contactID,
		ConversationID: conv.ConversationID,
		Token:          conv.Token,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.SessionCreated()
	}

	s.logger.Info("conversation started",
		"contact_id", contactID,
		"conversation_id", conv.ConversationID)

	event := &directline.Activity{
		Type:   directline.ActivityTypeEvent,
		Name:   s.opts.StartEvent,
		From:   directline.ChannelAccount{ID: s.opts.UserID},
		Locale: s.opts.Locale,
	}
	if len(s.opts.StartValue) > 0 {
		value, err := json.Marshal(s.opts.StartValue)
		if err != nil {
			return nil, fmt.Errorf("encoding start event value: %w", err)
		}
		event.Value = value
	}

	reply, err := s.postAndCollect(ctx, sess, event)
	if reply != nil {
		reply.Started = true
	}
	return reply, err
}

// send posts a message activity for an existing session.
func (s *Service) send(ctx context.Context, sess *session.Session, text string) (*Reply, error) {
	msg := &directline.Activity{
		Type:   directline.ActivityTypeMessage,
		From:   directline.ChannelAccount{ID: s.opts.UserID},
		Text:   text,
		Locale: s.opts.Locale,
	}
	return s.postAndCollect(ctx, sess, msg)
}

// postAndCollect posts one activity and polls for the reply. On a polling
// error the partial Reply is returned alongside the error.
func (s *Service) postAndCollect(ctx context.Context, sess *session.Session, activity *directline.Activity) (*Reply, error) {
	conv := &directline.Conversation{ConversationID: sess.ConversationID, Token: sess.Token}

	id, err := s.transport.PostActivity(ctx, conv, activity)
	if err != nil {
		s.logger.Warn("post failed",
			"contact_id", sess.ContactID,
			"type", activity.Type,
			"error", err)
		return nil, fmt.Errorf("posting %s: %w", activity.Type, err)
	}

	posted := *activity
	posted.ID = id
	s.publish(sess, DirectionOutbound, posted)

	res, err := s.poller.Run(ctx, poll.Request{
		ContactID:    sess.ContactID,
		Conversation: conv,
		Watermark:    sess.Watermark,
	})
	if res == nil {
		res = &poll.Result{Watermark: sess.Watermark}
	}
	for _, a := range res.Activities {
		s.publish(sess, DirectionInbound, a)
	}

	reply := &Reply{
		ContactID:      sess.ContactID,
		ConversationID: sess.ConversationID,
		Activities:     res.Activities,
		Complete:       res.Complete(),
		StopReason:     res.Reason,
		Watermark:      res.Watermark,
	}

	if err != nil {
		return reply, fmt.Errorf("collecting reply: %w", err)
	}
	if !reply.Complete {
		s.logger.Info("partial reply",
			"contact_id", sess.ContactID,
			"reason", res.Reason,
			"activities", len(res.Activities))
	}
	return reply, nil
}

func (s *Service) publish(sess *session.Session, direction string, a directline.Activity) {
	if s.opts.Broadcaster == nil {
		return
	}
	s.opts.Broadcaster.Publish(&Event{
		ContactID:      sess.ContactID,
		ConversationID: sess.ConversationID,
		Direction:      direction,
		Activity:       a,
		At:             time.Now(),
	})
}
