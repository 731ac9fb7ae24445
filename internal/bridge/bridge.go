// ABOUTME: Matrix bridge relaying room messages to the clonepilot relay
// ABOUTME: Maps room senders to contacts, drops redelivered events and renders replies as HTML

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/clonepilot/internal/client"
	"github.com/2389/clonepilot/internal/dedupe"
	"github.com/2389/clonepilot/internal/directline"
)

// typingTimeout is how long the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// Relay is the part of the relay API the bridge uses.
type Relay interface {
	SendMessage(ctx context.Context, contactID, text string) (*client.Reply, error)
}

// roomAPI is the part of the Matrix client used to answer in rooms.
type roomAPI interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Bridge connects Matrix rooms to the relay.
type Bridge struct {
	config *Config
	matrix *mautrix.Client
	rooms  roomAPI
	relay  Relay
	seen   *dedupe.Cache
	md     goldmark.Markdown
	logger *slog.Logger

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Matrix bridge talking to the relay configured in cfg.
func New(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	mx, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	var opts []client.Option
	if cfg.Relay.Token != "" {
		opts = append(opts, client.WithToken(cfg.Relay.Token))
	}

	b := newBridge(cfg, mx, client.New(cfg.Relay.URL, opts...), logger)
	b.matrix = mx
	return b, nil
}

func newBridge(cfg *Config, rooms roomAPI, relay Relay, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config: cfg,
		rooms:  rooms,
		relay:  relay,
		seen:   dedupe.New(10*time.Minute, 10_000),
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: logger.With("component", "matrix-bridge"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ContactID is the relay contact for a sender in a room. Each sender gets
// their own conversation per room.
func ContactID(roomID id.RoomID, sender id.UserID) string {
	return "matrix:" + roomID.String() + ":" + sender.String()
}

// Run syncs with the homeserver and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.matrix == nil {
		return errors.New("bridge has no matrix client")
	}
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.config.Matrix.UserID,
		"relay", b.config.Relay.URL,
	)
	defer b.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close cancels in-flight relays and waits for them to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
	b.seen.Close()
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.config.Matrix.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	// Homeservers redeliver events after reconnects
	if evt.ID != "" && b.seen.CheckAndMark(evt.ID.String()) {
		b.logger.Debug("dropping redelivered event", "event_id", evt.ID)
		return
	}

	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID)
		return
	}

	text, ok := b.stripPrefix(content.Body)
	if !ok || text == "" {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID,
		"sender", evt.Sender,
		"content", truncate(text, 50),
	)

	b.wg.Go(func() {
		b.processMessage(b.ctx, evt.RoomID, evt.Sender, text)
	})
}

// processMessage relays text and posts the agent's activities back to the room.
func (b *Bridge) processMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, text string) {
	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	contactID := ContactID(roomID, sender)
	reply, err := b.relay.SendMessage(ctx, contactID, text)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Reply != nil {
			b.postActivities(roomID, apiErr.Reply.Activities)
		}
		b.logger.Error("relay request failed", "room", roomID, "contact_id", contactID, "error", err)
		b.sendNotice(roomID, "⚠️ "+describeError(err))
		return
	}

	sent := b.postActivities(roomID, reply.Activities)
	if sent == 0 {
		b.logger.Warn("empty response from agent",
			"room", roomID,
			"contact_id", contactID,
			"stop_reason", reply.StopReason)
		if !reply.Complete {
			b.sendNotice(roomID, "The agent did not answer in time.")
		}
	}
}

// postActivities sends each agent message with text to the room and returns
// how many were sent.
func (b *Bridge) postActivities(roomID id.RoomID, activities []directline.Activity) int {
	sent := 0
	for _, a := range activities {
		if a.Type != directline.ActivityTypeMessage || strings.TrimSpace(a.Text) == "" {
			continue
		}
		b.sendMarkdown(roomID, a.Text)
		sent++
	}
	return sent
}

// sendMarkdown sends text as a message with an HTML rendering of its Markdown.
func (b *Bridge) sendMarkdown(roomID id.RoomID, text string) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, err := b.renderMarkdown(text); err != nil {
		b.logger.Warn("failed to render markdown", "error", err)
	} else {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	b.send(roomID, content)
}

func (b *Bridge) sendNotice(roomID id.RoomID, text string) {
	b.send(roomID, &event.MessageEventContent{MsgType: event.MsgNotice, Body: text})
}

func (b *Bridge) send(roomID id.RoomID, content *event.MessageEventContent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID, "error", err)
	}
}

func (b *Bridge) renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := b.md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID, "error", err)
	}
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.config.Bridge.AllowedRooms, roomID)
}

// stripPrefix removes the command prefix. ok is false when a prefix is
// configured and body does not start with it.
func (b *Bridge) stripPrefix(body string) (string, bool) {
	prefix := b.config.Bridge.CommandPrefix
	if prefix == "" {
		return strings.TrimSpace(body), true
	}
	if !strings.HasPrefix(body, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(body, prefix)), true
}

// describeError turns a relay failure into a short room notice.
func describeError(err error) string {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return "The relay is unreachable right now."
	}
	switch apiErr.Kind {
	case "transport_unavailable", "timeout":
		return "The agent is unavailable right now, please try again."
	case "transport_rejected":
		return "The agent rejected the message."
	case "not_configured":
		return "The relay is not configured."
	default:
		return "Something went wrong: " + apiErr.Message
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
