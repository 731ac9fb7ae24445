// ABOUTME: Tests for the Matrix bridge message flow
// ABOUTME: Uses stub room and relay implementations to observe what gets posted

package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/clonepilot/internal/client"
	"github.com/2389/clonepilot/internal/directline"
)

type stubRooms struct {
	mu     sync.Mutex
	sent   []*event.MessageEventContent
	typing []bool
}

func (s *stubRooms) SendMessageEvent(_ context.Context, _ id.RoomID, _ event.Type, contentJSON any, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, contentJSON.(*event.MessageEventContent))
	return &mautrix.RespSendEvent{}, nil
}

func (s *stubRooms) UserTyping(_ context.Context, _ id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
	return &mautrix.RespTyping{}, nil
}

func (s *stubRooms) messages() []*event.MessageEventContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.MessageEventContent(nil), s.sent...)
}

type stubRelay struct {
	mu       sync.Mutex
	contacts []string
	texts    []string
	reply    *client.Reply
	err      error
}

func (s *stubRelay) SendMessage(_ context.Context, contactID, text string) (*client.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, contactID)
	s.texts = append(s.texts, text)
	return s.reply, s.err
}

func (s *stubRelay) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func testConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{Homeserver: "https://matrix.example.org", UserID: "@bot:example.org", AccessToken: "t"},
		Relay:  RelayConfig{URL: "http://relay"},
		Bridge: BridgeConfig{TypingIndicator: true},
	}
}

func newTestBridge(t *testing.T, cfg *Config, relay Relay) (*Bridge, *stubRooms) {
	t.Helper()
	rooms := &stubRooms{}
	b := newBridge(cfg, rooms, relay, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	return b, rooms
}

func textEvent(eventID, room, sender, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID(eventID),
		RoomID: id.RoomID(room),
		Sender: id.UserID(sender),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func agentReply(texts ...string) *client.Reply {
	r := &client.Reply{Complete: true}
	r.Activities = append(r.Activities, directline.Activity{Type: directline.ActivityTypeTyping})
	for _, t := range texts {
		r.Activities = append(r.Activities, directline.Activity{Type: directline.ActivityTypeMessage, Text: t})
	}
	return r
}

func TestContactID(t *testing.T) {
	assert.Equal(t, "matrix:!r:example.org:@alice:example.org",
		ContactID("!r:example.org", "@alice:example.org"))
}

func TestBridge_RelaysAndRendersMarkdown(t *testing.T) {
	relay := &stubRelay{reply: agentReply("**Hello** there", "second")}
	b, rooms := newTestBridge(t, testConfig(), relay)

	b.handleMessageEvent(context.Background(), textEvent("$1", "!r:example.org", "@alice:example.org", "hi"))
	b.wg.Wait()

	require.Equal(t, []string{"matrix:!r:example.org:@alice:example.org"}, relay.contacts)
	assert.Equal(t, []string{"hi"}, relay.texts)

	sent := rooms.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "**Hello** there", sent[0].Body)
	assert.Equal(t, event.FormatHTML, sent[0].Format)
	assert.Equal(t, "<p><strong>Hello</strong> there</p>", sent[0].FormattedBody)
	assert.Equal(t, "second", sent[1].Body)
	assert.Equal(t, []bool{true, false}, rooms.typing)
}

func TestBridge_DropsRedeliveredEvents(t *testing.T) {
	relay := &stubRelay{reply: agentReply("ok")}
	b, _ := newTestBridge(t, testConfig(), relay)

	evt := textEvent("$dup", "!r:example.org", "@alice:example.org", "hi")
	b.handleMessageEvent(context.Background(), evt)
	b.handleMessageEvent(context.Background(), evt)
	b.wg.Wait()

	assert.Equal(t, 1, relay.calls())
}

func TestBridge_Filters(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.AllowedRooms = []string{"!allowed:example.org"}
	cfg.Bridge.CommandPrefix = "!ask"
	relay := &stubRelay{reply: agentReply("ok")}
	b, _ := newTestBridge(t, cfg, relay)

	// own message
	b.handleMessageEvent(context.Background(), textEvent("$1", "!allowed:example.org", "@bot:example.org", "!ask hi"))
	// other room
	b.handleMessageEvent(context.Background(), textEvent("$2", "!other:example.org", "@alice:example.org", "!ask hi"))
	// no prefix
	b.handleMessageEvent(context.Background(), textEvent("$3", "!allowed:example.org", "@alice:example.org", "hi"))
	// prefix only
	b.handleMessageEvent(context.Background(), textEvent("$4", "!allowed:example.org", "@alice:example.org", "!ask   "))
	// not text
	notice := textEvent("$5", "!allowed:example.org", "@alice:example.org", "!ask hi")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	b.handleMessageEvent(context.Background(), notice)
	b.wg.Wait()
	assert.Zero(t, relay.calls())

	b.handleMessageEvent(context.Background(), textEvent("$6", "!allowed:example.org", "@alice:example.org", "!ask  what now"))
	b.wg.Wait()
	assert.Equal(t, []string{"what now"}, relay.texts)
}

func TestBridge_RelayErrorPostsPartialAndNotice(t *testing.T) {
	relay := &stubRelay{err: &client.APIError{
		StatusCode: http.StatusBadGateway,
		Message:    "fetch failed",
		Kind:       "transport_unavailable",
		Reply:      agentReply("partial answer"),
	}}
	b, rooms := newTestBridge(t, testConfig(), relay)

	b.handleMessageEvent(context.Background(), textEvent("$1", "!r:example.org", "@alice:example.org", "hi"))
	b.wg.Wait()

	sent := rooms.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "partial answer", sent[0].Body)
	assert.Equal(t, event.MsgNotice, sent[1].MsgType)
	assert.Contains(t, sent[1].Body, "unavailable")
}

func TestBridge_EmptyIncompleteReply(t *testing.T) {
	relay := &stubRelay{reply: &client.Reply{Complete: false, StopReason: "deadline"}}
	b, rooms := newTestBridge(t, testConfig(), relay)

	b.handleMessageEvent(context.Background(), textEvent("$1", "!r:example.org", "@alice:example.org", "hi"))
	b.wg.Wait()

	sent := rooms.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, event.MsgNotice, sent[0].MsgType)
	assert.Equal(t, "The agent did not answer in time.", sent[0].Body)
}

func TestDescribeError(t *testing.T) {
	assert.Contains(t, describeError(errors.New("dial tcp: refused")), "unreachable")
	assert.Contains(t, describeError(&client.APIError{Kind: "transport_rejected"}), "rejected")
	assert.Contains(t, describeError(&client.APIError{Kind: "bad_request", Message: "contactId is required"}), "contactId is required")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 5))
	assert.Equal(t, "hé...", truncate("héllo", 2))
}
