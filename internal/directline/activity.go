// ABOUTME: Direct Line wire types: activities, conversations and activity pages
// ABOUTME: Received activities are treated as immutable values

package directline

import (
	"encoding/json"
	"strconv"
	"time"
)

// Activity types exchanged with the remote agent
const (
	ActivityTypeMessage           = "message"
	ActivityTypeEvent             = "event"
	ActivityTypeTyping            = "typing"
	ActivityTypeEndOfConversation = "endOfConversation"
)

// Input hints an agent may attach to an activity
const (
	InputHintAccepting = "acceptingInput"
	InputHintExpecting = "expectingInput"
	InputHintIgnoring  = "ignoringInput"
)

// ChannelDataAwaitingInput is the channelData flag some agents set instead of an input hint.
const ChannelDataAwaitingInput = "awaitingInput"

// ChannelAccount identifies the author of an activity.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID string `json:"id"`
}

// Attachment is a rich card or file attached to an activity.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// Activity is a single unit of conversation traffic.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Timestamp    time.Time            `json:"timestamp,omitzero"`
	ChannelID    string               `json:"channelId,omitempty"`
	From         ChannelAccount       `json:"from,omitzero"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	Text         string               `json:"text,omitempty"`
	TextFormat   string               `json:"textFormat,omitempty"`
	Locale       string               `json:"locale,omitempty"`
	InputHint    string               `json:"inputHint,omitempty"`
	Name         string               `json:"name,omitempty"`
	Value        json.RawMessage      `json:"value,omitempty"`
	ChannelData  map[string]any       `json:"channelData,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Attachments  []Attachment         `json:"attachments,omitempty"`
}

// IsFrom reports whether the activity was authored by the given account id.
func (a *Activity) IsFrom(id string) bool {
	return a.From.ID == id
}

// ExpectingInput reports whether the activity signals that the agent has
// finished its turn, either through the input hint or the channelData flag.
func (a *Activity) ExpectingInput() bool {
	if a.InputHint == InputHintExpecting {
		return true
	}
	flag, ok := a.ChannelData[ChannelDataAwaitingInput].(bool)
	return ok && flag
}

// Conversation is the handle returned when a remote conversation is created.
// Only ConversationID and Token are needed for subsequent calls.
type Conversation struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
	StreamURL      string `json:"streamUrl,omitempty"`
}

// ActivitySet is one page of activities returned by a fetch.
type ActivitySet struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark,omitempty"`
}

// UnmarshalJSON accepts the watermark as either a JSON string or number.
func (s *ActivitySet) UnmarshalJSON(data []byte) error {
	var raw struct {
		Activities []Activity      `json:"activities"`
		Watermark  json.RawMessage `json:"watermark"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Activities = raw.Activities
	s.Watermark = ""
	if len(raw.Watermark) == 0 || string(raw.Watermark) == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(raw.Watermark, &str); err == nil {
		s.Watermark = str
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(raw.Watermark, &num); err != nil {
		return err
	}
	s.Watermark = num.String()
	return nil
}

// CompareWatermarks orders two watermarks. Numeric watermarks compare
// numerically; anything else compares equal, since opaque cursors carry no order.
func CompareWatermarks(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr != nil || berr != nil {
		return 0
	}
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

// activityID is the response body of a successful post.
type activityID struct {
	ID string `json:"id"`
}
