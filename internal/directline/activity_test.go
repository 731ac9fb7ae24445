// ABOUTME: Tests for activity helpers and watermark handling
// ABOUTME: Covers input signals, watermark decoding and ordering

package directline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_ExpectingInput(t *testing.T) {
	tests := []struct {
		name string
		act  Activity
		want bool
	}{
		{"input hint", Activity{InputHint: InputHintExpecting}, true},
		{"accepting hint", Activity{InputHint: InputHintAccepting}, false},
		{"channel data flag", Activity{ChannelData: map[string]any{"awaitingInput": true}}, true},
		{"channel data false", Activity{ChannelData: map[string]any{"awaitingInput": false}}, false},
		{"channel data non-bool", Activity{ChannelData: map[string]any{"awaitingInput": "yes"}}, false},
		{"nothing", Activity{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.act.ExpectingInput())
		})
	}
}

func TestActivitySet_UnmarshalWatermark(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"activities":[],"watermark":"12"}`, "12"},
		{`{"activities":[],"watermark":12}`, "12"},
		{`{"activities":[],"watermark":null}`, ""},
		{`{"activities":[]}`, ""},
	}

	for _, tt := range tests {
		var set ActivitySet
		require.NoError(t, json.Unmarshal([]byte(tt.body), &set), tt.body)
		assert.Equal(t, tt.want, set.Watermark, tt.body)
	}
}

func TestActivity_ChannelDataDecodes(t *testing.T) {
	var a Activity
	body := `{"type":"message","id":"x|1","from":{"id":"bot"},"text":"hi","channelData":{"awaitingInput":true}}`
	require.NoError(t, json.Unmarshal([]byte(body), &a))

	assert.True(t, a.IsFrom("bot"))
	assert.True(t, a.ExpectingInput())
}

func TestCompareWatermarks(t *testing.T) {
	assert.Equal(t, -1, CompareWatermarks("2", "10"))
	assert.Equal(t, 1, CompareWatermarks("10", "2"))
	assert.Equal(t, 0, CompareWatermarks("5", "5"))
	assert.Equal(t, 0, CompareWatermarks("abc", "5"))
}

func TestStatusError_Unwrap(t *testing.T) {
	err := &StatusError{Op: OpPostActivity, StatusCode: 400, Body: "bad", kind: ErrTransportRejected}

	assert.ErrorIs(t, err, ErrTransportRejected)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "bad")
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{StatusCode: 503, kind: ErrTransportUnavailable}))
	assert.True(t, Retryable(&StatusError{StatusCode: 429, kind: ErrTransportUnavailable}))
	assert.False(t, Retryable(&StatusError{StatusCode: 404, kind: ErrTransportUnavailable}))
	assert.False(t, Retryable(ErrNotConfigured))
	assert.False(t, Retryable(ErrNoActiveSession))
	assert.True(t, Retryable(ErrTransportUnavailable))
}
