// ABOUTME: Tests for the quiescence and signal termination policies
// ABOUTME: Drives policies directly with synthetic pages

package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/clonepilot/internal/directline"
)

func TestQuiescence_WaitsForAgentBeforeCounting(t *testing.T) {
	p := Quiescence(2, time.Millisecond)()

	for i := 0; i < 5; i++ {
		d := p.Observe(Page{})
		assert.False(t, d.Stop, "empty pages before the agent speaks must not stop the loop")
	}

	d := p.Observe(Page{Fresh: []directline.Activity{{Type: directline.ActivityTypeMessage}}, SawAgent: true})
	assert.False(t, d.Stop)
	assert.Equal(t, time.Millisecond, d.ExtraDelay)

	d = p.Observe(Page{SawAgent: true})
	assert.True(t, d.Stop)
	assert.Equal(t, ReasonQuiescent, d.Reason)
}

func TestQuiescence_NonMessageResets(t *testing.T) {
	p := Quiescence(3, 0)()
	agent := func(typ string) Page {
		return Page{Fresh: []directline.Activity{{Type: typ}}, SawAgent: true}
	}

	assert.False(t, p.Observe(agent(directline.ActivityTypeMessage)).Stop) // 1
	assert.False(t, p.Observe(Page{SawAgent: true}).Stop)                  // 2
	assert.False(t, p.Observe(agent(directline.ActivityTypeTyping)).Stop)  // reset
	assert.False(t, p.Observe(Page{SawAgent: true}).Stop)                  // 1
	assert.False(t, p.Observe(Page{SawAgent: true}).Stop)                  // 2
	assert.True(t, p.Observe(Page{SawAgent: true}).Stop)                   // 3
}

func TestQuiescence_MessagePageNeedsConfirmingFetch(t *testing.T) {
	p := Quiescence(1, 20*time.Millisecond)()
	msg := Page{Fresh: []directline.Activity{{Type: directline.ActivityTypeMessage}}, SawAgent: true}

	d := p.Observe(msg)
	assert.False(t, d.Stop, "a single quiet poll must still wait out the grace period")
	assert.Equal(t, 20*time.Millisecond, d.ExtraDelay)

	d = p.Observe(msg)
	assert.False(t, d.Stop, "a follow-up message restarts the wait")

	d = p.Observe(Page{SawAgent: true})
	assert.True(t, d.Stop)
	assert.Equal(t, ReasonQuiescent, d.Reason)
}

func TestQuiescence_FactoryGivesFreshState(t *testing.T) {
	factory := Quiescence(1, 0)
	first := factory()
	first.Observe(Page{Fresh: []directline.Activity{{Type: directline.ActivityTypeTyping}}, SawAgent: true})

	second := factory()
	assert.False(t, second.Observe(Page{}).Stop)
}

func TestSignal_Markers(t *testing.T) {
	factory := Signal([]string{"awaitingInput", "handoff"})

	tests := []struct {
		name string
		act  directline.Activity
		want bool
	}{
		{"input hint", directline.Activity{Type: directline.ActivityTypeMessage, InputHint: directline.InputHintExpecting}, true},
		{"channel data", directline.Activity{Type: directline.ActivityTypeMessage, ChannelData: map[string]any{"awaitingInput": true}}, true},
		{"reserved event", directline.Activity{Type: directline.ActivityTypeEvent, Name: "handoff"}, true},
		{"other event", directline.Activity{Type: directline.ActivityTypeEvent, Name: "telemetry"}, false},
		{"message named like event", directline.Activity{Type: directline.ActivityTypeMessage, Name: "handoff"}, false},
		{"plain message", directline.Activity{Type: directline.ActivityTypeMessage, Text: "hi"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := factory().Observe(Page{Fresh: []directline.Activity{tt.act}, SawAgent: true})
			assert.Equal(t, tt.want, d.Stop)
			if tt.want {
				assert.Equal(t, ReasonAwaitingInput, d.Reason)
			}
		})
	}
}

func TestSignal_IgnoresQuiet(t *testing.T) {
	p := Signal(nil)()
	for i := 0; i < 10; i++ {
		assert.False(t, p.Observe(Page{SawAgent: true}).Stop)
	}
}
