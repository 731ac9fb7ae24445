// ABOUTME: Reply scripts for the fake Direct Line service
// ABOUTME: Echo, greeting, silent and multi-part agents

package directlinetest

import (
	"github.com/2389/clonepilot/internal/directline"
)

// Greeting is the text EchoResponder answers a start event with.
const Greeting = "Hello! How can I help you today?"

// EchoResponder greets on any event and echoes message text, ending each
// turn with an expectingInput hint.
func EchoResponder(in directline.Activity) []directline.Activity {
	switch in.Type {
	case directline.ActivityTypeEvent:
		return []directline.Activity{
			{Type: directline.ActivityTypeTyping},
			{Type: directline.ActivityTypeMessage, Text: Greeting, InputHint: directline.InputHintExpecting},
		}
	case directline.ActivityTypeMessage:
		return []directline.Activity{
			{Type: directline.ActivityTypeTyping},
			{Type: directline.ActivityTypeMessage, Text: "You said: " + in.Text, InputHint: directline.InputHintExpecting},
		}
	}
	return nil
}

// SilentResponder never replies.
func SilentResponder(directline.Activity) []directline.Activity {
	return nil
}

// MultipartResponder answers every activity with the given texts as separate
// messages. Only the last one carries an input hint.
func MultipartResponder(texts ...string) Responder {
	return func(directline.Activity) []directline.Activity {
		out := make([]directline.Activity, 0, len(texts))
		for i, text := range texts {
			a := directline.Activity{Type: directline.ActivityTypeMessage, Text: text, InputHint: directline.InputHintAccepting}
			if i == len(texts)-1 {
				a.InputHint = directline.InputHintExpecting
			}
			out = append(out, a)
		}
		return out
	}
}

// AwaitingEventResponder replies with one message and then a reserved event
// named name, the way agents without input hints mark the end of a turn.
func AwaitingEventResponder(text, name string) Responder {
	return func(directline.Activity) []directline.Activity {
		return []directline.Activity{
			{Type: directline.ActivityTypeMessage, Text: text},
			{Type: directline.ActivityTypeEvent, Name: name},
		}
	}
}
