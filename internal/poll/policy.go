// ABOUTME: Termination policies deciding when the agent's turn is over
// ABOUTME: Quiescence counts quiet polls; Signal stops on an explicit awaiting-input marker

package poll

import (
	"time"

	"github.com/2389/clonepilot/internal/directline"
)

// Page is what a policy sees after one successful fetch.
type Page struct {
	// Fresh holds the agent activities collected by this fetch, in order.
	Fresh []directline.Activity

	// SawAgent is true once any agent activity was collected in this loop.
	SawAgent bool
}

// Decision is a policy's verdict on one page.
type Decision struct {
	Stop   bool
	Reason Reason

	// ExtraDelay is added to the poll interval before the next fetch.
	ExtraDelay time.Duration
}

// Policy decides, page by page, whether the agent has finished its turn.
// A Policy holds per-loop state and is used by a single goroutine.
type Policy interface {
	Observe(page Page) Decision
}

// PolicyFactory creates a fresh Policy for every polling loop.
type PolicyFactory func() Policy

// Quiescence stops once the agent has spoken and then gone quiet for
// quietPolls consecutive pages. Empty pages count only after the agent's
// first activity. A page ending with an agent message restarts the count at
// one and waits grace before the next fetch to catch trailing activities;
// such a page never stops the loop by itself, so at least one confirming
// fetch follows the grace wait.
func Quiescence(quietPolls int, grace time.Duration) PolicyFactory {
	return func() Policy {
		return &quiescence{threshold: quietPolls, grace: grace}
	}
}

type quiescence struct {
	threshold int
	grace     time.Duration
	quiet     int
}

func (q *quiescence) Observe(page Page) Decision {
	var d Decision
	trailing := false

	switch {
	case len(page.Fresh) == 0:
		if page.SawAgent {
			q.quiet++
		}
	case page.Fresh[len(page.Fresh)-1].Type == directline.ActivityTypeMessage:
		q.quiet = 1
		d.ExtraDelay = q.grace
		trailing = true
	default:
		q.quiet = 0
	}

	if page.SawAgent && !trailing && q.quiet >= q.threshold {
		d.Stop = true
		d.Reason = ReasonQuiescent
	}
	return d
}

// Signal stops as soon as a collected activity says the agent awaits input:
// an expectingInput hint, the channelData awaitingInput flag, or an event
// whose name is one of events. Without a signal the loop runs until its budget
// or deadline.
func Signal(events []string) PolicyFactory {
	names := make(map[string]struct{}, len(events))
	for _, e := range events {
		names[e] = struct{}{}
	}
	return func() Policy {
		return &signal{events: names}
	}
}

type signal struct {
	events map[string]struct{}
}

func (s *signal) Observe(page Page) Decision {
	for i := range page.Fresh {
		a := &page.Fresh[i]
		if a.ExpectingInput() {
			return Decision{Stop: true, Reason: ReasonAwaitingInput}
		}
		if a.Type == directline.ActivityTypeEvent {
			if _, ok := s.events[a.Name]; ok {
				return Decision{Stop: true, Reason: ReasonAwaitingInput}
			}
		}
	}
	return Decision{}
}
