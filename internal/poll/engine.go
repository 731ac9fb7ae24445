// ABOUTME: Polling engine that collects an agent's reply from a pull-only transport
// ABOUTME: Fetches by watermark, de-duplicates, drops self-echoes and applies a termination policy

package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/clonepilot/internal/directline"
)

// Reason explains why a polling loop ended.
type Reason string

const (
	ReasonQuiescent       Reason = "quiescent"
	ReasonAwaitingInput   Reason = "awaiting_input"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonDeadline        Reason = "deadline"
	ReasonFetchFailed     Reason = "fetch_failed"
	ReasonStoreFailed     Reason = "store_failed"
	ReasonCanceled        Reason = "canceled"
)

// storeWriteTimeout bounds a watermark write that outlives a canceled caller.
const storeWriteTimeout = 5 * time.Second

// Fetcher retrieves activity pages from the remote conversation.
type Fetcher interface {
	FetchActivities(ctx context.Context, conv *directline.Conversation, watermark string) (*directline.ActivitySet, error)
}

// WatermarkStore persists the cursor after every successful fetch.
type WatermarkStore interface {
	SetWatermark(ctx context.Context, contactID, watermark string) error
}

// Recorder observes polling loops. Implementations must be safe for concurrent use.
type Recorder interface {
	PollStarted()
	PollFinished(reason string, attempts int, elapsed time.Duration)
}

// Options configures an Engine.
type Options struct {
	// UserID is the account id our own activities are posted as.
	UserID string

	Interval         time.Duration
	Deadline         time.Duration
	MaxAttempts      int
	MaxFetchFailures int

	Policy   PolicyFactory
	Recorder Recorder
	Logger   *slog.Logger
}

// Request identifies the conversation to poll.
type Request struct {
	ContactID    string
	Conversation *directline.Conversation
	Watermark    string
}

// Result is what a polling loop collected.
type Result struct {
	// Activities are the agent's activities in arrival order, without duplicates.
	Activities []directline.Activity
	Watermark  string
	Attempts   int
	Reason     Reason
	Elapsed    time.Duration
}

// Complete reports whether the agent's turn was observed to end.
// Anything else is a partial result.
func (r *Result) Complete() bool {
	return r.Reason == ReasonQuiescent || r.Reason == ReasonAwaitingInput
}

// Engine runs polling loops. It is safe for concurrent use; each Run keeps
// its own state.
type Engine struct {
	fetcher  Fetcher
	store    WatermarkStore
	opts     Options
	logger   *slog.Logger
	recorder Recorder
}

// New creates an Engine. Zero options fall back to the defaults: 300ms
// interval, 20 attempts, a 30s deadline, one fetch failure and the
// quiescence policy over 3 quiet polls.
func New(fetcher Fetcher, store WatermarkStore, opts Options) *Engine {
	if opts.UserID == "" {
		opts.UserID = "user"
	}
	if opts.Interval <= 0 {
		opts.Interval = 300 * time.Millisecond
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if opts.MaxFetchFailures <= 0 {
		opts.MaxFetchFailures = 1
	}
	if opts.Policy == nil {
		opts.Policy = Quiescence(3, opts.Interval)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		fetcher:  fetcher,
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "poll"),
		recorder: opts.Recorder,
	}
}

// Run polls until the policy says the turn is over or the budget runs out.
//
// A budget or deadline stop returns the partial Result with a nil error.
// A fetch or store failure, or cancellation of ctx, returns the activities
// collected so far together with the error.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{Watermark: req.Watermark}

	if e.recorder != nil {
		e.recorder.PollStarted()
	}
	defer func() {
		res.Elapsed = time.Since(start)
		if e.recorder != nil {
			e.recorder.PollFinished(string(res.Reason), res.Attempts, res.Elapsed)
		}
		e.logger.Debug("poll loop finished",
			"contact_id", req.ContactID,
			"reason", res.Reason,
			"attempts", res.Attempts,
			"activities", len(res.Activities),
			"watermark", res.Watermark,
			"elapsed", res.Elapsed)
	}()

	loopCtx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()

	policy := e.opts.Policy()
	seen := make(map[string]struct{})
	sawAgent := false
	failures := 0

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt

		set, err := e.fetcher.FetchActivities(loopCtx, req.Conversation, res.Watermark)
		if err != nil {
			if stopped, stopErr := e.interrupted(ctx, loopCtx, res); stopped {
				return res, stopErr
			}

			failures++
			e.logger.Warn("fetch failed",
				"contact_id", req.ContactID,
				"attempt", attempt,
				"failures", failures,
				"error", err)
			if failures >= e.opts.MaxFetchFailures || errors.Is(err, directline.ErrNoActiveSession) {
				res.Reason = ReasonFetchFailed
				return res, fmt.Errorf("fetching activities: %w", err)
			}
		} else {
			failures = 0

			if next := advance(res.Watermark, set.Watermark); next != res.Watermark {
				res.Watermark = next
				if err := e.saveWatermark(ctx, req.ContactID, next); err != nil {
					res.Reason = ReasonStoreFailed
					return res, err
				}
			}

			var fresh []directline.Activity
			for _, a := range set.Activities {
				if a.ID != "" {
					if _, dup := seen[a.ID]; dup {
						continue
					}
					seen[a.ID] = struct{}{}
				}
				if a.IsFrom(e.opts.UserID) {
					continue
				}
				fresh = append(fresh, a)
			}
			if len(fresh) > 0 {
				sawAgent = true
				res.Activities = append(res.Activities, fresh...)
			}

			d := policy.Observe(Page{Fresh: fresh, SawAgent: sawAgent})
			if d.Stop {
				res.Reason = d.Reason
				return res, nil
			}

			if attempt < e.opts.MaxAttempts && d.ExtraDelay > 0 {
				if err := sleep(loopCtx, d.ExtraDelay); err != nil {
					_, stopErr := e.interrupted(ctx, loopCtx, res)
					return res, stopErr
				}
			}
		}

		if attempt == e.opts.MaxAttempts {
			break
		}
		if err := sleep(loopCtx, e.opts.Interval); err != nil {
			_, stopErr := e.interrupted(ctx, loopCtx, res)
			return res, stopErr
		}
	}

	res.Reason = ReasonBudgetExhausted
	return res, nil
}

// interrupted classifies a stop caused by a context. Caller cancellation is
// an error; the engine's own deadline is a partial result.
func (e *Engine) interrupted(ctx, loopCtx context.Context, res *Result) (bool, error) {
	if err := ctx.Err(); err != nil {
		res.Reason = ReasonCanceled
		return true, err
	}
	if loopCtx.Err() != nil {
		res.Reason = ReasonDeadline
		return true, nil
	}
	return false, nil
}

// saveWatermark persists the cursor even if the caller has gone away, so the
// next turn does not re-read activities this one already collected.
func (e *Engine) saveWatermark(ctx context.Context, contactID, watermark string) error {
	if e.store == nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	if err := e.store.SetWatermark(writeCtx, contactID, watermark); err != nil {
		return fmt.Errorf("saving watermark: %w", err)
	}
	return nil
}

// advance returns the cursor after a fetch. Empty or numerically lower
// watermarks never move the cursor backwards.
func advance(current, next string) string {
	if next == "" {
		return current
	}
	if current != "" && directline.CompareWatermarks(next, current) < 0 {
		return current
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
