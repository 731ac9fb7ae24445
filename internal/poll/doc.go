// Package poll collects a remote agent's reply over a transport that only
// supports pulling.
//
// # Loop
//
// Engine.Run fetches activity pages after the current watermark, waiting the
// configured interval between fetches. After every successful fetch it:
//
//  1. advances the watermark and writes it to the session store
//  2. drops activities already collected (by id) and our own echoes
//  3. asks the termination policy whether the agent's turn is over
//
// The loop is bounded by an attempt budget and a wall-clock deadline that is
// independent of the caller's context. Hitting either returns what was
// collected with a nil error; Result.Complete reports false for such partial
// results.
//
// # Policies
//
//   - Quiescence: stop after the agent spoke and then stayed quiet for N polls
//   - Signal: stop on an expectingInput hint, the awaitingInput channelData
//     flag, or a reserved event name
//
// # Failures
//
// Fetch failures end the loop after MaxFetchFailures consecutive failures.
// The collected activities are returned alongside the error, as they are on
// caller cancellation.
package poll
