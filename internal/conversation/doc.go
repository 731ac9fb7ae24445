// Package conversation relays contact messages to the remote agent and
// returns the agent's reply synchronously.
//
// # Service
//
//	svc := conversation.New(sessions, client, engine, opts, logger)
//
// Operations:
//
//   - StartConversation(ctx, contactID): create the remote conversation,
//     post the start event, return the greeting. Fails with
//     ErrAlreadyStarted when the contact already has a session.
//   - SendMessage(ctx, contactID, text): post a message and return the reply.
//     Starts the conversation first when there is no session.
//   - ConversationInfo(ctx, contactID): report the stored session, if any.
//
// # Concurrency
//
// Operations for one contact are serialized by a keyed mutex whose wait
// honours ctx. This makes session creation happen exactly once and keeps
// watermark updates single-writer. Distinct contacts never wait on each other.
//
// # Observers
//
// When a Broadcaster is configured, every posted activity and every collected
// agent activity is published to the contact's live subscribers.
package conversation
