// Package session stores the per-contact state needed to talk to a remote
// Direct Line conversation: the conversation id, its bearer token and the
// watermark of the last fetched activity page.
//
// Sessions are created by the conversation service, advanced by the polling
// engine through SetWatermark, and never deleted. The conversation token is
// redacted whenever a Session is logged.
package session
