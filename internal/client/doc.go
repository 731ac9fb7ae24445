// Package client is a small HTTP client for the clonepilot relay API, used by
// the CLI and the Matrix bridge.
//
//	c := client.New("http://127.0.0.1:3000", client.WithToken(jwt))
//	reply, err := c.SendMessage(ctx, "matrix:!room:@alice", "hello")
//
// Non-2xx responses are returned as *APIError. Its Kind mirrors the relay's
// error kinds ("already_started", "transport_unavailable", ...), and Reply
// carries any activities the relay collected before a mid-turn failure.
package client
