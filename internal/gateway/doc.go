// Package gateway wires the clonepilot relay together and serves its HTTP API.
//
// # Overview
//
// New builds every component from a *config.Config:
//
//	store.Open(database.path)          -> session.Store
//	directline.NewClient(credentials)  -> transport (static secret or OAuth)
//	poll.New(transport, sessions, ...) -> reply collection with the configured policy
//	conversation.New(...)              -> per-contact orchestration
//	metrics.MustNew(registry)          -> Prometheus collectors
//
// A missing Direct Line credential does not stop the relay. The gateway starts,
// /health/ready reports 503 and every relay call answers 500 not_configured.
//
// # HTTP Endpoints
//
//	GET  /health                                   liveness
//	GET  /health/ready                             credentials and storage check
//	GET  /                                         service info
//	GET  /directline                               Direct Line API info
//	POST /directline/message                       {contactId, text} -> reply
//	POST /directline/start                         {contactId} -> greeting
//	GET  /directline/conversations/{contactId}     conversation info
//	GET  /directline/conversations/{contactId}/events  SSE feed of activities
//	GET  /metrics                                  Prometheus (metrics.enabled)
//
// The /directline routes require a bearer JWT when auth.jwt_secret is set.
//
// # Errors
//
// Relay failures are answered with an ErrorResponse whose Kind names the
// failure class:
//
//	bad_request            400
//	already_started        409
//	no_active_session      409
//	not_configured         500
//	transport_rejected     502
//	transport_unavailable  502 (retryable)
//	timeout                504
//
// When polling failed after the agent had started answering, the activities
// collected so far are returned in ErrorResponse.Reply. Replies that stopped on
// the poll budget or deadline are a 200 with complete=false.
//
// # Listeners
//
// The API listens on server.http_addr, or joins a tailnet through tsnet when
// tailscale.enabled is set (plain :80, HTTPS with Tailscale certs, or Funnel).
// Run supervises the server and its shutdown with an errgroup and returns nil
// on graceful shutdown.
package gateway
