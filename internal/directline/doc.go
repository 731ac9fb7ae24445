// Package directline is a client for the Direct Line REST protocol used to
// reach the remote conversational agent.
//
// # Protocol
//
// Three calls are used:
//
//	POST {endpoint}/conversations                         (endpoint credential)
//	POST {endpoint}/conversations/{id}/activities         (conversation token)
//	GET  {endpoint}/conversations/{id}/activities?watermark=w
//
// The watermark is an opaque cursor returned with every page. It is omitted
// on the first fetch of a conversation.
//
// # Errors
//
// Every failure maps onto one of the package sentinels:
//
//   - ErrNotConfigured: no credential, reported by NewClient and CreateConversation
//   - ErrTransportUnavailable: network failure, or non-2xx on create and fetch
//   - ErrTransportRejected: non-2xx on post
//   - ErrNoActiveSession: post or fetch without a conversation
//
// Non-2xx responses are returned as *StatusError, which keeps the status code
// and the (truncated) remote body and unwraps to its sentinel. Use errors.Is
// and errors.As to classify, and Retryable to decide whether to try again.
//
// # Credentials
//
// StaticCredential carries a Direct Line secret. OAuthCredential obtains an
// application token through the OAuth2 client credentials grant.
package directline
