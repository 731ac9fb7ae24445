// ABOUTME: HTTP API handlers relaying contact messages to the remote agent
// ABOUTME: JSON request/response types, error-to-status mapping and an SSE activity feed

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/clonepilot/internal/conversation"
	"github.com/2389/clonepilot/internal/directline"
)

// maxRequestBody bounds relay request bodies.
const maxRequestBody = 1 << 20

// MessageRequest is the JSON request body for POST /directline/message.
type MessageRequest struct {
	ContactID string `json:"contactId"`
	Text      string `json:"text"`
}

// StartRequest is the JSON request body for POST /directline/start.
type StartRequest struct {
	ContactID string `json:"contactId"`
}

// ReplyResponse is the JSON body returned for start and message calls.
type ReplyResponse struct {
	ContactID      string                `json:"contactId"`
	ConversationID string                `json:"conversationId,omitempty"`
	Started        bool                  `json:"started"`
	Activities     []directline.Activity `json:"activities"`
	Messages       []string              `json:"messages"`
	Complete       bool                  `json:"complete"`
	StopReason     string                `json:"stopReason,omitempty"`
	Watermark      string                `json:"watermark,omitempty"`
}

// ConversationInfoResponse is the JSON response for GET /directline/conversations/{contactId}.
type ConversationInfoResponse struct {
	ContactID       string     `json:"contactId"`
	HasConversation bool       `json:"hasConversation"`
	ConversationID  string     `json:"conversationId,omitempty"`
	Watermark       string     `json:"watermark,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx relay response. Reply
// carries what the agent said before a mid-turn failure, if anything.
type ErrorResponse struct {
	Error          string         `json:"error"`
	Kind           string         `json:"kind,omitempty"`
	UpstreamStatus int            `json:"upstreamStatus,omitempty"`
	Retryable      bool           `json:"retryable,omitempty"`
	Reply          *ReplyResponse `json:"reply,omitempty"`
}

// Error kinds reported in ErrorResponse.Kind.
const (
	KindBadRequest           = "bad_request"
	KindNotConfigured        = "not_configured"
	KindTransportUnavailable = "transport_unavailable"
	KindTransportRejected    = "transport_rejected"
	KindNoActiveSession      = "no_active_session"
	KindAlreadyStarted       = "already_started"
	KindTimeout              = "timeout"
	KindCanceled             = "canceled"
	KindInternal             = "internal"
)

// handleRoot handles GET / with service information.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Clonepilot API",
		"version":    Version,
		"uptime":     time.Since(g.startedAt).Round(time.Second).String(),
		"configured": g.configErr == nil,
		"approaches": map[string]any{
			"directLine": map[string]any{
				"description":  "Uses Direct Line REST API for bot communication",
				"baseUrl":      "/directline",
				"requiresAuth": g.config.Auth.JWTSecret != "",
			},
		},
	})
}

// handleDirectLineInfo handles GET /directline.
func (g *Gateway) handleDirectLineInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Direct Line API - Uses Direct Line REST API for bot communication",
		"endpoints": map[string]string{
			"sendMessage":       "POST /directline/message",
			"startConversation": "POST /directline/start",
			"conversationInfo":  "GET /directline/conversations/{contactId}",
			"events":            "GET /directline/conversations/{contactId}/events",
		},
		"policy": g.config.Polling.Policy,
		"note":   "Requires directline.secret (or DIRECTLINE_SECRET) or directline.oauth",
	})
}

// handleSendMessage handles POST /directline/message. A contact without a
// conversation gets one started first.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ContactID) == "" {
		g.sendJSONError(w, http.StatusBadRequest, KindBadRequest, "contactId is required")
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()

	reply, err := g.conversation.SendMessage(ctx, req.ContactID, req.Text)
	if err != nil {
		g.writeError(w, r, err, reply)
		return
	}
	g.writeJSON(w, http.StatusOK, toReplyResponse(reply))
}

// handleStartConversation handles POST /directline/start.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()

	reply, err := g.conversation.StartConversation(ctx, req.ContactID)
	if err != nil {
		g.writeError(w, r, err, reply)
		return
	}
	g.writeJSON(w, http.StatusOK, toReplyResponse(reply))
}

// handleConversationInfo handles GET /directline/conversations/{contactId}.
func (g *Gateway) handleConversationInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	info, err := g.conversation.ConversationInfo(r.Context(), r.PathValue("contactId"))
	if err != nil {
		g.writeError(w, r, err, nil)
		return
	}

	resp := ConversationInfoResponse{
		ContactID:       info.ContactID,
		HasConversation: info.HasConversation,
		ConversationID:  info.ConversationID,
		Watermark:       info.Watermark,
	}
	if info.HasConversation {
		resp.CreatedAt = &info.CreatedAt
		resp.UpdatedAt = &info.UpdatedAt
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleConversationEvents streams a contact's activities as Server-Sent
// Events until the client disconnects.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	contactID := strings.TrimSpace(r.PathValue("contactId"))
	if contactID == "" {
		g.sendJSONError(w, http.StatusBadRequest, KindBadRequest, "contactId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, KindInternal, "streaming not supported")
		return
	}

	events, _ := g.broadcaster.Subscribe(r.Context(), contactID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]string{"contactId": contactID})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev.Direction, ev)
			flusher.Flush()
		}
	}
}

// requestContext bounds a relay call by server.request_timeout.
func (g *Gateway) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if g.config.Server.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
}

// writeError maps a relay error onto an HTTP status and JSON body. A partial
// reply collected before the failure is included.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error, reply *conversation.Reply) {
	status, kind := classifyError(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Kind:      kind,
		Retryable: directline.Retryable(err),
	}
	var se *directline.StatusError
	if errors.As(err, &se) {
		resp.UpstreamStatus = se.StatusCode
	}
	if reply != nil {
		rr := toReplyResponse(reply)
		resp.Reply = &rr
	}

	if status >= http.StatusInternalServerError {
		g.logger.Error("relay request failed",
			"path", r.URL.Path,
			"status", status,
			"kind", kind,
			"error", err)
	} else {
		g.logger.Debug("relay request rejected",
			"path", r.URL.Path,
			"status", status,
			"kind", kind,
			"error", err)
	}
	g.writeJSON(w, status, resp)
}

// classifyError returns the HTTP status and error kind for a relay error.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrContactRequired), errors.Is(err, conversation.ErrTextRequired):
		return http.StatusBadRequest, KindBadRequest
	case errors.Is(err, conversation.ErrAlreadyStarted):
		return http.StatusConflict, KindAlreadyStarted
	case errors.Is(err, directline.ErrNoActiveSession):
		return http.StatusConflict, KindNoActiveSession
	case errors.Is(err, directline.ErrNotConfigured):
		return http.StatusInternalServerError, KindNotConfigured
	case errors.Is(err, directline.ErrTransportRejected):
		return http.StatusBadGateway, KindTransportRejected
	case errors.Is(err, directline.ErrTransportUnavailable):
		return http.StatusBadGateway, KindTransportUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, KindTimeout
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request"; nobody is left to read it
		return 499, KindCanceled
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func toReplyResponse(reply *conversation.Reply) ReplyResponse {
	activities := reply.Activities
	if activities == nil {
		activities = []directline.Activity{}
	}
	messages := make([]string, 0, len(activities))
	for _, a := range activities {
		if a.Type == directline.ActivityTypeMessage && a.Text != "" {
			messages = append(messages, a.Text)
		}
	}
	return ReplyResponse{
		ContactID:      reply.ContactID,
		ConversationID: reply.ConversationID,
		Started:        reply.Started,
		Activities:     activities,
		Messages:       messages,
		Complete:       reply.Complete,
		StopReason:     string(reply.StopReason),
		Watermark:      reply.Watermark,
	}
}

// decodeBody decodes a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, kind, message string) {
	g.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}
