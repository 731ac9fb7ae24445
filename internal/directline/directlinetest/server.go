// ABOUTME: In-process fake Direct Line service for tests and local end-to-end runs
// ABOUTME: Scripted replies, delayed delivery, re-sent activities and failure injection

package directlinetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/clonepilot/internal/directline"
)

// BotID is the account id the fake agent replies as.
const BotID = "fake-agent"

// Responder produces the agent's replies to one posted activity.
type Responder func(in directline.Activity) []directline.Activity

// Call records one request the fake served.
type Call struct {
	Op             string
	ConversationID string
	Watermark      string
	Status         int
	At             time.Time
}

type entry struct {
	activity  directline.Activity
	visibleAt time.Time
}

type conversation struct {
	id      string
	token   string
	entries []entry
	seq     int
}

type failure struct {
	status int
	left   int
}

// Server is a fake Direct Line endpoint. The zero value is not usable; use New.
type Server struct {
	// Secret, when set, must be presented as the bearer on conversation creation.
	Secret string

	mu            sync.Mutex
	conversations map[string]*conversation
	byToken       map[string]*conversation
	responder     Responder
	replyDelay    time.Duration
	resendLast    bool
	failures      map[string]*failure
	calls         []Call
	mux           *http.ServeMux
}

// New creates a fake that answers with EchoResponder.
func New() *Server {
	s := &Server{
		conversations: make(map[string]*conversation),
		byToken:       make(map[string]*conversation),
		responder:     EchoResponder,
		failures:      make(map[string]*failure),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/directline/conversations", s.handleCreate)
	mux.HandleFunc("/v3/directline/conversations/", s.handleActivities)
	s.mux = mux
	return s
}

// Start serves the fake on a loopback httptest server. The caller closes it.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// Endpoint returns the Direct Line base URL for a server started at baseURL.
func Endpoint(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/v3/directline"
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetResponder replaces the reply script.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// SetReplyDelay makes replies visible to fetches only after d.
func (s *Server) SetReplyDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = d
}

// SetResendLast makes every fetch with a watermark repeat the activity just
// before it, as some Direct Line deployments do.
func (s *Server) SetResendLast(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resendLast = on
}

// FailNext makes the next n requests for op answer with status.
func (s *Server) FailNext(op string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{status: status, left: n}
}

// Calls returns a copy of the requests served so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountCalls returns how many requests for op were served.
func (s *Server) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Received returns the activities posted into a conversation by the client.
func (s *Server) Received(conversationID string) []directline.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	var out []directline.Activity
	for _, e := range conv.entries {
		if e.activity.From.ID != BotID {
			out = append(out, e.activity)
		}
	}
	return out
}

// ConversationCount returns the number of conversations created.
func (s *Server) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, failed := s.takeFailure(directline.OpCreateConversation); failed {
		s.record(directline.OpCreateConversation, "", "", status)
		writeError(w, status, "injected failure")
		return
	}
	if s.Secret != "" && bearer(r) != s.Secret {
		s.record(directline.OpCreateConversation, "", "", http.StatusForbidden)
		writeError(w, http.StatusForbidden, "invalid secret")
		return
	}

	conv := &conversation{
		id:    uuid.New().String(),
		token: "tok-" + uuid.New().String(),
	}
	s.conversations[conv.id] = conv
	s.byToken[conv.token] = conv
	s.record(directline.OpCreateConversation, conv.id, "", http.StatusCreated)

	writeJSON(w, http.StatusCreated, directline.Conversation{
		ConversationID: conv.id,
		Token:          conv.token,
		ExpiresIn:      1800,
	})
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v3/directline/conversations/")
	id, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "activities" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r, id)
	case http.MethodGet:
		s.handleFetch(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, id string) {
	var in directline.Activity
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, status := s.authorize(r, id)
	if status == 0 {
		status, _ = s.takeFailure(directline.OpPostActivity)
	}
	if status != 0 {
		s.record(directline.OpPostActivity, id, "", status)
		writeError(w, status, "activity rejected")
		return
	}

	now := time.Now()
	in.ID = conv.nextID()
	in.Timestamp = now.UTC()
	in.Conversation = &directline.ConversationAccount{ID: conv.id}
	conv.entries = append(conv.entries, entry{activity: in, visibleAt: now})

	if s.responder != nil {
		for _, reply := range s.responder(in) {
			reply.ID = conv.nextID()
			reply.Timestamp = now.UTC()
			reply.Conversation = &directline.ConversationAccount{ID: conv.id}
			if reply.From.ID == "" {
				reply.From = directline.ChannelAccount{ID: BotID, Name: "Fake Agent", Role: "bot"}
			}
			reply.ReplyToID = in.ID
			conv.entries = append(conv.entries, entry{activity: reply, visibleAt: now.Add(s.replyDelay)})
		}
	}

	s.record(directline.OpPostActivity, id, "", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"id": in.ID})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, id string) {
	watermark := r.URL.Query().Get("watermark")

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, status := s.authorize(r, id)
	if status == 0 {
		status, _ = s.takeFailure(directline.OpFetchActivities)
	}
	if status != 0 {
		s.record(directline.OpFetchActivities, id, watermark, status)
		writeError(w, status, "fetch failed")
		return
	}

	start := 0
	if watermark != "" {
		n, err := strconv.Atoi(watermark)
		if err != nil || n < 0 {
			s.record(directline.OpFetchActivities, id, watermark, http.StatusBadRequest)
			writeError(w, http.StatusBadRequest, "invalid watermark")
			return
		}
		start = min(n, len(conv.entries))
	}

	now := time.Now()
	activities := []directline.Activity{}
	if s.resendLast && start > 0 {
		activities = append(activities, conv.entries[start-1].activity)
	}
	end := start
	for end < len(conv.entries) && !conv.entries[end].visibleAt.After(now) {
		activities = append(activities, conv.entries[end].activity)
		end++
	}

	s.record(directline.OpFetchActivities, id, watermark, http.StatusOK)
	writeJSON(w, http.StatusOK, directline.ActivitySet{
		Activities: activities,
		Watermark:  strconv.Itoa(end),
	})
}

// authorize resolves the conversation and checks the bearer. Must be called with mu held.
func (s *Server) authorize(r *http.Request, id string) (*conversation, int) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, http.StatusNotFound
	}
	if bearer(r) != conv.token {
		return nil, http.StatusForbidden
	}
	return conv, 0
}

// takeFailure consumes one injected failure for op. Must be called with mu held.
func (s *Server) takeFailure(op string) (int, bool) {
	f, ok := s.failures[op]
	if !ok || f.left <= 0 {
		return 0, false
	}
	f.left--
	return f.status, true
}

// record appends a call. Must be called with mu held.
func (s *Server) record(op, conversationID, watermark string, status int) {
	s.calls = append(s.calls, Call{
		Op:             op,
		ConversationID: conversationID,
		Watermark:      watermark,
		Status:         status,
		At:             time.Now(),
	})
}

func (c *conversation) nextID() string {
	id := fmt.Sprintf("%s|%07d", c.id, c.seq)
	c.seq++
	return id
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": http.StatusText(status), "message": msg},
	})
}
