// ABOUTME: Tests for the relay API client
// ABOUTME: Runs against a real gateway backed by the fake Direct Line service

package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clonepilot/internal/auth"
	"github.com/2389/clonepilot/internal/client"
	"github.com/2389/clonepilot/internal/config"
	"github.com/2389/clonepilot/internal/directline/directlinetest"
	"github.com/2389/clonepilot/internal/gateway"
)

const jwtSecret = "client-test-jwt-secret-of-32byte"

func newRelay(t *testing.T, jwt bool) string {
	t.Helper()

	fake := directlinetest.New()
	fakeSrv := fake.Start()
	t.Cleanup(fakeSrv.Close)

	cfg := config.Default()
	cfg.DirectLine.Endpoint = directlinetest.Endpoint(fakeSrv.URL)
	cfg.DirectLine.Secret = "s3cret"
	cfg.Polling.Interval = 5 * time.Millisecond
	cfg.Polling.Grace = 5 * time.Millisecond
	cfg.Polling.MaxAttempts = 100
	if jwt {
		cfg.Auth.JWTSecret = jwtSecret
	}

	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClient_Conversation(t *testing.T) {
	c := client.New(newRelay(t, false))
	ctx := t.Context()

	require.NoError(t, c.Health(ctx))

	info, err := c.ConversationInfo(ctx, "matrix:!room:example.org:@alice:example.org")
	require.NoError(t, err)
	assert.False(t, info.HasConversation)

	reply, err := c.StartConversation(ctx, "matrix:!room:example.org:@alice:example.org")
	require.NoError(t, err)
	assert.True(t, reply.Started)
	assert.Equal(t, []string{directlinetest.Greeting}, reply.Messages)

	reply, err = c.SendMessage(ctx, "matrix:!room:example.org:@alice:example.org", "ping")
	require.NoError(t, err)
	assert.Equal(t, []string{"You said: ping"}, reply.Messages)

	info, err = c.ConversationInfo(ctx, "matrix:!room:example.org:@alice:example.org")
	require.NoError(t, err)
	assert.True(t, info.HasConversation)
	assert.Equal(t, reply.ConversationID, info.ConversationID)
}

func TestClient_AlreadyStarted(t *testing.T) {
	c := client.New(newRelay(t, false))

	_, err := c.StartConversation(t.Context(), "c1")
	require.NoError(t, err)

	_, err = c.StartConversation(t.Context(), "c1")
	require.Error(t, err)
	assert.True(t, client.IsKind(err, "already_started"))

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestClient_Token(t *testing.T) {
	url := newRelay(t, true)

	_, err := client.New(url).SendMessage(t.Context(), "c1", "hi")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "missing authorization header", apiErr.Message)

	verifier, err := auth.NewJWTVerifier([]byte(jwtSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("cli", time.Hour)
	require.NoError(t, err)

	reply, err := client.New(url, client.WithToken(token)).SendMessage(t.Context(), "c1", "hi")
	require.NoError(t, err)
	assert.True(t, reply.Started)
}

func TestClient_DecodesPartialReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"fetch failed","kind":"transport_unavailable","upstreamStatus":503,"retryable":true,` +
			`"reply":{"contactId":"c1","messages":["partial"],"complete":false,"stopReason":"fetch_failed"}}`))
	}))
	defer srv.Close()

	_, err := client.New(srv.URL).SendMessage(t.Context(), "c1", "hi")

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "transport_unavailable", apiErr.Kind)
	assert.Equal(t, 503, apiErr.UpstreamStatus)
	assert.True(t, apiErr.Retryable)
	require.NotNil(t, apiErr.Reply)
	assert.Equal(t, []string{"partial"}, apiErr.Reply.Messages)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream proxy exploded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := client.New(srv.URL).Health(t.Context())
	require.Error(t, err)

	_, err = client.New(srv.URL).ConversationInfo(t.Context(), "c1")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream proxy exploded", apiErr.Message)
	assert.Empty(t, apiErr.Kind)
}
