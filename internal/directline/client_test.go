// ABOUTME: Tests for the Direct Line client against the fake service and raw handlers
// ABOUTME: Covers the wire contract and the mapping of failures onto error kinds

package directline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clonepilot/internal/directline"
	"github.com/2389/clonepilot/internal/directline/directlinetest"
)

func newFakeClient(t *testing.T) (*directline.Client, *directlinetest.Server) {
	t.Helper()

	fake := directlinetest.New()
	fake.Secret = "test-secret"
	srv := fake.Start()
	t.Cleanup(srv.Close)

	client, err := directline.NewClient(directline.Config{
		Endpoint:    directlinetest.Endpoint(srv.URL),
		Credentials: directline.StaticCredential("test-secret"),
	})
	require.NoError(t, err)
	return client, fake
}

func TestNewClient_NotConfigured(t *testing.T) {
	_, err := directline.NewClient(directline.Config{Endpoint: "http://localhost"})
	assert.ErrorIs(t, err, directline.ErrNotConfigured)

	_, err = directline.NewClient(directline.Config{
		Endpoint:    "http://localhost",
		Credentials: directline.StaticCredential(""),
	})
	assert.ErrorIs(t, err, directline.ErrNotConfigured)
}

func TestClient_CreatePostFetch(t *testing.T) {
	client, fake := newFakeClient(t)
	ctx := context.Background()

	conv, err := client.CreateConversation(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ConversationID)
	assert.NotEmpty(t, conv.Token)

	id, err := client.PostActivity(ctx, conv, &directline.Activity{
		Type: directline.ActivityTypeMessage,
		From: directline.ChannelAccount{ID: "user"},
		Text: "hi",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	set, err := client.FetchActivities(ctx, conv, "")
	require.NoError(t, err)
	require.Len(t, set.Activities, 3) // our message, typing, echo
	assert.Equal(t, "user", set.Activities[0].From.ID)
	assert.Equal(t, "You said: hi", set.Activities[2].Text)
	assert.True(t, set.Activities[2].ExpectingInput())
	assert.Equal(t, "3", set.Watermark)

	// Fetch after the watermark returns nothing new
	set, err = client.FetchActivities(ctx, conv, set.Watermark)
	require.NoError(t, err)
	assert.Empty(t, set.Activities)
	assert.Equal(t, "3", set.Watermark)

	received := fake.Received(conv.ConversationID)
	require.Len(t, received, 1)
	assert.Equal(t, "hi", received[0].Text)
}

func TestClient_FirstFetchOmitsWatermark(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		assert.Equal(t, "Bearer conv-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"activities":[],"watermark":7}`))
	}))
	defer srv.Close()

	client, err := directline.NewClient(directline.Config{
		Endpoint:    srv.URL,
		Credentials: directline.StaticCredential("s"),
	})
	require.NoError(t, err)

	conv := &directline.Conversation{ConversationID: "c/1", Token: "conv-token"}
	set, err := client.FetchActivities(context.Background(), conv, "")
	require.NoError(t, err)
	assert.Equal(t, "7", set.Watermark, "numeric watermark decodes as string")

	_, err = client.FetchActivities(context.Background(), conv, "7")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	assert.Empty(t, queries[0])
	assert.Equal(t, "watermark=7", queries[1])
}

func TestClient_CreateRejectedSecret(t *testing.T) {
	fake := directlinetest.New()
	fake.Secret = "right"
	srv := fake.Start()
	defer srv.Close()

	client, err := directline.NewClient(directline.Config{
		Endpoint:    directlinetest.Endpoint(srv.URL),
		Credentials: directline.StaticCredential("wrong"),
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, directline.ErrTransportUnavailable)

	var se *directline.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, directline.OpCreateConversation, se.Op)
	assert.False(t, directline.Retryable(err))
}

func TestClient_PostRejected(t *testing.T) {
	client, fake := newFakeClient(t)
	ctx := context.Background()

	conv, err := client.CreateConversation(ctx)
	require.NoError(t, err)

	fake.FailNext(directline.OpPostActivity, http.StatusBadRequest, 1)
	_, err = client.PostActivity(ctx, conv, &directline.Activity{Type: directline.ActivityTypeMessage, Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, directline.ErrTransportRejected)
	assert.NotErrorIs(t, err, directline.ErrTransportUnavailable)

	var se *directline.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, se.Body, "activity rejected")
}

func TestClient_FetchServerError(t *testing.T) {
	client, fake := newFakeClient(t)
	ctx := context.Background()

	conv, err := client.CreateConversation(ctx)
	require.NoError(t, err)

	fake.FailNext(directline.OpFetchActivities, http.StatusBadGateway, 1)
	_, err = client.FetchActivities(ctx, conv, "")
	assert.ErrorIs(t, err, directline.ErrTransportUnavailable)
	assert.True(t, directline.Retryable(err))
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	client, err := directline.NewClient(directline.Config{
		Endpoint:    endpoint,
		Credentials: directline.StaticCredential("s"),
		HTTPClient:  &http.Client{Timeout: time.Second},
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background())
	assert.ErrorIs(t, err, directline.ErrTransportUnavailable)
	assert.True(t, directline.Retryable(err))
}

func TestClient_NoActiveSession(t *testing.T) {
	client, _ := newFakeClient(t)
	ctx := context.Background()

	_, err := client.PostActivity(ctx, nil, &directline.Activity{Type: directline.ActivityTypeMessage})
	assert.ErrorIs(t, err, directline.ErrNoActiveSession)

	_, err = client.FetchActivities(ctx, &directline.Conversation{ConversationID: "c1"}, "")
	assert.ErrorIs(t, err, directline.ErrNoActiveSession)
}

func TestClient_CredentialResolvesEmpty(t *testing.T) {
	client, err := directline.NewClient(directline.Config{
		Endpoint:    "http://127.0.0.1:1",
		Credentials: emptyCredential{},
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background())
	assert.ErrorIs(t, err, directline.ErrNotConfigured)
}

func TestClient_CreateMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"conversationId":"abc"}`))
	}))
	defer srv.Close()

	client, err := directline.NewClient(directline.Config{
		Endpoint:    srv.URL,
		Credentials: directline.StaticCredential("s"),
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background())
	assert.ErrorIs(t, err, directline.ErrTransportUnavailable)
}

func TestClient_ObserverCalled(t *testing.T) {
	fake := directlinetest.New()
	srv := fake.Start()
	defer srv.Close()

	obs := &recordingObserver{}
	client, err := directline.NewClient(directline.Config{
		Endpoint:    directlinetest.Endpoint(srv.URL),
		Credentials: directline.StaticCredential("s"),
		Observer:    obs,
	})
	require.NoError(t, err)

	_, err = client.CreateConversation(context.Background())
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"create_conversation:ok"}, obs.seen)
}

type emptyCredential struct{}

func (emptyCredential) Token(context.Context) (string, error) { return "", nil }

type recordingObserver struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingObserver) ObserveRequest(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, op+":"+outcome)
}
