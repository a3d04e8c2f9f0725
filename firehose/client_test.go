package firehose

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliceisjustplaying/languagestats-bsky/errors"
)

type staticCursor int64

func (c staticCursor) Load() int64 { return int64(c) }

type recordingHandler struct {
	records []*CommitRecord
	err     error
}

func (h *recordingHandler) HandleCommit(_ context.Context, rec *CommitRecord) error {
	h.records = append(h.records, rec)
	return h.err
}

func newTestClient(t *testing.T, handler Handler, cursor CursorView) *Client {
	t.Helper()

	client, err := NewClient(Config{
		URL:         "wss://jetstream.example.com/subscribe",
		Collections: []string{postCollection},
	}, handler, cursor, nil, nil)
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	handler := &recordingHandler{}
	cursor := staticCursor(0)

	_, err := NewClient(Config{}, handler, cursor, nil, nil)
	assert.True(t, errors.IsFatal(err))

	_, err = NewClient(Config{URL: "wss://x"}, nil, cursor, nil, nil)
	assert.True(t, errors.IsFatal(err))

	_, err = NewClient(Config{URL: "wss://x"}, handler, nil, nil, nil)
	assert.True(t, errors.IsFatal(err))
}

func TestBackoffDelaySequence(t *testing.T) {
	base := time.Second
	ceiling := 30 * time.Second

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		got := backoffDelay(base, ceiling, attempt+1)
		assert.Equal(t, expected, got, "attempt %d", attempt+1)
	}

	// Attempt zero means no failures yet: the raw base delay.
	assert.Equal(t, base, backoffDelay(base, ceiling, 0))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "unknown", ConnectionState(99).String())
}

func TestSubscribeURL(t *testing.T) {
	client := newTestClient(t, &recordingHandler{}, staticCursor(0))

	// Live-tail start: no cursor parameter at all.
	url := client.subscribeURL(0)
	assert.Contains(t, url, "wantedCollections=app.bsky.feed.post")
	assert.NotContains(t, url, "cursor=")

	// Resume: the watermark rides along.
	url = client.subscribeURL(1234567890)
	assert.Contains(t, url, "cursor=1234567890")
}

func TestDispatchCommit(t *testing.T) {
	handler := &recordingHandler{}
	client := newTestClient(t, handler, staticCursor(0))

	client.dispatch(context.Background(), createFrame(
		`{"$type": "app.bsky.feed.post", "createdAt": "2026-08-30T12:00:00Z", "langs": ["en"], "text": "hi"}`))

	require.Len(t, handler.records, 1)
	assert.Equal(t, "did:plc:abc:r1", handler.records[0].PostID)
}

func TestDispatchRejectionDoesNotReachHandler(t *testing.T) {
	handler := &recordingHandler{}
	client := newTestClient(t, handler, staticCursor(0))

	client.dispatch(context.Background(), []byte(`{"type": "acc", "did": "did:plc:abc", "time_us": 1}`))
	client.dispatch(context.Background(), []byte(`not json`))

	assert.Empty(t, handler.records)
}

func TestDispatchHandlerErrorDropsEvent(t *testing.T) {
	handler := &recordingHandler{err: fmt.Errorf("storage down")}
	client := newTestClient(t, handler, staticCursor(0))

	// A handler failure is absorbed; dispatch must not panic or retry.
	client.dispatch(context.Background(), createFrame(
		`{"$type": "app.bsky.feed.post", "createdAt": "2026-08-30T12:00:00Z"}`))

	assert.Len(t, handler.records, 1)
}

func TestStopBeforeStart(t *testing.T) {
	client := newTestClient(t, &recordingHandler{}, staticCursor(0))
	assert.NoError(t, client.Stop(time.Second))
}

type channelHandler struct {
	commits chan *CommitRecord
}

func (h *channelHandler) HandleCommit(_ context.Context, rec *CommitRecord) error {
	h.commits <- rec
	return nil
}

func TestClientReadsAcrossIdleGap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live connection test in short mode")
	}

	serverDone := make(chan struct{})
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	frame := createFrame(
		`{"$type": "app.bsky.feed.post", "createdAt": "2026-08-30T12:00:00Z", "langs": ["en"], "text": "hi"}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// One frame, a quiet stretch with no traffic, then another. The
		// client must deliver both off the same connection.
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		time.Sleep(1500 * time.Millisecond)
		_ = conn.WriteMessage(websocket.TextMessage, frame)

		<-serverDone
	}))
	defer server.Close()
	defer close(serverDone)

	handler := &channelHandler{commits: make(chan *CommitRecord, 4)}
	client, err := NewClient(Config{
		URL:         "ws" + server.URL[4:], // Replace http with ws
		Collections: []string{postCollection},
	}, handler, staticCursor(0), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case rec := <-handler.commits:
			assert.Equal(t, "did:plc:abc:r1", rec.PostID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for commit %d", i+1)
		}
	}

	// Stop must unblock the pending read and return within the timeout.
	assert.NoError(t, client.Stop(2*time.Second))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientStopThenRestart(t *testing.T) {
	// Nothing listens on this port; the dial fails fast and the client sits
	// in backoff, where Stop must reach it.
	client, err := NewClient(Config{
		URL:         "ws://127.0.0.1:1",
		Collections: []string{postCollection},
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
	}, &recordingHandler{}, staticCursor(0), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	require.NoError(t, client.Stop(5*time.Second))

	// A cleanly stopped client starts again.
	require.NoError(t, client.Start(context.Background()))
	require.NoError(t, client.Stop(5*time.Second))
}
