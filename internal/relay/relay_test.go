package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type countingObserver struct {
	clients atomic.Int64
	dropped atomic.Int64
	limited atomic.Int64
}

func (o *countingObserver) SetRelayClients(n int) { o.clients.Store(int64(n)) }
func (o *countingObserver) RelayClientDropped()   { o.dropped.Add(1) }
func (o *countingObserver) RelayRateLimited()     { o.limited.Add(1) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, obs Observer) *Hub {
	t.Helper()
	h := NewHub(quietLogger(), obs)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func fakeClient(h *Hub, sessionID string, buffer int) *Client {
	return &Client{hub: h, sessionID: sessionID, send: make(chan []byte, buffer)}
}

func TestPublishReachesOnlySessionClients(t *testing.T) {
	h := startHub(t, nil)
	a := fakeClient(h, "s1", 4)
	b := fakeClient(h, "s2", 4)
	require.True(t, h.add(a))
	require.True(t, h.add(b))

	require.True(t, h.Publish("s1", Outbound{Type: "notice", Stage: "idle", Payload: map[string]string{"code": "prompt_company"}}))

	select {
	case blob := <-a.send:
		var ev Outbound
		require.NoError(t, json.Unmarshal(blob, &ev))
		assert.Equal(t, "notice", ev.Type)
		assert.Equal(t, "idle", ev.Stage)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Empty(t, b.send)
}

func TestSlowClientIsDropped(t *testing.T) {
	obs := &countingObserver{}
	h := startHub(t, obs)
	slow := fakeClient(h, "s1", 1)
	fast := fakeClient(h, "s1", 8)
	require.True(t, h.add(slow))
	require.True(t, h.add(fast))

	for i := 0; i < 3; i++ {
		h.Publish("s1", Outbound{Type: "notice", Stage: "idle"})
	}
	require.Eventually(t, func() bool { return h.SessionClients("s1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), obs.dropped.Load())
	assert.Equal(t, int64(1), obs.clients.Load())

	// The dropped client's queue is closed after the buffered event.
	<-slow.send
	_, ok := <-slow.send
	assert.False(t, ok)
	assert.Len(t, fast.send, 3)
}

func TestUnregisterAndStop(t *testing.T) {
	h := NewHub(quietLogger(), nil)
	go h.Run()
	c := fakeClient(h, "s1", 1)
	d := fakeClient(h, "s2", 1)
	require.True(t, h.add(c))
	require.True(t, h.add(d))
	h.drop(c)
	h.drop(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	_, ok := <-d.send
	assert.False(t, ok)
	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, h.Publish("s2", Outbound{Type: "notice"}))
	assert.False(t, h.add(fakeClient(h, "s3", 1)))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServeWSRoundTrip(t *testing.T) {
	h := startHub(t, nil)
	var mu sync.Mutex
	var got []Inbound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s1", func(_ context.Context, sessionID string, in Inbound) {
			mu.Lock()
			got = append(got, in)
			mu.Unlock()
			h.Publish(sessionID, Outbound{Type: "question", Stage: "data_collection", Payload: map[string]string{"echo": in.Message}})
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Inbound{ID: "m1", Agent: "web", Message: "20 reps", Context: map[string]string{"model_id": "m"}}))
	require.NoError(t, conn.WriteJSON(Inbound{Agent: "web", Message: "   "}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type    string            `json:"type"`
		Stage   string            `json:"stage"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "question", ev.Type)
	assert.Equal(t, "20 reps", ev.Payload["echo"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m", got[0].Context["model_id"])
}

func TestServeWSRateLimitsInbound(t *testing.T) {
	obs := &countingObserver{}
	h := startHub(t, obs)
	h.SetInboundLimit(rate.Every(time.Hour), 2)
	var handled atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s1", func(context.Context, string, Inbound) { handled.Add(1) })
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(Inbound{Agent: "web", Message: "hello"}))
	}
	require.Eventually(t, func() bool { return obs.limited.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), handled.Load())
}

func TestServeWSDisconnectUnregisters(t *testing.T) {
	h := startHub(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, "s1", nil)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.SessionClients("s1") == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return h.SessionClients("s1") == 0 }, 2*time.Second, 5*time.Millisecond)
}
