package peer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/peer"
	"github.com/alpacahq/peersync/replication"
)

type received struct {
	data   string
	binary bool
}

type recorder struct {
	mu     sync.Mutex
	frames []received
}

func (r *recorder) handle(_ context.Context, data []byte, binary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, received{data: string(data), binary: binary})
}

func (r *recorder) get() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.frames...)
}

func testConfig(self string) peer.Config {
	return peer.Config{
		Self:             self,
		QueueSize:        16,
		PingInterval:     20 * time.Millisecond,
		RetryInterval:    10 * time.Millisecond,
		RetryMaxInterval: 50 * time.Millisecond,
		BackoffCoeff:     2,
	}
}

func TestServer_RejectsUnknownPeers(t *testing.T) {
	t.Parallel()

	srv, err := peer.NewServer("users-a", []string{"users-*"}, time.Second, (&recorder{}).handle)
	require.NoError(t, err)
	defer srv.Close()

	tests := []struct {
		name     string
		instance string
		want     int
	}{
		{name: "missing identity", instance: "", want: http.StatusBadRequest},
		{name: "self", instance: "users-a", want: http.StatusConflict},
		{name: "not allowed", instance: "orders-a", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, peer.Path, nil)
		if tt.instance != "" {
			req.Header.Set(peer.HeaderInstance, tt.instance)
		}
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		assert.Equal(t, tt.want, rec.Code, tt.name)
	}
}

func TestNewServer_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := peer.NewServer("a", []string{"users-[a"}, time.Second, (&recorder{}).handle)
	assert.Error(t, err)
}

func TestConn_DeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	// --- given ---
	rec := &recorder{}
	srv, err := peer.NewServer("users-b", []string{"users-*"}, time.Second, rec.handle)
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle(peer.Path, srv)
	hs := httptest.NewServer(mux)
	defer hs.Close()
	defer srv.Close()

	c := peer.Dial(strings.TrimPrefix(hs.URL, "http://"), testConfig("users-a"))
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == peer.StateConnected }, 2*time.Second, 5*time.Millisecond)

	// --- when ---
	require.NoError(t, c.Send([]byte(`{"n":1}`), false))
	require.NoError(t, c.Send([]byte{0x81, 0xa1, 0x6e, 0x02}, true))
	require.NoError(t, c.Send([]byte(`{"n":3}`), false))

	// --- then ---
	require.Eventually(t, func() bool { return len(rec.get()) == 3 }, 2*time.Second, 5*time.Millisecond)
	frames := rec.get()
	assert.Equal(t, received{data: `{"n":1}`, binary: false}, frames[0])
	assert.True(t, frames[1].binary)
	assert.Equal(t, received{data: `{"n":3}`, binary: false}, frames[2])
	assert.Equal(t, []string{"users-a"}, srv.Connections())
}

func TestConn_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	// --- given: nothing listens on this address ---
	c := peer.Dial("127.0.0.1:1", testConfig("users-a"))

	// --- when ---
	err := c.Send([]byte("x"), false)

	// --- then ---
	assert.ErrorIs(t, err, replication.ErrPeerDisconnected)
	assert.Equal(t, peer.StateDisconnected, c.State())

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked while reconnecting")
	}
}

func TestServer_CloseDisconnectsPeers(t *testing.T) {
	t.Parallel()

	srv, err := peer.NewServer("users-b", nil, time.Second, (&recorder{}).handle)
	require.NoError(t, err)
	hs := httptest.NewServer(srv)
	defer hs.Close()

	c := peer.Dial(strings.TrimPrefix(hs.URL, "http://"), testConfig("users-a"))
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == peer.StateConnected }, 2*time.Second, 5*time.Millisecond)

	srv.Close()

	assert.Eventually(t, func() bool { return c.State() == peer.StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, srv.Connections())
}

func TestServer_RejectsOversizedFrames(t *testing.T) {
	t.Parallel()

	// --- given ---
	rec := &recorder{}
	srv, err := peer.NewServer("users-b", nil, time.Second, rec.handle)
	require.NoError(t, err)
	hs := httptest.NewServer(srv)
	defer hs.Close()
	defer srv.Close()

	header := http.Header{}
	header.Set(peer.HeaderInstance, "users-a")
	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	// --- when ---
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, make([]byte, peer.MaxFrameSize+1)))

	// --- then: the server drops the connection without handling the frame ---
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Empty(t, rec.get())
}
