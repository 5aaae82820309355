package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer echoes text frames until the client goes away. If closeAfter
// is set, it closes the connection after that many frames.
func echoServer(t *testing.T, closeAfter int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for n := 1; ; n++ {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
			if closeAfter > 0 && n >= closeAfter {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
					time.Now().Add(time.Second))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketEcho(t *testing.T) {
	srv := echoServer(t, 0)

	received := make(chan string, 4)
	closed := make(chan error, 1)

	d := &WebSocketDialer{}
	conn, err := d.Dial(context.Background(), wsURL(srv), Handler{
		OnMessage: func(data []byte) { received <- string(data) },
		OnClose:   func(err error) { closed <- err },
	})
	require.NoError(t, err)

	require.NoError(t, conn.SendText(context.Background(), []byte(`[{"Ping":{"Id":1}}]`)))
	require.NoError(t, conn.SendText(context.Background(), []byte(`[{"Ping":{"Id":2}}]`)))

	for _, want := range []string{`[{"Ping":{"Id":1}}]`, `[{"Ping":{"Id":2}}]`} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("echo not received")
		}
	}

	require.NoError(t, conn.Close())
	select {
	case err := <-closed:
		assert.NoError(t, err, "local close is a normal closure")
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	<-conn.Done()

	err = conn.SendText(context.Background(), []byte("late"))
	assert.True(t, errors.Is(err, ErrConnectionClosed))

	// Close is idempotent.
	assert.NoError(t, conn.Close())
}

func TestWebSocketRemoteClose(t *testing.T) {
	srv := echoServer(t, 1)

	var closeCount int
	closed := make(chan error, 2)

	d := &WebSocketDialer{}
	conn, err := d.Dial(context.Background(), wsURL(srv), Handler{
		OnClose: func(err error) {
			closeCount++
			closed <- err
		},
	})
	require.NoError(t, err)

	require.NoError(t, conn.SendText(context.Background(), []byte("hello")))

	select {
	case err := <-closed:
		assert.NoError(t, err, "going-away is a normal closure")
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	<-conn.Done()
	assert.Equal(t, 1, closeCount)

	// Closing after the remote did must not fire OnClose again.
	_ = conn.Close()
	assert.Len(t, closed, 0)
}

func TestWebSocketCloseFromHandler(t *testing.T) {
	srv := echoServer(t, 0)

	var conn Conn
	ready := make(chan struct{})
	d := &WebSocketDialer{}

	c, err := d.Dial(context.Background(), wsURL(srv), Handler{
		OnMessage: func(data []byte) {
			<-ready
			_ = conn.Close()
		},
	})
	require.NoError(t, err)
	conn = c
	close(ready)

	require.NoError(t, conn.SendText(context.Background(), []byte("x")))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), wsURL(srv), Handler{})
	assert.Error(t, err)
}

func TestWebSocketSendCancelled(t *testing.T) {
	srv := echoServer(t, 0)

	d := &WebSocketDialer{}
	conn, err := d.Dial(context.Background(), wsURL(srv), Handler{})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, conn.SendText(ctx, []byte("x")), context.Canceled)
}
