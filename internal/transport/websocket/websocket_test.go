package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmat/gcs-telemetry/internal/transport"
)

var upgrader = websocket.Upgrader{}

// feed serves the given frames, then either holds the socket open or drops it.
func feed(t *testing.T, frames []string, hold time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(hold)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReadFramesThenReset(t *testing.T) {
	srv := feed(t, []string{`{"a":1}`, `{"a":2}`}, 0)
	defer srv.Close()

	conn, err := NewDialer(Config{URL: wsURL(srv), DialTimeout: time.Second}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	f, err := conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f))

	f, err = conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(f))

	_, err = conn.ReadFrame(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrConnectReset)
}

func TestReadTimeout(t *testing.T) {
	srv := feed(t, nil, 2*time.Second)
	defer srv.Close()

	conn, err := NewDialer(Config{URL: wsURL(srv), ReadTimeout: 50 * time.Millisecond}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestCancelAbortsRead(t *testing.T) {
	srv := feed(t, nil, 2*time.Second)
	defer srv.Close()

	conn, err := NewDialer(Config{URL: wsURL(srv)}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = conn.ReadFrame(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialFailure(t *testing.T) {
	_, err := NewDialer(Config{URL: "ws://127.0.0.1:1/ws", DialTimeout: 200 * time.Millisecond}).Dial(context.Background())
	require.Error(t, err)
	kind := transport.KindOf(err)
	assert.Contains(t, []transport.ErrorKind{transport.ConnectFailed, transport.Timeout}, kind)
}
