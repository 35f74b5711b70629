// Package websocket reads upstream telemetry frames from a websocket feed.
// Each websocket message is one frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/transport"
)

const maxFrameBytes = 64 << 10

type Config struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	Header       http.Header
	MaxFrameSize int64
}

// Dialer connects to the upstream device feed.
type Dialer struct {
	cfg Config
	ws  *websocket.Dialer
}

func NewDialer(cfg Config) *Dialer {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = maxFrameBytes
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	ws, resp, err := d.ws.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		kind := transport.ConnectFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = transport.Timeout
		}
		return nil, &transport.Error{Kind: kind, Op: "dial " + d.cfg.URL, Err: err}
	}
	ws.SetReadLimit(d.cfg.MaxFrameSize)

	log.Debug().Str("url", d.cfg.URL).Str("remote", ws.RemoteAddr().String()).Msg("websocket upstream connected")
	return &Conn{ws: ws, readTimeout: d.cfg.ReadTimeout}, nil
}

// Conn is a connected websocket upstream.
type Conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
	once        sync.Once
	closeErr    error
}

// ReadFrame blocks until the next message arrives, the read deadline passes
// or ctx is cancelled. Cancellation closes the socket to abort the read.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.ws.Close()
	})
	defer stop()

	if c.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, transport.Classify("set deadline", err)
		}
	}

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &transport.Error{Kind: transport.Closed, Op: "read", Err: ctx.Err()}
			}
			return nil, transport.Classify("read", err)
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

// Close sends a close frame when possible and releases the socket.
func (c *Conn) Close() error {
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ground station shutting down")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err := c.ws.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = fmt.Errorf("websocket close: %w", err)
		}
	})
	return c.closeErr
}
