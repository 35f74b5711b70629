// Package mqtt reads upstream telemetry frames from an MQTT topic. Each
// published message is one frame.
//
// Paho's automatic reconnect is disabled: a lost connection surfaces as a
// read error so the ingestion session owns retry and backoff.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/transport"
)

const frameBuffer = 256

type Config struct {
	Broker      string
	Topic       string
	ClientID    string
	QoS         byte
	Username    string
	Password    string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.ClientID == "" {
		cfg.ClientID = "gcsd-" + uuid.NewString()[:8]
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	conn := newConn(d.cfg.Topic, d.cfg.ReadTimeout)

	opts := paho.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(d.cfg.ClientID)
	opts.SetUsername(d.cfg.Username)
	opts.SetPassword(d.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(d.cfg.DialTimeout)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		conn.lose(err)
	})

	client := paho.NewClient(opts)
	if err := connect(ctx, client, d.cfg.DialTimeout); err != nil {
		return nil, &transport.Error{Kind: kindFor(err), Op: "connect " + d.cfg.Broker, Err: err}
	}

	conn.client = client
	tok := client.Subscribe(d.cfg.Topic, d.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		conn.deliver(msg.Payload())
	})
	if err := wait(ctx, tok, d.cfg.DialTimeout); err != nil {
		client.Disconnect(250)
		return nil, &transport.Error{Kind: kindFor(err), Op: "subscribe " + d.cfg.Topic, Err: err}
	}

	log.Debug().Str("broker", d.cfg.Broker).Str("topic", d.cfg.Topic).Msg("mqtt upstream connected")
	return conn, nil
}

// connect stops the client's network goroutines when the attempt is
// abandoned so a later broker answer cannot leave it half open.
func connect(ctx context.Context, client paho.Client, timeout time.Duration) error {
	if err := wait(ctx, client.Connect(), timeout); err != nil {
		client.Disconnect(0)
		return err
	}
	return nil
}

var errTokenTimeout = errors.New("mqtt: operation timed out")

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return errTokenTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func kindFor(err error) transport.ErrorKind {
	if errors.Is(err, errTokenTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return transport.Timeout
	}
	return transport.ConnectFailed
}

// Conn buffers messages delivered by the paho router until ReadFrame takes them.
type Conn struct {
	client      paho.Client
	topic       string
	readTimeout time.Duration

	frames chan []byte
	lost   chan error
	done   chan struct{}
	once   sync.Once
}

func newConn(topic string, readTimeout time.Duration) *Conn {
	return &Conn{
		topic:       topic,
		readTimeout: readTimeout,
		frames:      make(chan []byte, frameBuffer),
		lost:        make(chan error, 1),
		done:        make(chan struct{}),
	}
}

// deliver runs on the paho router goroutine; it blocks while the buffer is
// full so frame order is kept.
func (c *Conn) deliver(payload []byte) {
	frame := make([]byte, len(payload))
	copy(frame, payload)

	select {
	case c.frames <- frame:
	case <-c.done:
	}
}

func (c *Conn) lose(err error) {
	if err == nil {
		err = errors.New("mqtt: connection lost")
	}
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if c.readTimeout > 0 {
		timer := time.NewTimer(c.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	// buffered frames win over a pending connection-lost notice
	select {
	case f := <-c.frames:
		return f, nil
	default:
	}

	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.lost:
		return nil, &transport.Error{Kind: transport.ConnectReset, Op: "read", Err: err}
	case <-timeout:
		return nil, &transport.Error{Kind: transport.Timeout, Op: "read", Err: fmt.Errorf("no message on %s within %s", c.topic, c.readTimeout)}
	case <-c.done:
		return nil, &transport.Error{Kind: transport.Closed, Op: "read"}
	case <-ctx.Done():
		return nil, &transport.Error{Kind: transport.Closed, Op: "read", Err: ctx.Err()}
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		if c.client != nil && c.client.IsConnected() {
			c.client.Unsubscribe(c.topic).WaitTimeout(time.Second)
			c.client.Disconnect(250)
		}
	})
	return nil
}
