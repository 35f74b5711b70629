package mqtt

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmat/gcs-telemetry/internal/transport"
)

func TestConnDeliversInOrder(t *testing.T) {
	c := newConn("gcs/telemetry", 0)
	defer c.Close()

	payload := []byte("one")
	c.deliver(payload)
	c.deliver([]byte("two"))
	payload[0] = 'X'

	f, err := c.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", string(f), "frames must be copied out of the paho buffer")

	f, err = c.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", string(f))
}

func TestConnLostAfterBufferedFrames(t *testing.T) {
	c := newConn("gcs/telemetry", 0)
	defer c.Close()

	c.deliver([]byte("last"))
	c.lose(errors.New("broker went away"))

	f, err := c.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "last", string(f))

	_, err = c.ReadFrame(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnectReset)
}

func TestConnReadTimeoutAndClose(t *testing.T) {
	c := newConn("gcs/telemetry", 20*time.Millisecond)

	_, err := c.ReadFrame(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)

	require.NoError(t, c.Close())
	_, err = c.ReadFrame(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)

	assert.NotPanics(t, func() { c.deliver([]byte("late")) })
}

func TestConnCancel(t *testing.T) {
	c := newConn("gcs/telemetry", 0)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReadFrame(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

// Requires a broker, e.g. GCS_TEST_MQTT_BROKER=tcp://localhost:1883.
func TestDialBroker(t *testing.T) {
	broker := os.Getenv("GCS_TEST_MQTT_BROKER")
	if broker == "" {
		t.Skip("GCS_TEST_MQTT_BROKER not set")
	}

	conn, err := NewDialer(Config{Broker: broker, Topic: "gcs/test/telemetry"}).Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialUnreachableBroker(t *testing.T) {
	_, err := NewDialer(Config{
		Broker:      "tcp://127.0.0.1:1",
		Topic:       "gcs/telemetry",
		DialTimeout: 300 * time.Millisecond,
	}).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, []transport.ErrorKind{transport.ConnectFailed, transport.Timeout}, transport.KindOf(err))
}

type pendingToken struct{ done chan struct{} }

func (t pendingToken) Wait() bool                     { <-t.done; return true }
func (t pendingToken) WaitTimeout(time.Duration) bool { return false }
func (t pendingToken) Done() <-chan struct{}          { return t.done }
func (t pendingToken) Error() error                   { return nil }

type stubClient struct {
	paho.Client
	tok          paho.Token
	disconnected int
}

func (c *stubClient) Connect() paho.Token { return c.tok }
func (c *stubClient) Disconnect(uint)     { c.disconnected++ }

func TestConnectAbandonedDisconnects(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		c := &stubClient{tok: pendingToken{done: make(chan struct{})}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := connect(ctx, c, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, c.disconnected)
	})

	t.Run("timed out", func(t *testing.T) {
		c := &stubClient{tok: pendingToken{done: make(chan struct{})}}

		err := connect(context.Background(), c, 20*time.Millisecond)
		assert.ErrorIs(t, err, errTokenTimeout)
		assert.Equal(t, transport.Timeout, kindFor(err))
		assert.Equal(t, 1, c.disconnected)
	})

	t.Run("connected", func(t *testing.T) {
		done := make(chan struct{})
		close(done)
		c := &stubClient{tok: pendingToken{done: done}}

		require.NoError(t, connect(context.Background(), c, time.Second))
		assert.Zero(t, c.disconnected)
	})
}
