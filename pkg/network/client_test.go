package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

func newTestClient(t *testing.T, bus *event.Bus) *TelemetryClient {
	t.Helper()
	env := config.DefaultEnvironmentConfig()
	env.CircuitBreakerMaxConsecutiveFails = 10
	c := NewTelemetryClient(bus, env, logging.NewNopLogger())
	c.network.RetryBaseDelay = time.Millisecond
	c.reconnectDelay = 10 * time.Millisecond
	c.pingInterval = 20 * time.Millisecond
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestTelemetryClient_NotConnected(t *testing.T) {
	c := newTestClient(t, nil)

	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.SendKey(control.KeyArrowUp, true), ErrNotConnected)
	assert.ErrorIs(t, c.ToggleMode(), ErrNotConnected)
	assert.ErrorIs(t, c.RequestMode(physics.ModeAuto), ErrNotConnected)
	assert.NoError(t, c.Disconnect())
	assert.Equal(t, "closed", c.BreakerState())
}

func TestTelemetryClient_ConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	c := newTestClient(t, nil)
	err = c.Connect(context.Background(), addr, "pilot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.False(t, c.Connected())
}

func TestTelemetryClient_ServerRejection(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	c := newTestClient(t, nil)

	err := c.Connect(context.Background(), ts.addr, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server rejected connection")
}

func TestTelemetryClient_FlightSession(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	c := newTestClient(t, nil)

	require.NoError(t, c.Connect(context.Background(), ts.addr, "pilot"))
	assert.True(t, c.Connected())
	assert.NotEmpty(t, c.ClientID())
	assert.Equal(t, ts.runner.Envelope(), c.Envelope())
	start := c.Latest()

	require.NoError(t, c.SendKey(control.KeyArrowUp, true))
	assert.Eventually(t, func() bool {
		ts.fire()
		return ts.runner.Latest().Latitude > start.Latitude
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case sample := <-c.Samples():
		assert.Greater(t, sample.Tick, uint64(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no sample received")
	}
	assert.Eventually(t, func() bool { return c.Latest().Latitude > start.Latitude },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.ToggleMode())
	ts.fire()
	deadline := time.After(2 * time.Second)
	for found := false; !found; {
		select {
		case entry := <-c.Events():
			found = entry.Type == event.ModeChanged
		case <-deadline:
			t.Fatal("mode change was not forwarded")
		case <-time.After(10 * time.Millisecond):
			ts.fire()
		}
	}
	assert.Equal(t, physics.ModeAuto, ts.runner.Latest().Mode)

	assert.Eventually(t, func() bool { return c.Latency() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
	assert.Eventually(t, func() bool { return ts.server.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetryClient_ReconnectGivesUp(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	bus := event.NewEventBus()
	events := make(chan event.Type, 8)
	bus.SubscribeAll([]event.Type{event.ClientDisconnected, event.ClientReconnected, event.ClientReconnectFailed},
		func(e event.Event) { events <- e.GetType() })

	c := newTestClient(t, bus)
	c.maxReconnectAttempts = 2
	require.NoError(t, c.Connect(context.Background(), ts.addr, "pilot"))

	ts.server.Stop()

	want := []event.Type{event.ClientDisconnected, event.ClientReconnectFailed}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
	assert.False(t, c.Connected())
}

func TestTelemetryClient_ReconnectsAfterServerRestart(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	bus := event.NewEventBus()
	reconnected := make(chan struct{}, 1)
	bus.Subscribe(event.ClientReconnected, func(event.Event) { reconnected <- struct{}{} })

	c := newTestClient(t, bus)
	c.reconnectDelay = 50 * time.Millisecond
	require.NoError(t, c.Connect(context.Background(), ts.addr, "pilot"))
	firstID := c.ClientID()

	ts.server.Stop()
	require.NoError(t, ts.server.Start(ts.addr))

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.True(t, c.Connected())
	assert.NotEqual(t, firstID, c.ClientID())
}
