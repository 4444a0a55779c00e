package network

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
	"github.com/opd-ai/go-dronesim/pkg/resource"
	"github.com/opd-ai/go-dronesim/pkg/validation"
)

type testServer struct {
	runner *engine.Runner
	sched  *engine.ManualScheduler
	server *TelemetryServer
	addr   string
}

func newTestServer(t *testing.T, cfg ServerConfig) *testServer {
	t.Helper()

	sim, err := engine.NewSimulation(config.DefaultConfig(), nil)
	require.NoError(t, err)
	sched := engine.NewManualScheduler()
	runner := engine.NewRunner(sim, sched, logging.NewNopLogger())
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(runner.Stop)

	if cfg.UpdateRate == 0 {
		cfg.UpdateRate = 200
	}
	server := NewTelemetryServer(runner, cfg, nil, logging.NewNopLogger())
	require.NoError(t, server.Start("127.0.0.1:0"))
	t.Cleanup(server.Close)

	return &testServer{runner: runner, sched: sched, server: server, addr: server.ListenerAddress()}
}

// fire advances the simulation by one frame.
func (ts *testServer) fire() {
	ts.sched.Fire(time.Now())
}

// dialOperator performs a raw handshake and returns the connection and
// the server's answer.
func dialOperator(t *testing.T, addr, name string) (net.Conn, ConnectResponseData) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, WriteMessage(conn, ConnectRequest, ConnectRequestData{OperatorName: name}))

	msgType, data, err := ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, ConnectResponse, msgType)

	var resp ConnectResponseData
	require.NoError(t, json.Unmarshal(data, &resp))
	conn.SetDeadline(time.Time{})
	return conn, resp
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, conn net.Conn, want MessageType) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		msgType, data, err := ReadMessage(conn)
		require.NoError(t, err, "waiting for %s", want)
		if msgType == want {
			return data
		}
	}
}

func TestServerConfig_Defaults(t *testing.T) {
	cfg := ServerConfig{}.withDefaults()
	assert.Equal(t, 16, cfg.MaxClients)
	assert.Equal(t, 20, cfg.UpdateRate)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)

	env := config.DefaultEnvironmentConfig()
	fromEnv := ServerConfigFromEnv(env)
	assert.Equal(t, env.MaxClients, fromEnv.MaxClients)
	assert.Equal(t, env.UpdateRate, fromEnv.UpdateRate)
}

func TestTelemetryServer_StartTwice(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	assert.ErrorIs(t, ts.server.Start("127.0.0.1:0"), ErrServerRunning)
	assert.NotEmpty(t, ts.addr)

	ts.server.Stop()
	ts.server.Stop()
	assert.Empty(t, ts.server.ListenerAddress())
}

func TestTelemetryServer_Handshake(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	_, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success, resp.Error)
	assert.NotEmpty(t, resp.ClientID)
	assert.Equal(t, ts.runner.Envelope(), resp.Envelope)
	assert.Equal(t, ts.runner.Latest().Tick, resp.Sample.Tick)

	assert.Eventually(t, func() bool { return ts.server.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	clients := ts.server.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "pilot", clients[0].Name)
	assert.Equal(t, resp.ClientID, clients[0].ID)
}

func TestTelemetryServer_RejectsInvalidName(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	_, resp := dialOperator(t, ts.addr, "   ")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "whitespace")
	assert.Zero(t, ts.server.ClientCount())
}

func TestTelemetryServer_RejectsWhenFull(t *testing.T) {
	ts := newTestServer(t, ServerConfig{MaxClients: 1})

	_, first := dialOperator(t, ts.addr, "first")
	require.True(t, first.Success)

	_, second := dialOperator(t, ts.addr, "second")
	assert.False(t, second.Success)
	assert.Equal(t, "server full", second.Error)
}

func TestTelemetryServer_StreamsSamples(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)

	for i := 0; i < 3; i++ {
		ts.fire()
	}

	var sample engine.Sample
	require.NoError(t, json.Unmarshal(readUntil(t, conn, SampleUpdate), &sample))
	assert.Greater(t, sample.Tick, uint64(0))
	assert.Equal(t, physics.ModeManual, sample.Mode)
}

func TestTelemetryServer_KeyInputSteersDrone(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)
	start := ts.runner.Latest()

	require.NoError(t, WriteMessage(conn, KeyInput, KeyInputData{Code: control.KeyArrowUp, Pressed: true}))

	assert.Eventually(t, func() bool {
		ts.fire()
		return ts.runner.Latest().Latitude > start.Latitude
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetryServer_ModeRequestBroadcastsEvent(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)

	require.NoError(t, WriteMessage(conn, ModeRequest, ModeRequestData{Mode: "auto"}))

	assert.Eventually(t, func() bool {
		ts.fire()
		return ts.runner.Latest().Mode == physics.ModeAuto
	}, 2*time.Second, 5*time.Millisecond)

	for {
		var entry event.Entry
		require.NoError(t, json.Unmarshal(readUntil(t, conn, EventNotice), &entry))
		if entry.Type == event.ModeChanged {
			break
		}
	}

	require.NoError(t, WriteMessage(conn, ModeRequest, ModeRequestData{Toggle: true}))
	assert.Eventually(t, func() bool {
		ts.fire()
		return ts.runner.Latest().Mode == physics.ModeManual
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTelemetryServer_PingEcho(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)

	require.NoError(t, WriteMessage(conn, PingRequest, PingData{SentUnixNano: 1234}))

	var pong PingData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, PingResponse), &pong))
	assert.Equal(t, int64(1234), pong.SentUnixNano)
}

func TestTelemetryServer_DisconnectRemovesClient(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})

	var disconnected = make(chan string, 1)
	ts.runner.Bus().Subscribe(event.OperatorDisconnected, func(e event.Event) {
		disconnected <- e.(*event.ConnectionEvent).Reason
	})

	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)
	require.NoError(t, WriteMessage(conn, DisconnectNotification, DisconnectData{Reason: "bye"}))

	select {
	case reason := <-disconnected:
		assert.Equal(t, "disconnect requested", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("operator disconnect was not published")
	}
	assert.Zero(t, ts.server.ClientCount())
}

func TestTelemetryServer_StopClosesOperators(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)

	ts.server.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ReadMessage(conn); err != nil {
			break
		}
	}
	assert.Zero(t, ts.server.ClientCount())
}

func TestTelemetryServer_ResourceLimitRejects(t *testing.T) {
	sim, err := engine.NewSimulation(config.DefaultConfig(), nil)
	require.NoError(t, err)
	runner := engine.NewRunner(sim, engine.NewManualScheduler(), logging.NewNopLogger())
	require.NoError(t, runner.Start(context.Background()))
	defer runner.Stop()

	env := config.DefaultEnvironmentConfig()
	env.MaxGoroutines = 1
	env.MaxMemoryMB = 0
	rm := resource.NewResourceManagerWithLogger(env, logging.NewNopLogger())
	defer rm.Shutdown(context.Background())

	server := NewTelemetryServer(runner, ServerConfig{}, rm, logging.NewNopLogger())
	require.NoError(t, server.Start("127.0.0.1:0"))
	defer server.Close()

	_, first := dialOperator(t, server.ListenerAddress(), "first")
	require.True(t, first.Success)

	_, second := dialOperator(t, server.ListenerAddress(), "second")
	assert.False(t, second.Success)
	assert.Equal(t, "server busy", second.Error)
}

func TestTelemetryServer_ReleaseBypassesRateLimit(t *testing.T) {
	ts := newTestServer(t, ServerConfig{})
	old := ts.server.validator
	ts.server.validator = validation.NewMessageValidatorWithLimit(3, time.Minute)
	old.Close()

	conn, resp := dialOperator(t, ts.addr, "pilot")
	require.True(t, resp.Success)
	start := ts.runner.Latest()

	for i := 0; i < 3; i++ {
		require.NoError(t, WriteMessage(conn, KeyInput, KeyInputData{Code: control.KeyArrowUp, Pressed: true}))
	}
	// Over budget: dropped.
	require.NoError(t, WriteMessage(conn, KeyInput, KeyInputData{Code: control.KeyArrowLeft, Pressed: true}))
	require.NoError(t, WriteMessage(conn, KeyInput, KeyInputData{Code: control.KeyArrowUp, Pressed: false}))

	assert.Eventually(t, func() bool {
		ts.fire()
		latest := ts.runner.Latest()
		return latest.Tick > 10 && latest.SpeedMetersPerSecond < 0.5
	}, 3*time.Second, 5*time.Millisecond, "released drone should coast to a stop")
	assert.InDelta(t, start.HeadingDegrees, ts.runner.Latest().HeadingDegrees, 1e-9)
}
