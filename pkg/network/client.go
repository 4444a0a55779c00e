// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// ErrNotConnected is returned when sending without a live session.
var ErrNotConnected = errors.New("not connected")

// session is one TCP connection. Its loops exit when done is closed, so a
// reconnect never races with the loops of the previous connection.
type session struct {
	conn      net.Conn
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// TelemetryClient is the operator side of the telemetry protocol.
type TelemetryClient struct {
	eventBus *event.Bus
	network  *NetworkService
	logger   *logging.Logger

	samples chan engine.Sample
	entries chan event.Entry

	mu           sync.Mutex
	sess         *session
	serverAddr   string
	operatorName string
	clientID     string
	envelope     physics.Envelope
	latest       engine.Sample
	latency      time.Duration
	closed       bool

	connectionTimeout    time.Duration
	readTimeout          time.Duration
	writeTimeout         time.Duration
	pingInterval         time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// NewTelemetryClient creates a client. Connection failures go through a
// circuit breaker configured from env; connection events are published
// on eventBus.
func NewTelemetryClient(eventBus *event.Bus, env *config.EnvironmentConfig, logger *logging.Logger) *TelemetryClient {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if eventBus == nil {
		eventBus = event.NewEventBus()
	}

	readTimeout := env.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := env.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &TelemetryClient{
		eventBus:             eventBus,
		network:              NewNetworkService(env, logger),
		logger:               logger.With("telemetry_client"),
		samples:              make(chan engine.Sample, 16),
		entries:              make(chan event.Entry, 64),
		connectionTimeout:    10 * time.Second,
		readTimeout:          readTimeout,
		writeTimeout:         writeTimeout,
		pingInterval:         5 * time.Second,
		reconnectDelay:       3 * time.Second,
		maxReconnectAttempts: 5,
	}
}

// Connect dials address and performs the operator handshake, retrying
// through the circuit breaker.
func (c *TelemetryClient) Connect(ctx context.Context, address, operatorName string) error {
	c.mu.Lock()
	c.serverAddr = address
	c.operatorName = operatorName
	c.closed = false
	c.mu.Unlock()

	err := c.network.ExecuteWithRetry(ctx, func() error {
		return c.dial(ctx, address, operatorName)
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", address, err)
	}
	return nil
}

func (c *TelemetryClient) dial(ctx context.Context, address, operatorName string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectionTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	resp, err := c.handshake(dialCtx, conn, operatorName)
	if err != nil {
		conn.Close()
		return err
	}

	sess := &session{conn: conn, done: make(chan struct{})}

	c.mu.Lock()
	if c.sess != nil {
		c.sess.close()
	}
	c.sess = sess
	c.clientID = resp.ClientID
	c.envelope = resp.Envelope
	c.latest = resp.Sample
	c.mu.Unlock()

	go c.messageLoop(sess)
	go c.pingLoop(sess)

	c.logger.Info(ctx, "Connected to telemetry server",
		"address", address,
		"client_id", resp.ClientID,
	)
	return nil
}

func (c *TelemetryClient) handshake(ctx context.Context, conn net.Conn, operatorName string) (*ConnectResponseData, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.connectionTimeout)
	}
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if err := WriteMessage(conn, ConnectRequest, ConnectRequestData{OperatorName: operatorName}); err != nil {
		return nil, fmt.Errorf("failed to send connect request: %w", err)
	}

	msgType, data, err := ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read connect response: %w", err)
	}
	if msgType != ConnectResponse {
		return nil, fmt.Errorf("unexpected response type: %s", msgType)
	}

	var resp ConnectResponseData
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse connect response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("server rejected connection: %s", resp.Error)
	}
	return &resp, nil
}

// Disconnect notifies the server and closes the connection. It disables
// automatic reconnects until the next Connect.
func (c *TelemetryClient) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	err := c.write(sess, DisconnectNotification, DisconnectData{Reason: "operator quit"})
	sess.close()
	return err
}

// Connected reports whether a session is live.
func (c *TelemetryClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// SendKey forwards a key press or release.
func (c *TelemetryClient) SendKey(code string, pressed bool) error {
	return c.send(KeyInput, KeyInputData{Code: code, Pressed: pressed})
}

// RequestMode asks the server to switch to mode.
func (c *TelemetryClient) RequestMode(mode physics.Mode) error {
	return c.send(ModeRequest, ModeRequestData{Mode: mode.String()})
}

// ToggleMode asks the server to toggle Manual/Auto.
func (c *TelemetryClient) ToggleMode() error {
	return c.send(ModeRequest, ModeRequestData{Toggle: true})
}

// Samples delivers telemetry samples. A slow reader misses samples.
func (c *TelemetryClient) Samples() <-chan engine.Sample {
	return c.samples
}

// Events delivers event log entries from the server.
func (c *TelemetryClient) Events() <-chan event.Entry {
	return c.entries
}

// Latest returns the newest sample received.
func (c *TelemetryClient) Latest() engine.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Envelope returns the envelope announced by the server.
func (c *TelemetryClient) Envelope() physics.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envelope
}

// ClientID returns the ID assigned by the server.
func (c *TelemetryClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Latency returns the last measured round trip time.
func (c *TelemetryClient) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// BreakerState reports the dial circuit breaker state.
func (c *TelemetryClient) BreakerState() string {
	return c.network.GetState().String()
}

func (c *TelemetryClient) send(msgType MessageType, msg interface{}) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return c.write(sess, msgType, msg)
}

func (c *TelemetryClient) write(sess *session, msgType MessageType, msg interface{}) error {
	frame, err := encodeFrame(msgType, msg)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if _, err := sess.conn.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

func (c *TelemetryClient) messageLoop(sess *session) {
	for {
		sess.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		msgType, data, err := ReadMessage(sess.conn)
		if err != nil {
			select {
			case <-sess.done:
				return
			default:
			}
			c.handleDisconnect(sess, err)
			return
		}

		switch msgType {
		case SampleUpdate:
			c.handleSample(data)
		case EventNotice:
			c.handleEntry(data)
		case PingResponse:
			c.handlePingResponse(data)
		default:
			c.logger.Debug(context.Background(), "Ignoring message", "type", msgType.String())
		}
	}
}

func (c *TelemetryClient) handleSample(data []byte) {
	var sample engine.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		return
	}

	c.mu.Lock()
	c.latest = sample
	c.mu.Unlock()

	select {
	case c.samples <- sample:
	default:
	}
}

func (c *TelemetryClient) handleEntry(data []byte) {
	var entry event.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return
	}
	select {
	case c.entries <- entry:
	default:
	}
}

func (c *TelemetryClient) handlePingResponse(data []byte) {
	var ping PingData
	if err := json.Unmarshal(data, &ping); err != nil {
		return
	}
	c.mu.Lock()
	c.latency = time.Since(time.Unix(0, ping.SentUnixNano))
	c.mu.Unlock()
}

func (c *TelemetryClient) pingLoop(sess *session) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := c.write(sess, PingRequest, PingData{SentUnixNano: time.Now().UnixNano()}); err != nil {
				c.logger.Debug(context.Background(), "Ping failed", "error", err.Error())
			}
		}
	}
}

// handleDisconnect reacts to a read failure on the current session.
func (c *TelemetryClient) handleDisconnect(sess *session, cause error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	closed := c.closed
	id, name := c.clientID, c.operatorName
	c.mu.Unlock()

	sess.close()

	c.logger.Warn(context.Background(), "Lost connection to telemetry server", "error", cause.Error())
	c.eventBus.Publish(event.NewConnectionEvent(event.ClientDisconnected, c, id, name, cause.Error()))

	if !closed {
		go c.attemptReconnect()
	}
}

func (c *TelemetryClient) attemptReconnect() {
	c.mu.Lock()
	address, name := c.serverAddr, c.operatorName
	c.mu.Unlock()

	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		time.Sleep(c.reconnectDelay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		err := c.network.Execute(context.Background(), func() error {
			return c.dial(context.Background(), address, name)
		})
		if err == nil {
			c.eventBus.Publish(event.NewConnectionEvent(event.ClientReconnected, c, c.ClientID(), name, ""))
			return
		}
		c.logger.Debug(context.Background(), "Reconnect attempt failed",
			"attempt", attempt,
			"error", err.Error(),
		)
	}

	c.logger.Warn(context.Background(), "Giving up reconnecting", "attempts", c.maxReconnectAttempts)
	c.eventBus.Publish(event.NewConnectionEvent(event.ClientReconnectFailed, c, "", name,
		fmt.Sprintf("%d attempts failed", c.maxReconnectAttempts)))
}
