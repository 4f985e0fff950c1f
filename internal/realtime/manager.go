// Package realtime maintains the single push connection to the sync backend
// and the registry of named query subscriptions multiplexed over it.
//
// The backend's push channel is connection-scoped: a fresh socket knows
// nothing about earlier subscriptions. The Manager's registry is therefore the
// source of truth, and every reconnect replays it.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

const (
	// writeTimeout bounds a single control-frame write.
	writeTimeout = 10 * time.Second
	// closeGracePeriod bounds the close handshake write on Disconnect.
	closeGracePeriod = time.Second
	// defaultHandshakeTimeout bounds the websocket opening handshake.
	defaultHandshakeTimeout = 15 * time.Second
)

// ErrNotConnected is returned when a frame is sent without a connection.
var ErrNotConnected = errors.New("realtime: not connected")

// State is the connection state.
type State int

// Erroring is a transition, not a resting state: it is delivered to state
// listeners with the failure message right before the Disconnected that
// follows, and State never returns it.
const (
	Disconnected State = iota
	Connecting
	Connected
	Erroring
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Erroring:
		return "erroring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callback receives the raw value of each push frame for a subscription.
type Callback func(value json.RawMessage)

// TokenFunc returns the current bearer token (possibly empty or malformed;
// only well-formed tokens are sent).
type TokenFunc func() string

// StateListener observes connection state transitions. errMsg is non-empty
// when the transition was caused by a failure.
type StateListener func(state State, errMsg string)

type subscription struct {
	name     string
	args     json.RawMessage
	callback Callback
}

// Manager owns the connection and the subscription registry.
//
// Lock order: lifecycleMu before mu. writeMu is only held around a single
// socket write.
type Manager struct {
	baseURL    string
	apiVersion string
	tokens     TokenFunc
	dialer     *websocket.Dialer
	onState    StateListener

	// lifecycleMu serializes connect, disconnect and reconnect so that at
	// most one physical connection exists.
	lifecycleMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	lastErr string
	order   []string
	subs    map[string]*subscription

	writeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithAPIVersion sets the version segment of the sync path.
func WithAPIVersion(version string) Option {
	return func(m *Manager) {
		if version != "" {
			m.apiVersion = version
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithStateListener registers a connection state observer.
func WithStateListener(fn StateListener) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// NewManager creates a disconnected Manager for the deployment at baseURL.
func NewManager(baseURL string, tokens TokenFunc, opts ...Option) *Manager {
	if tokens == nil {
		tokens = func() string { return "" }
	}
	m := &Manager{
		baseURL:    baseURL,
		apiVersion: DefaultAPIVersion,
		tokens:     tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		subs: make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a connection is open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// LastError returns the message of the most recent connection failure.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscriptions returns the registered subscription names in registry order.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Connect opens the connection if none exists and starts the receive loop.
// It returns once the socket is open.
func (m *Manager) Connect(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.mu.Unlock()
	m.notify(Connecting, "")

	syncURL, err := SyncURL(m.baseURL, m.apiVersion)
	if err != nil {
		m.fail(err)
		return err
	}

	header := http.Header{}
	if auth := transport.BearerHeader(m.tokens()); auth != "" {
		header.Set("Authorization", auth)
	}

	logger.Debugf("realtime: connecting to %s", syncURL)
	conn, resp, err := m.dialer.DialContext(ctx, syncURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = fmt.Errorf("connect realtime: %w", err)
		m.fail(err)
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = Connected
	m.lastErr = ""
	m.mu.Unlock()
	m.notify(Connected, "")

	go m.receiveLoop(conn)
	return nil
}

// Disconnect closes the connection gracefully. The registry is kept so a
// later Connect/Reconnect can restore the subscriptions.
func (m *Manager) Disconnect() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	if conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		logger.Debugf("realtime: close handshake: %v", err)
	}
	_ = conn.Close()
	m.notify(Disconnected, "")
}

// Reconnect tears the connection down, opens a new one and replays every
// registered subscription in registry order.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.disconnectLocked()
	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	return m.replayLocked()
}

// Reset disconnects and forgets every subscription. It is used when the
// credential becomes invalid.
func (m *Manager) Reset() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.disconnectLocked()

	m.mu.Lock()
	m.order = nil
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
}

// Subscribe registers callback for the query name with args and asks the
// backend to start pushing results. Subscribing an already-registered name
// replaces its args and callback.
//
// When no connection exists, Subscribe connects and replays the whole
// registry, which includes the new entry.
func (m *Manager) Subscribe(ctx context.Context, name string, args any, callback Callback) error {
	if name == "" {
		return fmt.Errorf("realtime: missing query name")
	}
	if callback == nil {
		return fmt.Errorf("realtime: missing callback for %s", name)
	}
	frame, err := wire.NewSubscribeFrame(name, args)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.subs[name]; ok {
		existing.args = frame.Args
		existing.callback = callback
	} else {
		m.subs[name] = &subscription{name: name, args: frame.Args, callback: callback}
		m.order = append(m.order, name)
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		return m.sendSubscribe(conn, frame)
	}

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	conn = m.conn
	m.mu.Unlock()
	if conn != nil {
		return m.sendSubscribe(conn, frame)
	}

	if err := m.connectLocked(ctx); err != nil {
		return err
	}
	return m.replayLocked()
}

// sendSubscribe sends frame on conn. A connection that was replaced or closed
// while the frame was in flight is not an error: the entry is registered and
// the next connection replays it.
func (m *Manager) sendSubscribe(conn *websocket.Conn, frame wire.SubscribeFrame) error {
	err := m.send(conn, frame)
	if err == nil {
		return nil
	}
	m.mu.Lock()
	stale := m.conn != conn
	m.mu.Unlock()
	if stale {
		logger.Debugf("realtime: subscribe %s raced a reconnect: %v", frame.QueryPath, err)
		return nil
	}
	return err
}

// Unsubscribe removes name from the registry and, when connected, tells the
// backend to stop pushing it. It is safe to call at any time.
func (m *Manager) Unsubscribe(name string) {
	m.mu.Lock()
	if _, ok := m.subs[name]; ok {
		delete(m.subs, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := m.send(conn, wire.NewUnsubscribeFrame(name)); err != nil {
		logger.Debugf("realtime: unsubscribe %s: %v", name, err)
	}
}

// replayLocked sends a subscribe frame for a snapshot of the registry.
// Callers hold lifecycleMu.
func (m *Manager) replayLocked() error {
	m.mu.Lock()
	conn := m.conn
	snapshot := make([]wire.SubscribeFrame, 0, len(m.order))
	for _, name := range m.order {
		sub := m.subs[name]
		snapshot = append(snapshot, wire.SubscribeFrame{
			Type:      wire.FrameSubscribe,
			QueryPath: sub.name,
			Args:      sub.args,
		})
	}
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	logger.Debugf("realtime: replaying %d subscriptions", len(snapshot))
	for _, frame := range snapshot {
		if err := m.send(conn, frame); err != nil {
			return fmt.Errorf("replay %s: %w", frame.QueryPath, err)
		}
	}
	return nil
}

func (m *Manager) send(conn *websocket.Conn, frame any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("realtime: send: %w", err)
	}
	return nil
}

// receiveLoop reads frames until the socket fails or is closed. It never
// reconnects on its own.
func (m *Manager) receiveLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReceiveFailure(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		m.dispatch(data)
	}
}

func (m *Manager) handleReceiveFailure(conn *websocket.Conn, err error) {
	m.mu.Lock()
	current := m.conn == conn
	if current {
		m.conn = nil
		m.state = Disconnected
		m.lastErr = err.Error()
	}
	m.mu.Unlock()

	// A connection replaced or closed by Disconnect is not a failure.
	if !current {
		return
	}

	_ = conn.Close()
	logger.Warnf("realtime: receive failed: %v", err)
	m.notify(Erroring, err.Error())
	m.notify(Disconnected, err.Error())
}

func (m *Manager) dispatch(data []byte) {
	frame, err := wire.ParsePushFrame(data)
	if err != nil {
		logger.Tracef("realtime: ignoring frame: %v", err)
		return
	}

	m.mu.Lock()
	sub, ok := m.subs[frame.QueryPath]
	var callback Callback
	if ok {
		callback = sub.callback
	}
	m.mu.Unlock()

	if callback == nil {
		logger.Tracef("realtime: no subscription for %s", frame.QueryPath)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("realtime: callback for %s panicked: %v", frame.QueryPath, r)
		}
	}()
	callback(frame.Value)
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = Disconnected
	m.lastErr = err.Error()
	m.mu.Unlock()

	logger.Warnf("realtime: %v", err)
	m.notify(Erroring, err.Error())
	m.notify(Disconnected, err.Error())
}

func (m *Manager) notify(state State, errMsg string) {
	if m.onState == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("realtime: state listener panicked: %v", r)
		}
	}()
	m.onState(state, errMsg)
}

// SubscribeTyped subscribes and decodes each pushed value into T using the
// wire date convention. Frames that fail to decode are logged and skipped.
func SubscribeTyped[T any](ctx context.Context, m *Manager, name string, args any, fn func(T)) error {
	return m.Subscribe(ctx, name, args, func(raw json.RawMessage) {
		value, err := wire.DecodeValue[T](raw)
		if err != nil {
			logger.Warnf("realtime: decode push for %s: %v", name, err)
			return
		}
		fn(value)
	})
}
