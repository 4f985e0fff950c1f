// Package fakebackend is an in-process stand-in for the hosted sync backend.
//
// It speaks the same wire protocol (api/query, api/mutation, api/action and
// the /api/{version}/sync websocket) and records everything it receives so
// tests can assert on traffic. It is also served by `propsync dev-server` for
// local web-client development.
package fakebackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Call is one HTTP call received by the backend.
type Call struct {
	Kind          string
	Path          string
	Args          map[string]any
	Authorization string
}

// Token returns the bearer token of the call, if any.
func (c *Call) Token() string {
	return strings.TrimPrefix(c.Authorization, "Bearer ")
}

// StringArg returns a string argument or "".
func (c *Call) StringArg(name string) string {
	s, _ := c.Args[name].(string)
	return s
}

// HandlerFunc answers a call with a value or an error.
type HandlerFunc func(call *Call) (any, error)

// StatusError makes the backend answer with a raw HTTP status and body
// instead of an envelope. A nil Body sends an empty response.
type StatusError struct {
	Status int
	Body   any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.Status)
}

// ControlFrame is a subscribe/unsubscribe frame received on a socket.
type ControlFrame struct {
	ConnID    int
	Type      wire.FrameType
	QueryPath string
	Args      map[string]any
}

type socketConn struct {
	id      int
	auth    string
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]map[string]any
}

func (sc *socketConn) push(queryPath string, value any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return sc.ws.WriteJSON(map[string]any{"queryPath": queryPath, "value": value})
}

// Backend is the fake deployment.
type Backend struct {
	engine *gin.Engine

	mu          sync.Mutex
	handlers    map[string]HandlerFunc
	calls       []Call
	frames      []ControlFrame
	socketAuth  []string
	conns       map[int]*socketConn
	nextConnID  int
	autoRefresh bool
}

// New creates a Backend with no handlers.
func New() *Backend {
	gin.SetMode(gin.ReleaseMode)

	b := &Backend{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[int]*socketConn),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	api := engine.Group("/api")
	api.POST("/query", b.handleCall("query"))
	api.POST("/mutation", b.handleCall("mutation"))
	api.POST("/action", b.handleCall("action"))
	api.GET("/:version/sync", b.handleSync)

	b.engine = engine
	return b
}

// requestLogger logs HTTP requests at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("fakebackend: [%s] %s - %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the HTTP handler serving the deployment.
func (b *Backend) Handler() http.Handler {
	return b.engine
}

// Handle registers fn for a function path (e.g. "properties:list").
func (b *Backend) Handle(path string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[path] = fn
}

// SetAutoRefresh makes every successful mutation or action re-run all live
// subscriptions and push their results, approximating backend reactivity.
func (b *Backend) SetAutoRefresh(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.autoRefresh = enabled
}

// Calls returns every HTTP call received so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsTo returns the calls made to path.
func (b *Backend) CallsTo(path string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Frames returns every control frame received so far.
func (b *Backend) Frames() []ControlFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ControlFrame(nil), b.frames...)
}

// FramesOn returns the control frames received on connection connID.
func (b *Backend) FramesOn(connID int) []ControlFrame {
	var out []ControlFrame
	for _, f := range b.Frames() {
		if f.ConnID == connID {
			out = append(out, f)
		}
	}
	return out
}

// ConnectionCount returns how many sockets have ever been accepted.
func (b *Backend) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextConnID
}

// LatestConnID returns the id of the most recently accepted socket (ids
// start at 1; 0 means none).
func (b *Backend) LatestConnID() int {
	return b.ConnectionCount()
}

// OpenConnections returns how many sockets are currently open.
func (b *Backend) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// SocketAuthorizations returns the Authorization header of every accepted
// socket handshake, in order.
func (b *Backend) SocketAuthorizations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.socketAuth...)
}

// Push sends value to every open socket subscribed to queryPath and returns
// how many sockets received it.
func (b *Backend) Push(queryPath string, value any) int {
	b.mu.Lock()
	var targets []*socketConn
	for _, sc := range b.conns {
		if _, ok := sc.subs[queryPath]; ok {
			targets = append(targets, sc)
		}
	}
	b.mu.Unlock()

	sent := 0
	for _, sc := range targets {
		if err := sc.push(queryPath, value); err != nil {
			logger.Debugf("fakebackend: push %s to conn %d: %v", queryPath, sc.id, err)
			continue
		}
		sent++
	}
	return sent
}

// PushRaw writes an arbitrary text frame to every open socket.
func (b *Backend) PushRaw(frame string) {
	b.mu.Lock()
	var targets []*socketConn
	for _, sc := range b.conns {
		targets = append(targets, sc)
	}
	b.mu.Unlock()

	for _, sc := range targets {
		sc.writeMu.Lock()
		_ = sc.ws.WriteMessage(websocket.TextMessage, []byte(frame))
		sc.writeMu.Unlock()
	}
}

// DropConnections closes every open socket abruptly, simulating a network
// failure.
func (b *Backend) DropConnections() {
	b.mu.Lock()
	var targets []*socketConn
	for _, sc := range b.conns {
		targets = append(targets, sc)
	}
	b.mu.Unlock()

	for _, sc := range targets {
		_ = sc.ws.Close()
	}
}

func (b *Backend) handleCall(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Path   string         `json:"path"`
			Args   map[string]any `json:"args"`
			Format string         `json:"format"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
			return
		}
		if req.Args == nil {
			req.Args = map[string]any{}
		}

		call := Call{
			Kind:          kind,
			Path:          req.Path,
			Args:          req.Args,
			Authorization: c.GetHeader("Authorization"),
		}

		b.mu.Lock()
		b.calls = append(b.calls, call)
		handler, ok := b.handlers[req.Path]
		autoRefresh := b.autoRefresh
		b.mu.Unlock()

		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("Could not find public function for '%s'", req.Path)})
			return
		}

		value, err := handler(&call)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				if statusErr.Body == nil {
					c.Status(statusErr.Status)
					return
				}
				c.JSON(statusErr.Status, statusErr.Body)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"status": "error",
				"error":  gin.H{"message": err.Error()},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "value": value})

		if autoRefresh && kind != "query" {
			go b.refreshSubscriptions()
		}
	}
}

func (b *Backend) handleSync(c *gin.Context) {
	auth := c.GetHeader("Authorization")

	// Registered before the handshake completes so the client never observes
	// an open socket the backend has not counted.
	b.mu.Lock()
	b.nextConnID++
	sc := &socketConn{id: b.nextConnID, auth: auth, subs: make(map[string]map[string]any)}
	b.socketAuth = append(b.socketAuth, auth)
	b.mu.Unlock()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("fakebackend: websocket upgrade: %v", err)
		return
	}

	b.mu.Lock()
	sc.ws = ws
	b.conns[sc.id] = sc
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, sc.id)
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("fakebackend: conn %d: %v", sc.id, err)
			}
			return
		}

		var frame struct {
			Type      wire.FrameType `json:"type"`
			QueryPath string         `json:"queryPath"`
			Args      map[string]any `json:"args"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debugf("fakebackend: conn %d: bad frame: %v", sc.id, err)
			continue
		}

		b.mu.Lock()
		b.frames = append(b.frames, ControlFrame{
			ConnID:    sc.id,
			Type:      frame.Type,
			QueryPath: frame.QueryPath,
			Args:      frame.Args,
		})
		switch frame.Type {
		case wire.FrameSubscribe:
			args := frame.Args
			if args == nil {
				args = map[string]any{}
			}
			sc.subs[frame.QueryPath] = args
		case wire.FrameUnsubscribe:
			delete(sc.subs, frame.QueryPath)
		}
		handler := b.handlers[frame.QueryPath]
		b.mu.Unlock()

		if frame.Type == wire.FrameSubscribe && handler != nil {
			b.pushResult(sc, handler, frame.QueryPath, frame.Args, sc.auth)
		}
	}
}

// pushResult runs handler for a subscription and pushes its value.
func (b *Backend) pushResult(sc *socketConn, handler HandlerFunc, queryPath string, args map[string]any, auth string) {
	if args == nil {
		args = map[string]any{}
	}
	value, err := handler(&Call{Kind: "query", Path: queryPath, Args: args, Authorization: auth})
	if err != nil {
		logger.Debugf("fakebackend: subscription %s: %v", queryPath, err)
		return
	}
	if err := sc.push(queryPath, value); err != nil {
		logger.Debugf("fakebackend: push %s: %v", queryPath, err)
	}
}

func (b *Backend) refreshSubscriptions() {
	type target struct {
		sc      *socketConn
		path    string
		args    map[string]any
		handler HandlerFunc
	}

	b.mu.Lock()
	var targets []target
	for _, sc := range b.conns {
		for path, args := range sc.subs {
			if h, ok := b.handlers[path]; ok {
				targets = append(targets, target{sc: sc, path: path, args: args, handler: h})
			}
		}
	}
	b.mu.Unlock()

	for _, t := range targets {
		b.pushResult(t.sc, t.handler, t.path, t.args, t.sc.auth)
	}
}
