// Package sdk wires the sync client together: transport, session, realtime
// subscriptions, typed calls and the offline mirror.
//
// Each Client is independent; tests and tools can run several side by side.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/api"
	"github.com/pkuntong/highlanderhomes-sub002/internal/config"
	"github.com/pkuntong/highlanderhomes-sub002/internal/mirror"
	"github.com/pkuntong/highlanderhomes-sub002/internal/realtime"
	"github.com/pkuntong/highlanderhomes-sub002/internal/session"
	"github.com/pkuntong/highlanderhomes-sub002/internal/storage"
	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/internal/version"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

const defaultReconnectTimeout = 20 * time.Second

// SessionState is a snapshot of the session.
type SessionState = session.State

// Listener receives client notifications. Calls may arrive on any
// goroutine.
//
// OnConnected, OnDisconnected and OnError can run on the goroutine that
// applies credential changes, while the realtime connection lock is held.
// They must return promptly and must not call Flush, Close or the realtime
// lifecycle methods (Reconnect, Reset, Disconnect); hand such work to
// another goroutine instead.
type Listener interface {
	// OnConnected is called after the realtime connection opens.
	OnConnected()
	// OnDisconnected is called after the realtime connection closes; reason
	// is empty for a requested close.
	OnDisconnected(reason string)
	// OnSessionChanged delivers the session after every change.
	OnSessionChanged(state SessionState)
	// OnError delivers non-fatal errors for display.
	OnError(message string)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIVersion string
	// Store persists the session; nil keeps it in memory.
	Store storage.Store
	// Mirror receives reloaded collections; nil disables mirroring.
	Mirror mirror.Hook
	// HTTPTimeout bounds each call; zero keeps the transport default.
	HTTPTimeout time.Duration
	Listener    Listener
	// SessionOptions are passed to the session controller.
	SessionOptions []session.Option
}

// Client is the sync client.
type Client struct {
	transport *transport.Client
	session   *session.Controller
	realtime  *realtime.Manager
	api       *api.Client
	hook      mirror.Hook
	db        *mirror.SQLiteMirror
	store     storage.Store
	listener  Listener

	dispatch *dispatcher
	cancels  []func()
	closers  []func() error

	closeOnce sync.Once
}

// New creates a Client. The session starts in the loading state; call
// Restore or Start to resume a persisted session.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("sdk: missing base url")
	}
	if _, err := realtime.SyncURL(opts.BaseURL, opts.APIVersion); err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	hook := opts.Mirror
	if hook == nil {
		hook = mirror.NopHook{}
	}

	tcOpts := []transport.Option{transport.WithUserAgent(version.UserAgent())}
	if opts.HTTPTimeout > 0 {
		tcOpts = append(tcOpts, transport.WithTimeout(opts.HTTPTimeout))
	}
	tc := transport.New(opts.BaseURL, tcOpts...)

	c := &Client{
		transport: tc,
		hook:      hook,
		store:     store,
		listener:  opts.Listener,
		dispatch:  newDispatcher(0),
	}
	c.session = session.NewController(tc, store, opts.SessionOptions...)
	c.realtime = realtime.NewManager(opts.BaseURL, tc.BearerToken,
		realtime.WithAPIVersion(opts.APIVersion),
		realtime.WithStateListener(c.onConnectionState),
	)
	c.api = api.NewClient(tc, c.session, hook)

	c.cancels = append(c.cancels,
		c.session.OnCredentialChange(c.onCredentialChange),
		c.session.Watch(c.onSessionChange),
	)
	return c, nil
}

// NewFromConfig creates a Client from resolved configuration, opening the
// persisted session store and the mirror database.
func NewFromConfig(cfg *config.Config, listener Listener) (*Client, error) {
	if err := cfg.EnsureHome(); err != nil {
		return nil, err
	}

	var store storage.Store = storage.NewFileStore(cfg.StatePath)
	if cfg.EncryptState {
		sealed, err := storage.OpenSealedFileStore(cfg.StatePath, cfg.SecretKeyPath)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		store = sealed
	}

	db, err := mirror.OpenSQLite(cfg.MirrorPath)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	c, err := New(Options{
		BaseURL:     cfg.BaseURL,
		APIVersion:  cfg.APIVersion,
		Store:       store,
		Mirror:      db,
		HTTPTimeout: cfg.HTTPTimeout,
		Listener:    listener,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.db = db
	c.closers = append(c.closers, db.Close)
	return c, nil
}

// Transport returns the HTTP call client.
func (c *Client) Transport() *transport.Client { return c.transport }

// Session returns the session controller.
func (c *Client) Session() *session.Controller { return c.session }

// Realtime returns the subscription manager.
func (c *Client) Realtime() *realtime.Manager { return c.realtime }

// API returns the typed call client.
func (c *Client) API() *api.Client { return c.api }

// MirrorDB returns the mirror database opened by NewFromConfig, or nil.
func (c *Client) MirrorDB() *mirror.SQLiteMirror { return c.db }

// Restore resumes the persisted session and waits for verification.
func (c *Client) Restore(ctx context.Context) {
	c.session.Restore(ctx)
}

// Start resumes the persisted session in the background. Watch the session
// (or the Listener) for Loading to turn false.
func (c *Client) Start(ctx context.Context) {
	go c.session.Restore(ctx)
}

// ResyncSession brings the in-memory session in line with the store after
// another process changed it: a removed credential signs out, a different
// one is restored.
func (c *Client) ResyncSession(ctx context.Context) error {
	token, ok, err := c.store.Get(storage.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("read stored session: %w", err)
	}
	current := c.session.State()
	switch {
	case !ok || token == "":
		if current.Authenticated {
			logger.Infof("sdk: stored session removed, signing out")
			return c.session.SignOut()
		}
	case token != current.Token:
		logger.Infof("sdk: stored session changed, restoring")
		c.session.Restore(ctx)
	}
	return nil
}

// Flush waits until every queued connection change has been applied.
func (c *Client) Flush() error {
	return c.dispatch.call(func() error { return nil })
}

// Subscribe registers a live query. See realtime.Manager.Subscribe.
func (c *Client) Subscribe(ctx context.Context, name string, args any, cb realtime.Callback) error {
	return c.realtime.Subscribe(ctx, name, args, cb)
}

// Unsubscribe removes a live query.
func (c *Client) Unsubscribe(name string) {
	c.realtime.Unsubscribe(name)
}

// WatchCollection subscribes to the list query of a mirrored collection for
// the current data owner. Every push is mirrored and then handed to fn.
func (c *Client) WatchCollection(ctx context.Context, collection string, fn func(json.RawMessage)) error {
	path := ""
	for _, col := range api.ReloadCollections {
		if col.Name == collection {
			path = col.Path
		}
	}
	if path == "" {
		return fmt.Errorf("sdk: unknown collection %q", collection)
	}
	owner, err := c.session.RequireDataOwnerID()
	if err != nil {
		return err
	}

	return c.realtime.Subscribe(ctx, path, map[string]string{"userId": owner}, func(value json.RawMessage) {
		docs, err := mirror.DocumentsFromJSON(value)
		if err != nil {
			logger.Warnf("sdk: push for %s: %v", collection, err)
		} else if err := c.hook.Replace(context.Background(), collection, docs); err != nil {
			logger.Warnf("sdk: mirror %s: %v", collection, err)
			c.reportError(err)
		}
		if fn != nil {
			fn(value)
		}
	})
}

// Reload fetches every collection into the mirror.
func (c *Client) Reload(ctx context.Context) (map[string]int, error) {
	return c.api.Reload(ctx)
}

// Close disconnects and releases resources. The Client cannot be reused.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		for _, cancel := range c.cancels {
			cancel()
		}
		c.dispatch.close()
		c.realtime.Disconnect()
		for _, closer := range c.closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// onCredentialChange reconnects the realtime layer for a new credential and
// drops every subscription when the credential is cleared.
func (c *Client) onCredentialChange(ev session.CredentialEvent) {
	err := c.dispatch.do(func() {
		if ev.Cleared() {
			logger.Debugf("sdk: credential cleared, resetting realtime")
			c.realtime.Reset()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultReconnectTimeout)
		defer cancel()
		if err := c.realtime.Reconnect(ctx); err != nil {
			logger.Warnf("sdk: reconnect after credential change: %v", err)
			c.reportError(err)
		}
	})
	if err != nil {
		logger.Debugf("sdk: credential change ignored: %v", err)
	}
}

func (c *Client) onSessionChange(state session.State) {
	if c.listener != nil {
		c.listener.OnSessionChanged(state)
	}
}

func (c *Client) onConnectionState(state realtime.State, errMsg string) {
	if c.listener == nil {
		return
	}
	switch state {
	case realtime.Connected:
		c.listener.OnConnected()
	case realtime.Disconnected:
		c.listener.OnDisconnected(errMsg)
	case realtime.Erroring:
		c.listener.OnError(errMsg)
	}
}

func (c *Client) reportError(err error) {
	if c.listener != nil {
		c.listener.OnError(wire.UserMessage(err))
	}
}
