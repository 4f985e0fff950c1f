// Package session owns the credential lifecycle: restoring a persisted
// session at launch, the sign-up/sign-in/verification flows, account
// management and sign-out.
//
// The Controller is the only writer of the credential. Every change is pushed
// into the transport client and announced as a CredentialEvent; consumers
// such as the realtime manager react to the event rather than being called
// directly.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/storage"
	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

// Controller manages the session.
//
// Listeners registered with Watch and OnCredentialChange are called
// synchronously, in change order, and must not call back into the
// Controller's credential-changing methods.
type Controller struct {
	tc    *transport.Client
	store storage.Store
	now   func() time.Time

	// writeMu serializes credential changes together with their
	// notifications so listeners observe changes in order.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	dataOwner string

	listenersMu sync.Mutex
	nextID      int
	watchers    map[int]func(State)
	credentials map[int]func(CredentialEvent)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates a Controller in the loading state. Call Restore to
// resolve it.
func NewController(tc *transport.Client, store storage.Store, opts ...Option) *Controller {
	c := &Controller{
		tc:          tc,
		store:       store,
		now:         time.Now,
		state:       State{Loading: true},
		watchers:    make(map[int]func(State)),
		credentials: make(map[int]func(CredentialEvent)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if owner, ok, err := store.Get(storage.KeyDataOwnerID); err == nil && ok {
		c.dataOwner = strings.TrimSpace(owner)
	}
	return c
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Watch registers fn to receive the state after every change. The returned
// function removes it.
func (c *Controller) Watch(fn func(State)) (cancel func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.watchers, id)
	}
}

// OnCredentialChange registers fn to be called whenever the credential is set
// or cleared. The returned function removes it.
func (c *Controller) OnCredentialChange(fn func(CredentialEvent)) (cancel func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.credentials[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.credentials, id)
	}
}

func (c *Controller) publishState() {
	state := c.State()

	c.listenersMu.Lock()
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		callSafely("state watcher", func() { fn(state) })
	}
}

func (c *Controller) publishCredential(ev CredentialEvent) {
	c.listenersMu.Lock()
	fns := make([]func(CredentialEvent), 0, len(c.credentials))
	for _, fn := range c.credentials {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		callSafely("credential listener", func() { fn(ev) })
	}
}

func callSafely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("session: %s panicked: %v", what, r)
		}
	}()
	fn()
}

// Restore attempts to resume the persisted session.
//
// When a well-formed, unexpired token and a decodable cached user are
// stored, the session is marked authenticated immediately and then verified
// against the backend. A verification that fails or finds no user signs the
// session out silently. Loading is false once Restore returns.
func (c *Controller) Restore(ctx context.Context) {
	token, user, ok := c.loadPersisted()
	if !ok {
		c.mu.Lock()
		c.state.Loading = false
		c.mu.Unlock()
		c.publishState()
		return
	}

	c.writeMu.Lock()
	c.mu.Lock()
	c.state.Loading = false
	c.state.Authenticated = true
	c.state.PendingVerification = false
	c.state.PendingEmail = ""
	c.state.User = user
	c.state.Token = token
	c.mu.Unlock()
	c.tc.SetToken(token)
	c.publishCredential(CredentialEvent{Token: token, UserID: user.ID})
	c.publishState()
	c.writeMu.Unlock()

	logger.Debugf("session: restored session for %s, verifying", user.ID)

	current, err := transport.Query[*User](ctx, c.tc, pathCurrentUser, nil)
	switch {
	case err != nil:
		logger.Infof("session: stored session rejected: %v", err)
	case current == nil:
		logger.Infof("session: stored session has no user")
	default:
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Only drop the session that was verified; a sign-in that raced the
	// check stands.
	c.mu.Lock()
	stillCurrent := c.state.Token == token
	c.mu.Unlock()
	if !stillCurrent {
		return
	}
	if err := c.clearLocked(); err != nil {
		logger.Warnf("session: clear rejected session: %v", err)
	}
}

// loadPersisted returns the stored credential when it can be restored. A
// stored session that can never succeed (expired token, unreadable user) is
// removed.
func (c *Controller) loadPersisted() (string, *User, bool) {
	token, hasToken, err := c.store.Get(storage.KeyAuthToken)
	if err != nil {
		logger.Warnf("session: read stored token: %v", err)
		return "", nil, false
	}
	rawUser, hasUser, err := c.store.Get(storage.KeyCurrentUser)
	if err != nil {
		logger.Warnf("session: read cached user: %v", err)
		return "", nil, false
	}
	if !hasToken && !hasUser {
		return "", nil, false
	}

	var user *User
	if hasUser {
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			logger.Warnf("session: cached user is unreadable: %v", err)
			user = nil
		}
	}

	restorable := hasToken && transport.IsWellFormedToken(token) && user != nil && user.ID != ""
	if restorable && isTokenExpired(token, c.now()) {
		logger.Infof("session: stored token has expired")
		restorable = false
	}
	if restorable {
		return token, user, true
	}

	c.removeCredential()
	return "", nil, false
}

func (c *Controller) removeCredential() {
	for _, key := range []string{storage.KeyAuthToken, storage.KeyCurrentUser} {
		if err := c.store.Delete(key); err != nil {
			logger.Warnf("session: delete %s: %v", key, err)
		}
	}
}

// establish persists and activates a new session.
func (c *Controller) establish(res authResult) error {
	if !transport.IsWellFormedToken(res.Token) {
		return fmt.Errorf("%w: missing or malformed session token", wire.ErrInvalidResponse)
	}
	if res.User == nil || res.User.ID == "" {
		return fmt.Errorf("%w: missing user", wire.ErrInvalidResponse)
	}
	rawUser, err := json.Marshal(res.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Set(storage.KeyAuthToken, res.Token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := c.store.Set(storage.KeyCurrentUser, string(rawUser)); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}

	c.mu.Lock()
	c.state = State{
		Authenticated: true,
		User:          res.User,
		Token:         res.Token,
	}
	c.mu.Unlock()

	c.tc.SetToken(res.Token)
	logger.Debugf("session: signed in as %s", res.User.ID)
	c.publishCredential(CredentialEvent{Token: res.Token, UserID: res.User.ID})
	c.publishState()
	return nil
}

// clearLocked removes every trace of the session. Callers hold writeMu.
func (c *Controller) clearLocked() error {
	var errs []error
	for _, key := range []string{storage.KeyAuthToken, storage.KeyCurrentUser, storage.KeyDataOwnerID} {
		if err := c.store.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}

	c.mu.Lock()
	c.state = State{}
	c.dataOwner = ""
	c.mu.Unlock()

	c.tc.SetToken("")
	logger.Debugf("session: signed out")
	c.publishCredential(CredentialEvent{})
	c.publishState()
	return errors.Join(errs...)
}

// SignUp creates an account. When the backend answers with a verification
// email instead of a session nothing is persisted and the state becomes
// pending verification.
func (c *Controller) SignUp(ctx context.Context, args SignUpArgs) (SignUpResult, error) {
	res, err := transport.Action[authResult](ctx, c.tc, pathSignUp, args)
	if err != nil {
		return SignUpResult{}, err
	}
	if res.VerificationSent {
		c.mu.Lock()
		c.state.PendingVerification = true
		c.state.PendingEmail = args.Email
		c.mu.Unlock()
		c.publishState()
		return SignUpResult{VerificationSent: true}, nil
	}
	return SignUpResult{}, c.establish(res)
}

// SignIn signs in with email and password.
func (c *Controller) SignIn(ctx context.Context, args SignInArgs) error {
	res, err := transport.Action[authResult](ctx, c.tc, pathSignIn, args)
	if err != nil {
		return err
	}
	return c.establish(res)
}

// SignInWithApple forwards a platform identity token. The nonce used for the
// platform's own challenge is not part of the call.
func (c *Controller) SignInWithApple(ctx context.Context, args AppleSignInArgs) error {
	if strings.TrimSpace(args.IdentityToken) == "" {
		return &wire.EncodingError{Cause: errors.New("missing identity token")}
	}
	res, err := transport.Action[authResult](ctx, c.tc, pathSignInWithApple, args)
	if err != nil {
		return err
	}
	return c.establish(res)
}

// ResetPassword asks the backend to send a password reset email.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	_, err := transport.Action[wire.NoContent](ctx, c.tc, pathResetPassword, emailArgs{Email: email})
	return err
}

// SendVerificationEmail asks the backend to (re)send the verification code.
func (c *Controller) SendVerificationEmail(ctx context.Context, email string) error {
	_, err := transport.Action[wire.NoContent](ctx, c.tc, pathSendVerificationEmail, emailArgs{Email: email})
	return err
}

// VerifyEmail confirms a verification code and starts the session.
func (c *Controller) VerifyEmail(ctx context.Context, args VerifyEmailArgs) error {
	res, err := transport.Action[authResult](ctx, c.tc, pathVerifyEmail, args)
	if err != nil {
		return err
	}
	return c.establish(res)
}

// ChangePassword changes the signed-in user's password.
func (c *Controller) ChangePassword(ctx context.Context, current, next string) error {
	if _, err := c.RequireUserID(); err != nil {
		return err
	}
	_, err := transport.Action[wire.NoContent](ctx, c.tc, pathChangePassword, changePasswordArgs{
		CurrentPassword: current,
		NewPassword:     next,
	})
	return err
}

// UpdateProfile updates the signed-in user's profile and refreshes the cached
// copy.
func (c *Controller) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	if _, err := c.RequireUserID(); err != nil {
		return nil, err
	}
	user, err := transport.Mutation[*User](ctx, c.tc, pathUpdateUser, update)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, wire.ErrInvalidResponse
	}

	rawUser, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Set(storage.KeyCurrentUser, string(rawUser)); err != nil {
		return nil, fmt.Errorf("persist user: %w", err)
	}
	c.mu.Lock()
	c.state.User = user
	c.mu.Unlock()
	c.publishState()

	out := *user
	return &out, nil
}

// DeleteAccount deletes the signed-in account and signs out.
func (c *Controller) DeleteAccount(ctx context.Context) error {
	if _, err := c.RequireUserID(); err != nil {
		return err
	}
	if err := transport.MutationNoContent(ctx, c.tc, pathDeleteAccount, nil); err != nil {
		return err
	}
	return c.SignOut()
}

// SignOut clears the persisted token, cached user and data-owner override,
// and drops the transport's credential.
func (c *Controller) SignOut() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.clearLocked()
}

// UserID returns the signed-in user's id, or "".
func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Authenticated || c.state.User == nil {
		return ""
	}
	return c.state.User.ID
}

// RequireUserID returns the signed-in user's id or wire.ErrNotAuthenticated.
func (c *Controller) RequireUserID() (string, error) {
	id := c.UserID()
	if id == "" {
		return "", wire.ErrNotAuthenticated
	}
	return id, nil
}

// DataOwnerID returns the account whose data is being viewed: the override
// when one is set, otherwise the signed-in user. It is "" when signed out.
func (c *Controller) DataOwnerID() string {
	c.mu.Lock()
	owner := c.dataOwner
	c.mu.Unlock()

	userID := c.UserID()
	if userID == "" {
		return ""
	}
	if owner != "" {
		return owner
	}
	return userID
}

// RequireDataOwnerID returns DataOwnerID or wire.ErrNotAuthenticated.
func (c *Controller) RequireDataOwnerID() (string, error) {
	id := c.DataOwnerID()
	if id == "" {
		return "", wire.ErrNotAuthenticated
	}
	return id, nil
}

// SetDataOwnerOverride views another account's data. An empty id clears the
// override.
func (c *Controller) SetDataOwnerOverride(id string) error {
	id = strings.TrimSpace(id)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var err error
	if id == "" {
		err = c.store.Delete(storage.KeyDataOwnerID)
	} else {
		err = c.store.Set(storage.KeyDataOwnerID, id)
	}
	if err != nil {
		return fmt.Errorf("persist data owner: %w", err)
	}

	c.mu.Lock()
	c.dataOwner = id
	c.mu.Unlock()
	return nil
}
