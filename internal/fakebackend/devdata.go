package fakebackend

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Collection names served by the dev handlers.
const (
	CollectionProperties   = "properties"
	CollectionTenants      = "tenants"
	CollectionMaintenance  = "maintenanceRequests"
	CollectionContractors  = "contractors"
	CollectionMarketTrends = "marketTrends"
)

var errNotAuthenticated = errors.New("Not authenticated")

// DevOptions configures the dev handlers.
type DevOptions struct {
	// Secret seeds the token signing key.
	Secret string
	// TokenTTL is the lifetime of issued tokens; zero means no expiry.
	TokenTTL time.Duration
	// RequireVerification makes sign-up send a verification code instead of
	// returning a session.
	RequireVerification bool
}

type devUser struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  []byte
	EmailVerified bool
	AppleSubject  string
	CreatedAt     time.Time
}

func (u *devUser) wire() map[string]any {
	out := map[string]any{
		"_id":           u.ID,
		"email":         u.Email,
		"emailVerified": u.EmailVerified,
		"createdAt":     u.CreatedAt.UnixMilli(),
	}
	if u.Name != "" {
		out["name"] = u.Name
	}
	return out
}

// DevData is an in-memory user directory and document store behind the dev
// handlers. It answers the auth, users and collection paths the client uses.
type DevData struct {
	backend *Backend
	tokens  *TokenIssuer
	opts    DevOptions

	mu          sync.Mutex
	users       map[string]*devUser
	byEmail     map[string]string
	codes       map[string]string
	resets      []string
	collections map[string]map[string]map[string]any
}

// InstallDevHandlers registers the dev handlers on b and returns their state.
func InstallDevHandlers(b *Backend, opts DevOptions) *DevData {
	if opts.Secret == "" {
		opts.Secret = "propsync-dev-secret"
	}
	d := &DevData{
		backend:     b,
		tokens:      NewTokenIssuer(opts.Secret, opts.TokenTTL),
		opts:        opts,
		users:       make(map[string]*devUser),
		byEmail:     make(map[string]string),
		codes:       make(map[string]string),
		collections: make(map[string]map[string]map[string]any),
	}

	b.Handle("auth:signUp", d.signUp)
	b.Handle("auth:signIn", d.signIn)
	b.Handle("auth:signInWithApple", d.signInWithApple)
	b.Handle("auth:resetPassword", d.resetPassword)
	b.Handle("auth:sendVerificationEmail", d.sendVerificationEmail)
	b.Handle("auth:verifyEmail", d.verifyEmail)
	b.Handle("auth:changePassword", d.changePassword)
	b.Handle("users:current", d.currentUser)
	b.Handle("users:update", d.updateUser)
	b.Handle("users:deleteAccount", d.deleteAccount)

	for _, name := range []string{CollectionProperties, CollectionTenants, CollectionMaintenance, CollectionContractors} {
		b.Handle(name+":list", d.list(name))
		b.Handle(name+":create", d.create(name))
	}
	for _, name := range []string{CollectionProperties, CollectionTenants, CollectionMaintenance} {
		b.Handle(name+":update", d.update(name, nil))
	}
	b.Handle("properties:deleteProperty", d.deleteProperty)
	b.Handle("maintenanceRequests:updateStatus", d.update(CollectionMaintenance, []string{"status"}))
	b.Handle("maintenanceRequests:assignContractor", d.update(CollectionMaintenance, []string{"contractorId"}))
	b.Handle("marketTrendsLive:refreshForProperty", d.refreshForProperty)
	b.Handle("marketTrendsLive:refreshPortfolio", d.refreshPortfolio)

	return d
}

// Tokens returns the issuer used for session tokens.
func (d *DevData) Tokens() *TokenIssuer {
	return d.tokens
}

// VerificationCode returns the pending verification code for email.
func (d *DevData) VerificationCode(email string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[normalizeEmail(email)]
}

// PasswordResets returns the emails a reset was requested for.
func (d *DevData) PasswordResets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.resets...)
}

// CreateUser registers a verified user directly and returns its id.
func (d *DevData) CreateUser(email, password, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.addUserLocked(email, password, name)
	if err != nil {
		return "", err
	}
	u.EmailVerified = true
	return u.ID, nil
}

// Documents returns a copy of every document in collection.
func (d *DevData) Documents(collection string) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked(collection, "")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *DevData) addUserLocked(email, password, name string) (*devUser, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("A valid email is required")
	}
	if len(password) < 8 {
		return nil, errors.New("Password must be at least 8 characters")
	}
	if _, exists := d.byEmail[email]; exists {
		return nil, errors.New("An account with this email already exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &devUser{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	d.users[u.ID] = u
	d.byEmail[email] = u.ID
	return u, nil
}

func (d *DevData) sessionLocked(u *devUser) (map[string]any, error) {
	token, err := d.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return map[string]any{"token": token, "user": u.wire()}, nil
}

// callerLocked resolves the user behind the call's bearer token.
func (d *DevData) callerLocked(call *Call) (*devUser, error) {
	token := call.Token()
	if token == "" {
		return nil, errNotAuthenticated
	}
	claims, err := d.tokens.Verify(token)
	if err != nil {
		return nil, errNotAuthenticated
	}
	u, ok := d.users[claims.Subject]
	if !ok {
		return nil, errNotAuthenticated
	}
	return u, nil
}

func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (d *DevData) signUp(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.addUserLocked(call.StringArg("email"), call.StringArg("password"), call.StringArg("name"))
	if err != nil {
		return nil, err
	}
	if d.opts.RequireVerification {
		code, err := newVerificationCode()
		if err != nil {
			return nil, err
		}
		d.codes[u.Email] = code
		logger.Infof("fakebackend: verification code for %s: %s", u.Email, code)
		return map[string]any{"verificationSent": true}, nil
	}
	u.EmailVerified = true
	return d.sessionLocked(u)
}

func (d *DevData) signIn(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byEmail[normalizeEmail(call.StringArg("email"))]
	if !ok {
		return nil, errors.New("Invalid email or password")
	}
	u := d.users[id]
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(call.StringArg("password"))) != nil {
		return nil, errors.New("Invalid email or password")
	}
	if !u.EmailVerified {
		return nil, errors.New("Please verify your email before signing in")
	}
	return d.sessionLocked(u)
}

// signInWithApple trusts the identity token's claims without checking its
// signature; the dev backend has no access to the platform's keys.
func (d *DevData) signInWithApple(call *Call) (any, error) {
	identityToken := call.StringArg("identityToken")
	if identityToken == "" {
		return nil, errors.New("Missing identity token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(identityToken, claims); err != nil {
		return nil, errors.New("Invalid identity token")
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		return nil, errors.New("Invalid identity token")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		email = call.StringArg("email")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if u.AppleSubject == subject {
			return d.sessionLocked(u)
		}
	}
	u := &devUser{
		ID:            uuid.NewString(),
		Email:         normalizeEmail(email),
		Name:          strings.TrimSpace(call.StringArg("fullName")),
		EmailVerified: true,
		AppleSubject:  subject,
		CreatedAt:     time.Now(),
	}
	d.users[u.ID] = u
	if u.Email != "" {
		d.byEmail[u.Email] = u.ID
	}
	return d.sessionLocked(u)
}

func (d *DevData) resetPassword(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets = append(d.resets, normalizeEmail(call.StringArg("email")))
	return nil, nil
}

func (d *DevData) sendVerificationEmail(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := normalizeEmail(call.StringArg("email"))
	if _, ok := d.byEmail[email]; !ok {
		return nil, errors.New("No account found for this email")
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}
	d.codes[email] = code
	logger.Infof("fakebackend: verification code for %s: %s", email, code)
	return nil, nil
}

func (d *DevData) verifyEmail(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	email := normalizeEmail(call.StringArg("email"))
	code, ok := d.codes[email]
	if !ok || code != strings.TrimSpace(call.StringArg("code")) {
		return nil, errors.New("Invalid or expired verification code")
	}
	delete(d.codes, email)
	u := d.users[d.byEmail[email]]
	u.EmailVerified = true
	return d.sessionLocked(u)
}

func (d *DevData) changePassword(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.callerLocked(call)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(call.StringArg("currentPassword"))) != nil {
		return nil, errors.New("Current password is incorrect")
	}
	next := call.StringArg("newPassword")
	if len(next) < 8 {
		return nil, errors.New("Password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	return nil, nil
}

func (d *DevData) currentUser(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.callerLocked(call)
	if err != nil {
		return nil, nil
	}
	return u.wire(), nil
}

func (d *DevData) updateUser(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.callerLocked(call)
	if err != nil {
		return nil, err
	}
	if name, ok := call.Args["name"].(string); ok {
		u.Name = strings.TrimSpace(name)
	}
	if email, ok := call.Args["email"].(string); ok && normalizeEmail(email) != u.Email {
		email = normalizeEmail(email)
		if _, taken := d.byEmail[email]; taken {
			return nil, errors.New("An account with this email already exists")
		}
		delete(d.byEmail, u.Email)
		u.Email = email
		d.byEmail[email] = u.ID
	}
	return u.wire(), nil
}

func (d *DevData) deleteAccount(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.callerLocked(call)
	if err != nil {
		return nil, err
	}
	delete(d.users, u.ID)
	delete(d.byEmail, u.Email)
	for _, docs := range d.collections {
		for id, doc := range docs {
			if doc["userId"] == u.ID {
				delete(docs, id)
			}
		}
	}
	return nil, nil
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// sortedLocked returns the documents of collection owned by userID (all when
// userID is empty) ordered by creation time.
func (d *DevData) sortedLocked(collection, userID string) []map[string]any {
	out := []map[string]any{}
	for _, doc := range d.collections[collection] {
		if userID != "" && doc["userId"] != userID {
			continue
		}
		out = append(out, cloneDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := out[i]["_creationTime"].(int64)
		tj, _ := out[j]["_creationTime"].(int64)
		if ti != tj {
			return ti < tj
		}
		return fmt.Sprint(out[i]["_id"]) < fmt.Sprint(out[j]["_id"])
	})
	return out
}

func (d *DevData) insertLocked(collection string, doc map[string]any) string {
	docs, ok := d.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		d.collections[collection] = docs
	}
	id := uuid.NewString()
	doc["_id"] = id
	doc["_creationTime"] = time.Now().UnixMilli()
	docs[id] = doc
	return id
}

func (d *DevData) list(collection string) HandlerFunc {
	return func(call *Call) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if _, err := d.callerLocked(call); err != nil {
			return nil, err
		}
		return d.sortedLocked(collection, call.StringArg("userId")), nil
	}
}

func (d *DevData) create(collection string) HandlerFunc {
	return func(call *Call) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if _, err := d.callerLocked(call); err != nil {
			return nil, err
		}
		if call.StringArg("userId") == "" {
			return nil, errors.New("userId is required")
		}
		doc := cloneDoc(call.Args)
		delete(doc, "_id")
		return d.insertLocked(collection, doc), nil
	}
}

// update merges the call's args into the document named by args.id. When
// fields is non-nil only those fields are accepted.
func (d *DevData) update(collection string, fields []string) HandlerFunc {
	return func(call *Call) (any, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if _, err := d.callerLocked(call); err != nil {
			return nil, err
		}
		id := call.StringArg("id")
		doc, ok := d.collections[collection][id]
		if !ok {
			return nil, fmt.Errorf("%s not found", singular(collection))
		}
		if fields == nil {
			for k, v := range call.Args {
				if k == "id" || strings.HasPrefix(k, "_") {
					continue
				}
				doc[k] = v
			}
			return nil, nil
		}
		for _, f := range fields {
			v, ok := call.Args[f]
			if !ok {
				return nil, fmt.Errorf("%s is required", f)
			}
			doc[f] = v
		}
		return nil, nil
	}
}

func singular(collection string) string {
	switch collection {
	case CollectionProperties:
		return "Property"
	case CollectionTenants:
		return "Tenant"
	case CollectionMaintenance:
		return "Maintenance request"
	case CollectionContractors:
		return "Contractor"
	default:
		return "Document"
	}
}

func (d *DevData) deleteProperty(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.callerLocked(call); err != nil {
		return nil, err
	}
	id := call.StringArg("id")
	if _, ok := d.collections[CollectionProperties][id]; !ok {
		return nil, errors.New("Property not found")
	}
	delete(d.collections[CollectionProperties], id)
	return nil, nil
}

// trendLocked synthesizes a market snapshot for a property. Figures are
// derived from the property's rent so repeated refreshes are stable.
func (d *DevData) trendLocked(property map[string]any) map[string]any {
	rent, _ := property["monthlyRent"].(float64)
	if rent == 0 {
		rent = 1500
	}
	trend := map[string]any{
		"propertyId":   property["_id"],
		"userId":       property["userId"],
		"medianRent":   rent * 1.04,
		"rentChange":   4.0,
		"vacancyRate":  5.5,
		"lastUpdated":  time.Now().UnixMilli(),
		"dataSource":   "propsync-dev",
		"propertyName": property["name"],
	}
	id := d.insertLocked(CollectionMarketTrends, trend)
	return cloneDoc(d.collections[CollectionMarketTrends][id])
}

func (d *DevData) refreshForProperty(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.callerLocked(call); err != nil {
		return nil, err
	}
	property, ok := d.collections[CollectionProperties][call.StringArg("propertyId")]
	if !ok {
		return nil, errors.New("Property not found")
	}
	return d.trendLocked(property), nil
}

func (d *DevData) refreshPortfolio(call *Call) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.callerLocked(call); err != nil {
		return nil, err
	}
	trends := []map[string]any{}
	for _, property := range d.sortedLocked(CollectionProperties, call.StringArg("userId")) {
		trends = append(trends, d.trendLocked(property))
	}
	return trends, nil
}
