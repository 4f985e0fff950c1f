package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/api"
	"github.com/pkuntong/highlanderhomes-sub002/internal/fakebackend"
	"github.com/pkuntong/highlanderhomes-sub002/internal/session"
	"github.com/pkuntong/highlanderhomes-sub002/internal/storage"
	"github.com/pkuntong/highlanderhomes-sub002/sdk"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "args.yaml")
	require.NoError(t, os.WriteFile(file, []byte("name: Elm\nunits: 4\nowner:\n  id: u1\n"), 0o600))

	args, err := parseArgs(file, []string{"units=6", "active=true", "zip='02134'", "note=", "title=a=b"})
	require.NoError(t, err)
	require.Equal(t, "Elm", args["name"])
	require.Equal(t, 6, args["units"])
	require.Equal(t, true, args["active"])
	require.Equal(t, "02134", args["zip"])
	require.Equal(t, "", args["note"])
	require.Equal(t, "a=b", args["title"])
	require.Equal(t, map[string]any{"id": "u1"}, args["owner"])

	_, err = parseArgs("", []string{"novalue"})
	require.Error(t, err)
	_, err = parseArgs("", []string{"=x"})
	require.Error(t, err)
	_, err = parseArgs(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)

	empty, err := parseArgs("", nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsAgainstDevBackend(t *testing.T) {
	b := fakebackend.New()
	dev := fakebackend.InstallDevHandlers(b, fakebackend.DevOptions{})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	home := t.TempDir()
	t.Setenv("PROPSYNC_HOME", home)
	t.Setenv("PROPSYNC_URL", srv.URL)
	t.Setenv("PROPSYNC_PASSWORD", "")
	t.Setenv("DEBUG", "")

	userID, err := dev.CreateUser("owner@example.com", "password1", "Owner")
	require.NoError(t, err)

	out, err := run(t, "whoami")
	require.NoError(t, err)
	require.Contains(t, out, "Not signed in")

	_, err = run(t, "login", "owner@example.com", "--password", "wrong")
	require.EqualError(t, err, "Invalid email or password")

	out, err = run(t, "login", "owner@example.com", "--password", "password1")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in.")
	require.FileExists(t, filepath.Join(home, "session.json"))
	require.FileExists(t, filepath.Join(home, "secret.key"))

	// The persisted session is sealed.
	raw, err := os.ReadFile(filepath.Join(home, "session.json"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "owner@example.com")

	out, err = run(t, "whoami")
	require.NoError(t, err)
	require.Contains(t, out, userID)

	out, err = run(t, "call", "mutation", "properties:create", "--arg", "userId="+userID, "--arg", "name=Elm", "--arg", "units=4")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))

	out, err = run(t, "call", "query", "properties:list", "--arg", "userId="+userID)
	require.NoError(t, err)
	require.Contains(t, out, `"name": "Elm"`)
	require.Contains(t, out, `"units": 4`)

	_, err = run(t, "call", "fetch", "properties:list")
	require.Error(t, err)

	out, err = run(t, "reload")
	require.NoError(t, err)
	require.Contains(t, out, "properties")

	out, err = run(t, "mirror")
	require.NoError(t, err)
	require.Contains(t, out, "properties")

	out, err = run(t, "mirror", "properties")
	require.NoError(t, err)
	require.Contains(t, out, `"name": "Elm"`)

	out, err = run(t, "owner", "someone-else")
	require.NoError(t, err)
	require.Equal(t, "someone-else\n", out)
	out, err = run(t, "owner", "--clear")
	require.NoError(t, err)
	require.Equal(t, userID+"\n", out)

	out, err = run(t, "logout")
	require.NoError(t, err)
	require.Contains(t, out, "Signed out.")

	_, err = run(t, "reload")
	require.EqualError(t, err, "You must be signed in to do that.")

	_, err = run(t, "delete-account")
	require.Error(t, err)
}

func TestSignUpWithVerification(t *testing.T) {
	b := fakebackend.New()
	dev := fakebackend.InstallDevHandlers(b, fakebackend.DevOptions{RequireVerification: true})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("PROPSYNC_HOME", t.TempDir())
	t.Setenv("PROPSYNC_URL", srv.URL)
	t.Setenv("PROPSYNC_PASSWORD", "password1")
	t.Setenv("DEBUG", "")

	out, err := run(t, "signup", "new@example.com", "--name", "New")
	require.NoError(t, err)
	require.Contains(t, out, "verify-email")

	code := dev.VerificationCode("new@example.com")
	require.Len(t, code, 6)

	_, err = run(t, "verify-email", "new@example.com", code)
	require.NoError(t, err)

	out, err = run(t, "whoami", "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"email": "new@example.com"`)
}

func TestVersionSkipsConfig(t *testing.T) {
	t.Setenv("PROPSYNC_URL", "ftp://invalid")

	out, err := run(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "propsync "))
}

func TestLiveQueryFollowsSessionChanges(t *testing.T) {
	t.Parallel()

	b := fakebackend.New()
	dev := fakebackend.InstallDevHandlers(b, fakebackend.DevOptions{})
	b.SetAutoRefresh(true)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	c, err := sdk.New(sdk.Options{BaseURL: srv.URL, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	userID, err := dev.CreateUser("owner@example.com", "password1", "Owner")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Session().SignIn(ctx, session.SignInArgs{Email: "owner@example.com", Password: "password1"}))
	require.NoError(t, c.Flush())

	var (
		mu   sync.Mutex
		last []map[string]any
		seen int
	)
	var notices bytes.Buffer
	q := &liveQuery{
		client: c,
		path:   api.PathListProperties,
		args:   map[string]any{"userId": userID},
		show: func(raw json.RawMessage) {
			var docs []map[string]any
			if json.Unmarshal(raw, &docs) != nil {
				return
			}
			mu.Lock()
			last, seen = docs, seen+1
			mu.Unlock()
		},
		notice: &notices,
	}
	require.NoError(t, q.start(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Another process signs out.
	require.NoError(t, store.Delete(storage.KeyAuthToken))
	require.NoError(t, q.resync(ctx))
	require.False(t, c.Session().State().Authenticated)
	require.Empty(t, c.Realtime().Subscriptions())
	require.Contains(t, notices.String(), "Signed out")

	// ... and signs in again.
	token, err := dev.Tokens().Issue(userID, "owner@example.com")
	require.NoError(t, err)
	require.NoError(t, store.Set(storage.KeyAuthToken, token))
	require.NoError(t, store.Set(storage.KeyCurrentUser,
		`{"_id":"`+userID+`","email":"owner@example.com","emailVerified":true,"createdAt":1700000000000}`))
	require.NoError(t, q.resync(ctx))
	require.True(t, c.Session().State().Authenticated)
	require.Equal(t, []string{api.PathListProperties}, c.Realtime().Subscriptions())

	latest := b.LatestConnID()
	require.Eventually(t, func() bool {
		for _, f := range b.FramesOn(latest) {
			if f.QueryPath == api.PathListProperties {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// A change made after the new sign-in still reaches the output.
	_, err = c.API().CreateProperty(ctx, api.PropertyInput{Name: "Elm"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0]["name"] == "Elm"
	}, 2*time.Second, 10*time.Millisecond)

	// A resync with nothing changed does not subscribe again.
	frames := len(b.FramesOn(latest))
	require.NoError(t, q.resync(ctx))
	require.Len(t, b.FramesOn(latest), frames)
}
