package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/fakebackend"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func newBackend(t *testing.T) (*fakebackend.Backend, string) {
	t.Helper()
	b := fakebackend.New()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, srv.URL
}

func subscribePaths(frames []fakebackend.ControlFrame) []string {
	var out []string
	for _, f := range frames {
		if f.Type == wire.FrameSubscribe {
			out = append(out, f.QueryPath)
		}
	}
	return out
}

func noop(json.RawMessage) {}

func TestSyncURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base    string
		version string
		want    string
		wantErr bool
	}{
		{base: "https://x.cloud", want: "wss://x.cloud/api/1.0/sync"},
		{base: "https://x.cloud/", want: "wss://x.cloud/api/1.0/sync"},
		{base: "http://localhost:3210", version: "1.2", want: "ws://localhost:3210/api/1.2/sync"},
		{base: "ftp://x.cloud", wantErr: true},
		{base: "https://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := SyncURL(tt.base, tt.version)
		if tt.wantErr {
			require.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		require.Equal(t, tt.want, got)
	}
}

func TestConnectTwiceOpensOneConnection(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Connect(ctx))

	require.True(t, m.IsConnected())
	require.Equal(t, Connected, m.State())
	require.Equal(t, 1, b.ConnectionCount())
}

func TestConcurrentConnectOpensOneConnection(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Connect(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, 1, b.ConnectionCount())
}

func TestReconnectReplaysCurrentRegistry(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "a", nil, noop))
	require.NoError(t, m.Subscribe(ctx, "b", map[string]any{"limit": 5}, noop))
	m.Unsubscribe("a")
	require.Equal(t, []string{"b"}, m.Subscriptions())

	require.NoError(t, m.Reconnect(ctx))
	require.Equal(t, 2, b.ConnectionCount())

	second := b.LatestConnID()
	require.Eventually(t, func() bool {
		return len(b.FramesOn(second)) == 1
	}, waitFor, tick)

	frames := b.FramesOn(second)
	require.Equal(t, []string{"b"}, subscribePaths(frames))
	require.Equal(t, map[string]any{"limit": float64(5)}, frames[0].Args)
}

func TestSubscribeWhileDisconnectedConnectsAndReplays(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "properties:list", nil, noop))
	m.Disconnect()
	require.False(t, m.IsConnected())
	require.Equal(t, []string{"properties:list"}, m.Subscriptions())

	require.NoError(t, m.Subscribe(ctx, "tenants:list", nil, noop))
	require.Equal(t, 2, b.ConnectionCount())

	second := b.LatestConnID()
	require.Eventually(t, func() bool {
		return len(b.FramesOn(second)) == 2
	}, waitFor, tick)
	require.Equal(t, []string{"properties:list", "tenants:list"}, subscribePaths(b.FramesOn(second)))
}

func TestSubscribeReplacesExistingEntry(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(tag string) Callback {
		return func(json.RawMessage) {
			mu.Lock()
			got = append(got, tag)
			mu.Unlock()
		}
	}

	require.NoError(t, m.Subscribe(ctx, "q", nil, record("first")))
	require.NoError(t, m.Subscribe(ctx, "q", nil, record("second")))
	require.Equal(t, []string{"q"}, m.Subscriptions())

	require.Eventually(t, func() bool {
		return len(b.Frames()) == 2
	}, waitFor, tick)
	require.Equal(t, 1, b.Push("q", 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, tick)
	mu.Lock()
	require.Equal(t, []string{"second"}, got)
	mu.Unlock()
}

func TestPushDeliveredToCallback(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	b.Handle("properties:list", func(*fakebackend.Call) (any, error) {
		return []map[string]any{{"_id": "p1", "name": "Elm"}}, nil
	})
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)

	values := make(chan []map[string]any, 4)
	err := SubscribeTyped(context.Background(), m, "properties:list", nil, func(v []map[string]any) {
		values <- v
	})
	require.NoError(t, err)

	select {
	case v := <-values:
		require.Len(t, v, 1)
		require.Equal(t, "Elm", v[0]["name"])
	case <-time.After(waitFor):
		t.Fatal("no push delivered")
	}
}

func TestBadFramesAndPanicsDoNotStopLoop(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "boom", nil, func(json.RawMessage) {
		panic("callback failure")
	}))

	got := make(chan int, 4)
	require.NoError(t, SubscribeTyped(ctx, m, "count", nil, func(n int) {
		got <- n
	}))
	require.Eventually(t, func() bool {
		return len(b.Frames()) == 2
	}, waitFor, tick)

	b.PushRaw(`not json`)
	b.PushRaw(`{"value":1}`)
	b.PushRaw(`{"queryPath":"unknown","value":1}`)
	b.Push("boom", 1)
	b.Push("count", "not a number")
	b.Push("count", 7)

	select {
	case n := <-got:
		require.Equal(t, 7, n)
	case <-time.After(waitFor):
		t.Fatal("receive loop stopped")
	}
	require.True(t, m.IsConnected())
}

func TestDisconnectKeepsRegistry(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)

	var (
		mu     sync.Mutex
		states []State
	)
	m := NewManager(url, nil, WithStateListener(func(s State, _ string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "a", nil, noop))
	m.Disconnect()
	m.Disconnect()

	require.False(t, m.IsConnected())
	require.Equal(t, Disconnected, m.State())
	require.Equal(t, []string{"a"}, m.Subscriptions())
	require.Empty(t, m.LastError())
	require.Eventually(t, func() bool {
		return b.OpenConnections() == 0
	}, waitFor, tick)

	mu.Lock()
	require.Equal(t, []State{Connecting, Connected, Disconnected}, states)
	mu.Unlock()
}

func TestResetClearsRegistry(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "a", nil, noop))
	require.NoError(t, m.Subscribe(ctx, "b", nil, noop))
	m.Reset()

	require.False(t, m.IsConnected())
	require.Empty(t, m.Subscriptions())

	require.NoError(t, m.Connect(ctx))
	t.Cleanup(m.Disconnect)
	require.NoError(t, m.Reconnect(ctx))

	require.Empty(t, b.FramesOn(b.LatestConnID()))
}

func TestReceiveFailureMarksDisconnected(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)

	errs := make(chan string, 4)
	m := NewManager(url, nil, WithStateListener(func(s State, msg string) {
		if s == Erroring {
			errs <- msg
		}
	}))
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "a", nil, noop))
	b.DropConnections()

	select {
	case msg := <-errs:
		require.NotEmpty(t, msg)
	case <-time.After(waitFor):
		t.Fatal("no failure reported")
	}

	require.Eventually(t, func() bool {
		return !m.IsConnected()
	}, waitFor, tick)
	require.Equal(t, Disconnected, m.State())
	require.NotEmpty(t, m.LastError())
	require.Equal(t, []string{"a"}, m.Subscriptions())

	// No automatic reconnect.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, b.ConnectionCount())

	require.NoError(t, m.Reconnect(ctx))
	t.Cleanup(m.Disconnect)
	require.Empty(t, m.LastError())
	second := b.LatestConnID()
	require.Eventually(t, func() bool {
		return len(b.FramesOn(second)) == 1
	}, waitFor, tick)
}

func TestHandshakeBearerHeader(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)

	var (
		mu    sync.Mutex
		token string
	)
	m := NewManager(url, func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	})
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))

	mu.Lock()
	token = "not-a-jwt"
	mu.Unlock()
	require.NoError(t, m.Reconnect(ctx))

	mu.Lock()
	token = "h1.p2.s3"
	mu.Unlock()
	require.NoError(t, m.Reconnect(ctx))

	require.Equal(t, []string{"", "", "Bearer h1.p2.s3"}, b.SocketAuthorizations())
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	m := NewManager(url, nil)
	err := m.Connect(context.Background())
	require.Error(t, err)
	require.False(t, m.IsConnected())
	require.Equal(t, Disconnected, m.State())
	require.NotEmpty(t, m.LastError())

	err = m.Subscribe(context.Background(), "a", nil, noop)
	require.Error(t, err)
	require.Equal(t, []string{"a"}, m.Subscriptions())
}

func TestSubscribeValidation(t *testing.T) {
	t.Parallel()

	m := NewManager("http://127.0.0.1:1", nil)
	require.Error(t, m.Subscribe(context.Background(), "", nil, noop))
	require.Error(t, m.Subscribe(context.Background(), "a", nil, nil))
	require.Error(t, m.Subscribe(context.Background(), "a", []int{1}, noop))
	require.Empty(t, m.Subscriptions())

	m.Unsubscribe("missing")
}

func TestSubscribeOnReplacedConnectionIsNotAnError(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	m := NewManager(url, nil)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx))
	m.mu.Lock()
	old := m.conn
	m.mu.Unlock()
	require.NotNil(t, old)

	// Subscribe picked up old just before a reconnect closed it.
	require.NoError(t, m.Reconnect(ctx))
	frame, err := wire.NewSubscribeFrame("a", nil)
	require.NoError(t, err)
	m.mu.Lock()
	m.subs["a"] = &subscription{name: "a", args: frame.Args, callback: noop}
	m.order = append(m.order, "a")
	m.mu.Unlock()
	require.NoError(t, m.sendSubscribe(old, frame))

	// The registered entry reaches the next connection.
	require.NoError(t, m.Reconnect(ctx))
	latest := b.LatestConnID()
	require.Eventually(t, func() bool {
		return len(subscribePaths(b.FramesOn(latest))) == 1
	}, waitFor, tick)
}

func TestStateNeverRestsInErroring(t *testing.T) {
	t.Parallel()

	b, url := newBackend(t)
	var (
		mu     sync.Mutex
		states []State
	)
	m := NewManager(url, nil, WithStateListener(func(s State, _ string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect(context.Background()))
	b.DropConnections()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, waitFor, tick)
	mu.Lock()
	require.Equal(t, []State{Connecting, Connected, Erroring, Disconnected}, states)
	mu.Unlock()
	require.Equal(t, Disconnected, m.State())
}
