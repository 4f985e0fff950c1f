package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/fakebackend"
	"github.com/pkuntong/highlanderhomes-sub002/internal/mirror"
	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/stretchr/testify/require"
)

type fixedOwner string

func (o fixedOwner) RequireDataOwnerID() (string, error) {
	if o == "" {
		return "", wire.ErrNotAuthenticated
	}
	return string(o), nil
}

type recordingHook struct {
	mu   sync.Mutex
	got  map[string][]mirror.Document
	fail error
}

func (h *recordingHook) Replace(_ context.Context, collection string, docs []mirror.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	if h.got == nil {
		h.got = make(map[string][]mirror.Document)
	}
	h.got[collection] = docs
	return nil
}

// signedInClient returns a Client backed by the dev handlers, signed in as a
// fresh user.
func signedInClient(t *testing.T, hook mirror.Hook) (*Client, *fakebackend.Backend, string) {
	t.Helper()

	b := fakebackend.New()
	dev := fakebackend.InstallDevHandlers(b, fakebackend.DevOptions{})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	userID, err := dev.CreateUser("owner@example.com", "password1", "Owner")
	require.NoError(t, err)
	token, err := dev.Tokens().Issue(userID, "owner@example.com")
	require.NoError(t, err)

	tc := transport.New(srv.URL)
	tc.SetToken(token)
	return NewClient(tc, fixedOwner(userID), hook), b, userID
}

func TestNotAuthenticatedFailsBeforeRequest(t *testing.T) {
	t.Parallel()

	b := fakebackend.New()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	c := NewClient(transport.New(srv.URL), fixedOwner(""), nil)
	ctx := context.Background()

	calls := []func() error{
		func() error { _, err := c.ListProperties(ctx); return err },
		func() error { _, err := c.CreateProperty(ctx, PropertyInput{Name: "x"}); return err },
		func() error { return c.UpdateProperty(ctx, "p1", PropertyPatch{}) },
		func() error { return c.DeleteProperty(ctx, "p1") },
		func() error { _, err := c.ListTenants(ctx); return err },
		func() error { _, err := c.CreateTenant(ctx, TenantInput{}); return err },
		func() error { return c.UpdateTenant(ctx, "t1", TenantPatch{}) },
		func() error { _, err := c.ListMaintenanceRequests(ctx); return err },
		func() error { _, err := c.CreateMaintenanceRequest(ctx, MaintenanceInput{}); return err },
		func() error { return c.UpdateMaintenanceRequest(ctx, "m1", MaintenancePatch{}) },
		func() error { return c.UpdateMaintenanceStatus(ctx, "m1", StatusCompleted) },
		func() error { return c.AssignContractor(ctx, "m1", "c1") },
		func() error { _, err := c.ListContractors(ctx); return err },
		func() error { _, err := c.CreateContractor(ctx, ContractorInput{}); return err },
		func() error { _, err := c.RefreshMarketTrendsForProperty(ctx, "p1"); return err },
		func() error { _, err := c.RefreshPortfolioMarketTrends(ctx); return err },
		func() error { _, err := c.Reload(ctx); return err },
	}
	for i, call := range calls {
		require.ErrorIs(t, call(), wire.ErrNotAuthenticated, "call %d", i)
	}
	require.Empty(t, b.Calls())
	require.Equal(t, "You must be signed in to do that.", wire.UserMessage(wire.ErrNotAuthenticated))
}

func TestPropertyLifecycle(t *testing.T) {
	t.Parallel()

	c, b, userID := signedInClient(t, nil)
	ctx := context.Background()

	purchased := wire.NewMillis(time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC))
	id, err := c.CreateProperty(ctx, PropertyInput{
		Name:         "Elm Street",
		City:         "Springfield",
		Units:        4,
		MonthlyRent:  2400,
		PurchaseDate: &purchased,
	})
	require.NoError(t, err)

	create := b.CallsTo(PathCreateProperty)
	require.Len(t, create, 1)
	require.Equal(t, "mutation", create[0].Kind)
	require.Equal(t, userID, create[0].Args["userId"])
	require.Equal(t, float64(purchased.UnixMilli()), create[0].Args["purchaseDate"])

	name := "Elm St"
	require.NoError(t, c.UpdateProperty(ctx, id, PropertyPatch{Name: &name}))
	update := b.CallsTo(PathUpdateProperty)
	require.Equal(t, map[string]any{"id": id, "name": "Elm St"}, update[0].Args)

	props, err := c.ListProperties(ctx)
	require.NoError(t, err)
	require.Len(t, props, 1)
	require.Equal(t, "Elm St", props[0].Name)
	require.Equal(t, userID, props[0].UserID)
	require.Equal(t, 4, props[0].Units)
	require.True(t, props[0].PurchaseDate.Time.Equal(purchased.Time))
	require.False(t, props[0].CreatedAt.IsZero())

	trend, err := c.RefreshMarketTrendsForProperty(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, trend.PropertyID)
	require.False(t, trend.LastUpdated.IsZero())

	trends, err := c.RefreshPortfolioMarketTrends(ctx)
	require.NoError(t, err)
	require.Len(t, trends, 1)

	require.NoError(t, c.DeleteProperty(ctx, id))
	err = c.DeleteProperty(ctx, id)
	require.Equal(t, "Property not found", wire.UserMessage(err))

	require.Error(t, c.DeleteProperty(ctx, ""))
}

func TestMaintenanceFlow(t *testing.T) {
	t.Parallel()

	c, b, _ := signedInClient(t, nil)
	ctx := context.Background()

	propertyID, err := c.CreateProperty(ctx, PropertyInput{Name: "Oak"})
	require.NoError(t, err)
	contractorID, err := c.CreateContractor(ctx, ContractorInput{Name: "Pat", Specialty: "plumbing"})
	require.NoError(t, err)
	requestID, err := c.CreateMaintenanceRequest(ctx, MaintenanceInput{
		PropertyID: propertyID,
		Title:      "Leaky faucet",
		Status:     StatusPending,
	})
	require.NoError(t, err)

	require.NoError(t, c.AssignContractor(ctx, requestID, contractorID))
	require.NoError(t, c.UpdateMaintenanceStatus(ctx, requestID, StatusInProgress))
	cost := 120.5
	require.NoError(t, c.UpdateMaintenanceRequest(ctx, requestID, MaintenancePatch{Cost: &cost}))
	require.Error(t, c.UpdateMaintenanceStatus(ctx, requestID, ""))

	status := b.CallsTo(PathUpdateStatus)
	require.Len(t, status, 1)
	require.Equal(t, map[string]any{"id": requestID, "status": "in_progress"}, status[0].Args)

	reqs, err := c.ListMaintenanceRequests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, contractorID, reqs[0].ContractorID)
	require.Equal(t, StatusInProgress, reqs[0].Status)
	require.Equal(t, 120.5, reqs[0].Cost)

	contractors, err := c.ListContractors(ctx)
	require.NoError(t, err)
	require.Len(t, contractors, 1)
	require.Equal(t, "plumbing", contractors[0].Specialty)
}

func TestTenantFlow(t *testing.T) {
	t.Parallel()

	c, _, _ := signedInClient(t, nil)
	ctx := context.Background()

	start := wire.MillisFromInt(1700000000000)
	id, err := c.CreateTenant(ctx, TenantInput{PropertyID: "p1", Name: "Sam", LeaseStart: &start, IsActive: true})
	require.NoError(t, err)

	active := false
	require.NoError(t, c.UpdateTenant(ctx, id, TenantPatch{IsActive: &active}))

	tenants, err := c.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	require.False(t, tenants[0].IsActive)
	require.Equal(t, int64(1700000000000), tenants[0].LeaseStart.UnixMilli())
}

func TestReloadMirrorsEveryCollection(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	c, b, _ := signedInClient(t, hook)
	ctx := context.Background()

	_, err := c.CreateProperty(ctx, PropertyInput{Name: "A"})
	require.NoError(t, err)
	_, err = c.CreateProperty(ctx, PropertyInput{Name: "B"})
	require.NoError(t, err)
	_, err = c.CreateContractor(ctx, ContractorInput{Name: "Pat"})
	require.NoError(t, err)

	counts, err := c.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		CollectionProperties:  2,
		CollectionTenants:     0,
		CollectionMaintenance: 0,
		CollectionContractors: 1,
	}, counts)

	hook.mu.Lock()
	require.Len(t, hook.got, 4)
	require.Len(t, hook.got[CollectionProperties], 2)
	hook.mu.Unlock()

	for _, col := range ReloadCollections {
		require.Len(t, b.CallsTo(col.Path), 1, col.Path)
	}
}

func TestReloadFailureMirrorsNothing(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{}
	c, b, _ := signedInClient(t, hook)
	b.Handle(PathListTenants, func(*fakebackend.Call) (any, error) {
		return nil, errors.New("tenants unavailable")
	})

	_, err := c.Reload(context.Background())
	var serverErr *wire.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "tenants unavailable", serverErr.Message)

	hook.mu.Lock()
	require.Empty(t, hook.got)
	hook.mu.Unlock()
}

func TestReloadHookFailure(t *testing.T) {
	t.Parallel()

	hook := &recordingHook{fail: errors.New("disk full")}
	c, _, _ := signedInClient(t, hook)

	_, err := c.Reload(context.Background())
	require.ErrorContains(t, err, "disk full")
}

func TestReloadIntoSQLiteMirror(t *testing.T) {
	t.Parallel()

	m, err := mirror.OpenSQLite(t.TempDir() + "/mirror.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	c, _, _ := signedInClient(t, m)
	ctx := context.Background()

	id, err := c.CreateProperty(ctx, PropertyInput{Name: "Elm"})
	require.NoError(t, err)
	_, err = c.Reload(ctx)
	require.NoError(t, err)

	docs, err := m.Load(ctx, CollectionProperties)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, id, docs[0].ID)
}
