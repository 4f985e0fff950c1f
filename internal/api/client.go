// Package api provides typed calls for the property-management collections
// on top of the generic transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pkuntong/highlanderhomes-sub002/internal/mirror"
	"github.com/pkuntong/highlanderhomes-sub002/internal/transport"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Function paths.
const (
	PathListProperties    = "properties:list"
	PathCreateProperty    = "properties:create"
	PathUpdateProperty    = "properties:update"
	PathDeleteProperty    = "properties:deleteProperty"
	PathListTenants       = "tenants:list"
	PathCreateTenant      = "tenants:create"
	PathUpdateTenant      = "tenants:update"
	PathListMaintenance   = "maintenanceRequests:list"
	PathCreateMaintenance = "maintenanceRequests:create"
	PathUpdateMaintenance = "maintenanceRequests:update"
	PathUpdateStatus      = "maintenanceRequests:updateStatus"
	PathAssignContractor  = "maintenanceRequests:assignContractor"
	PathListContractors   = "contractors:list"
	PathCreateContractor  = "contractors:create"
	PathRefreshForProp    = "marketTrendsLive:refreshForProperty"
	PathRefreshPortfolio  = "marketTrendsLive:refreshPortfolio"
)

// Collection names used for mirroring.
const (
	CollectionProperties  = "properties"
	CollectionTenants     = "tenants"
	CollectionMaintenance = "maintenanceRequests"
	CollectionContractors = "contractors"
)

// ReloadCollections maps each mirrored collection to its list path, in
// reload order.
var ReloadCollections = []struct {
	Name string
	Path string
}{
	{Name: CollectionProperties, Path: PathListProperties},
	{Name: CollectionTenants, Path: PathListTenants},
	{Name: CollectionMaintenance, Path: PathListMaintenance},
	{Name: CollectionContractors, Path: PathListContractors},
}

// Identity resolves whose data calls operate on.
type Identity interface {
	// RequireDataOwnerID returns the owner id or wire.ErrNotAuthenticated.
	RequireDataOwnerID() (string, error)
}

// Client issues typed calls.
type Client struct {
	tc       *transport.Client
	identity Identity
	hook     mirror.Hook
}

// NewClient creates a Client. A nil hook disables mirroring.
func NewClient(tc *transport.Client, identity Identity, hook mirror.Hook) *Client {
	if hook == nil {
		hook = mirror.NopHook{}
	}
	return &Client{tc: tc, identity: identity, hook: hook}
}

func (c *Client) owner() (string, error) {
	return c.identity.RequireDataOwnerID()
}

func requireID(what, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("missing %s id", what)
	}
	return nil
}

// ListProperties returns the owner's properties.
func (c *Client) ListProperties(ctx context.Context) ([]Property, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return transport.Query[[]Property](ctx, c.tc, PathListProperties, ownerArgs{UserID: owner})
}

// CreateProperty creates a property and returns its id.
func (c *Client) CreateProperty(ctx context.Context, in PropertyInput) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	return transport.Mutation[string](ctx, c.tc, PathCreateProperty, createPropertyArgs{UserID: owner, PropertyInput: in})
}

// UpdateProperty changes a property.
func (c *Client) UpdateProperty(ctx context.Context, id string, patch PropertyPatch) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("property", id); err != nil {
		return err
	}
	return transport.MutationNoContent(ctx, c.tc, PathUpdateProperty, updatePropertyArgs{ID: id, PropertyPatch: patch})
}

// DeleteProperty deletes a property.
func (c *Client) DeleteProperty(ctx context.Context, id string) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("property", id); err != nil {
		return err
	}
	return transport.MutationNoContent(ctx, c.tc, PathDeleteProperty, idArgs{ID: id})
}

// ListTenants returns the owner's tenants.
func (c *Client) ListTenants(ctx context.Context) ([]Tenant, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return transport.Query[[]Tenant](ctx, c.tc, PathListTenants, ownerArgs{UserID: owner})
}

// CreateTenant creates a tenant and returns its id.
func (c *Client) CreateTenant(ctx context.Context, in TenantInput) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	return transport.Mutation[string](ctx, c.tc, PathCreateTenant, createTenantArgs{UserID: owner, TenantInput: in})
}

// UpdateTenant changes a tenant.
func (c *Client) UpdateTenant(ctx context.Context, id string, patch TenantPatch) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("tenant", id); err != nil {
		return err
	}
	return transport.MutationNoContent(ctx, c.tc, PathUpdateTenant, updateTenantArgs{ID: id, TenantPatch: patch})
}

// ListMaintenanceRequests returns the owner's maintenance requests.
func (c *Client) ListMaintenanceRequests(ctx context.Context) ([]MaintenanceRequest, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return transport.Query[[]MaintenanceRequest](ctx, c.tc, PathListMaintenance, ownerArgs{UserID: owner})
}

// CreateMaintenanceRequest creates a maintenance request and returns its id.
func (c *Client) CreateMaintenanceRequest(ctx context.Context, in MaintenanceInput) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	return transport.Mutation[string](ctx, c.tc, PathCreateMaintenance, createMaintenanceArgs{UserID: owner, MaintenanceInput: in})
}

// UpdateMaintenanceRequest changes a maintenance request.
func (c *Client) UpdateMaintenanceRequest(ctx context.Context, id string, patch MaintenancePatch) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("maintenance request", id); err != nil {
		return err
	}
	return transport.MutationNoContent(ctx, c.tc, PathUpdateMaintenance, updateMaintenanceArgs{ID: id, MaintenancePatch: patch})
}

// UpdateMaintenanceStatus moves a maintenance request to status.
func (c *Client) UpdateMaintenanceStatus(ctx context.Context, id string, status MaintenanceStatus) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("maintenance request", id); err != nil {
		return err
	}
	if status == "" {
		return errors.New("missing status")
	}
	return transport.MutationNoContent(ctx, c.tc, PathUpdateStatus, updateStatusArgs{ID: id, Status: status})
}

// AssignContractor assigns a contractor to a maintenance request.
func (c *Client) AssignContractor(ctx context.Context, requestID, contractorID string) error {
	if _, err := c.owner(); err != nil {
		return err
	}
	if err := requireID("maintenance request", requestID); err != nil {
		return err
	}
	if err := requireID("contractor", contractorID); err != nil {
		return err
	}
	return transport.MutationNoContent(ctx, c.tc, PathAssignContractor, assignContractorArgs{ID: requestID, ContractorID: contractorID})
}

// ListContractors returns the owner's contractors.
func (c *Client) ListContractors(ctx context.Context) ([]Contractor, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return transport.Query[[]Contractor](ctx, c.tc, PathListContractors, ownerArgs{UserID: owner})
}

// CreateContractor creates a contractor and returns its id.
func (c *Client) CreateContractor(ctx context.Context, in ContractorInput) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	return transport.Mutation[string](ctx, c.tc, PathCreateContractor, createContractorArgs{UserID: owner, ContractorInput: in})
}

// RefreshMarketTrendsForProperty fetches live market data for one property.
func (c *Client) RefreshMarketTrendsForProperty(ctx context.Context, propertyID string) (*MarketTrend, error) {
	if _, err := c.owner(); err != nil {
		return nil, err
	}
	if err := requireID("property", propertyID); err != nil {
		return nil, err
	}
	return transport.Action[*MarketTrend](ctx, c.tc, PathRefreshForProp, propertyArgs{PropertyID: propertyID})
}

// RefreshPortfolioMarketTrends fetches live market data for every property
// of the owner.
func (c *Client) RefreshPortfolioMarketTrends(ctx context.Context) ([]MarketTrend, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return transport.Action[[]MarketTrend](ctx, c.tc, PathRefreshPortfolio, ownerArgs{UserID: owner})
}

// Reload fetches every mirrored collection concurrently and hands each to
// the mirror hook. It returns the number of documents per collection. The
// first failed fetch cancels the others and nothing is mirrored.
func (c *Client) Reload(ctx context.Context) (map[string]int, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}

	results := make([][]mirror.Document, len(ReloadCollections))
	g, gctx := errgroup.WithContext(ctx)
	for i, col := range ReloadCollections {
		g.Go(func() error {
			raw, err := transport.Query[json.RawMessage](gctx, c.tc, col.Path, ownerArgs{UserID: owner})
			if err != nil {
				return fmt.Errorf("reload %s: %w", col.Name, err)
			}
			docs, err := mirror.DocumentsFromJSON(raw)
			if err != nil {
				return fmt.Errorf("reload %s: %w", col.Name, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(ReloadCollections))
	for i, col := range ReloadCollections {
		if err := c.hook.Replace(ctx, col.Name, results[i]); err != nil {
			return counts, fmt.Errorf("mirror %s: %w", col.Name, err)
		}
		counts[col.Name] = len(results[i])
	}
	logger.Debugf("api: reloaded %v", counts)
	return counts, nil
}
