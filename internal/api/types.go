package api

import (
	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
)

// Property is a managed property.
type Property struct {
	ID            string       `json:"_id"`
	CreatedAt     wire.Millis  `json:"_creationTime"`
	UserID        string       `json:"userId"`
	Name          string       `json:"name"`
	Address       string       `json:"address,omitempty"`
	City          string       `json:"city,omitempty"`
	State         string       `json:"state,omitempty"`
	ZipCode       string       `json:"zipCode,omitempty"`
	PropertyType  string       `json:"propertyType,omitempty"`
	Units         int          `json:"units,omitempty"`
	MonthlyRent   float64      `json:"monthlyRent,omitempty"`
	PurchasePrice float64      `json:"purchasePrice,omitempty"`
	PurchaseDate  *wire.Millis `json:"purchaseDate,omitempty"`
}

// PropertyInput holds the fields of a new property.
type PropertyInput struct {
	Name          string       `json:"name"`
	Address       string       `json:"address,omitempty"`
	City          string       `json:"city,omitempty"`
	State         string       `json:"state,omitempty"`
	ZipCode       string       `json:"zipCode,omitempty"`
	PropertyType  string       `json:"propertyType,omitempty"`
	Units         int          `json:"units,omitempty"`
	MonthlyRent   float64      `json:"monthlyRent,omitempty"`
	PurchasePrice float64      `json:"purchasePrice,omitempty"`
	PurchaseDate  *wire.Millis `json:"purchaseDate,omitempty"`
}

// PropertyPatch holds the fields to change on a property; nil fields are
// left alone.
type PropertyPatch struct {
	Name         *string      `json:"name,omitempty"`
	Address      *string      `json:"address,omitempty"`
	City         *string      `json:"city,omitempty"`
	State        *string      `json:"state,omitempty"`
	ZipCode      *string      `json:"zipCode,omitempty"`
	PropertyType *string      `json:"propertyType,omitempty"`
	Units        *int         `json:"units,omitempty"`
	MonthlyRent  *float64     `json:"monthlyRent,omitempty"`
	PurchaseDate *wire.Millis `json:"purchaseDate,omitempty"`
}

// Tenant is a tenant of a property.
type Tenant struct {
	ID          string       `json:"_id"`
	CreatedAt   wire.Millis  `json:"_creationTime"`
	UserID      string       `json:"userId"`
	PropertyID  string       `json:"propertyId"`
	Name        string       `json:"name"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	UnitNumber  string       `json:"unitNumber,omitempty"`
	MonthlyRent float64      `json:"monthlyRent,omitempty"`
	LeaseStart  *wire.Millis `json:"leaseStartDate,omitempty"`
	LeaseEnd    *wire.Millis `json:"leaseEndDate,omitempty"`
	IsActive    bool         `json:"isActive"`
}

// TenantInput holds the fields of a new tenant.
type TenantInput struct {
	PropertyID  string       `json:"propertyId"`
	Name        string       `json:"name"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	UnitNumber  string       `json:"unitNumber,omitempty"`
	MonthlyRent float64      `json:"monthlyRent,omitempty"`
	LeaseStart  *wire.Millis `json:"leaseStartDate,omitempty"`
	LeaseEnd    *wire.Millis `json:"leaseEndDate,omitempty"`
	IsActive    bool         `json:"isActive"`
}

// TenantPatch holds the fields to change on a tenant.
type TenantPatch struct {
	PropertyID  *string      `json:"propertyId,omitempty"`
	Name        *string      `json:"name,omitempty"`
	Email       *string      `json:"email,omitempty"`
	Phone       *string      `json:"phone,omitempty"`
	UnitNumber  *string      `json:"unitNumber,omitempty"`
	MonthlyRent *float64     `json:"monthlyRent,omitempty"`
	LeaseStart  *wire.Millis `json:"leaseStartDate,omitempty"`
	LeaseEnd    *wire.Millis `json:"leaseEndDate,omitempty"`
	IsActive    *bool        `json:"isActive,omitempty"`
}

// MaintenanceStatus is the lifecycle stage of a maintenance request. The
// values are passed through to the backend unchecked.
type MaintenanceStatus string

const (
	StatusPending    MaintenanceStatus = "pending"
	StatusAssigned   MaintenanceStatus = "assigned"
	StatusInProgress MaintenanceStatus = "in_progress"
	StatusCompleted  MaintenanceStatus = "completed"
	StatusCancelled  MaintenanceStatus = "cancelled"
)

// MaintenanceRequest is a repair or service job.
type MaintenanceRequest struct {
	ID            string            `json:"_id"`
	CreatedAt     wire.Millis       `json:"_creationTime"`
	UserID        string            `json:"userId"`
	PropertyID    string            `json:"propertyId"`
	TenantID      string            `json:"tenantId,omitempty"`
	ContractorID  string            `json:"contractorId,omitempty"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category,omitempty"`
	Priority      string            `json:"priority,omitempty"`
	Status        MaintenanceStatus `json:"status"`
	ScheduledDate *wire.Millis      `json:"scheduledDate,omitempty"`
	CompletedDate *wire.Millis      `json:"completedDate,omitempty"`
	Cost          float64           `json:"cost,omitempty"`
}

// MaintenanceInput holds the fields of a new maintenance request.
type MaintenanceInput struct {
	PropertyID    string            `json:"propertyId"`
	TenantID      string            `json:"tenantId,omitempty"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Category      string            `json:"category,omitempty"`
	Priority      string            `json:"priority,omitempty"`
	Status        MaintenanceStatus `json:"status,omitempty"`
	ScheduledDate *wire.Millis      `json:"scheduledDate,omitempty"`
}

// MaintenancePatch holds the fields to change on a maintenance request.
type MaintenancePatch struct {
	Title         *string      `json:"title,omitempty"`
	Description   *string      `json:"description,omitempty"`
	Category      *string      `json:"category,omitempty"`
	Priority      *string      `json:"priority,omitempty"`
	ScheduledDate *wire.Millis `json:"scheduledDate,omitempty"`
	CompletedDate *wire.Millis `json:"completedDate,omitempty"`
	Cost          *float64     `json:"cost,omitempty"`
}

// Contractor is a service provider.
type Contractor struct {
	ID         string      `json:"_id"`
	CreatedAt  wire.Millis `json:"_creationTime"`
	UserID     string      `json:"userId"`
	Name       string      `json:"name"`
	Company    string      `json:"company,omitempty"`
	Email      string      `json:"email,omitempty"`
	Phone      string      `json:"phone,omitempty"`
	Specialty  string      `json:"specialty,omitempty"`
	HourlyRate float64     `json:"hourlyRate,omitempty"`
	Rating     float64     `json:"rating,omitempty"`
}

// ContractorInput holds the fields of a new contractor.
type ContractorInput struct {
	Name       string  `json:"name"`
	Company    string  `json:"company,omitempty"`
	Email      string  `json:"email,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	Specialty  string  `json:"specialty,omitempty"`
	HourlyRate float64 `json:"hourlyRate,omitempty"`
}

// MarketTrend is a market snapshot for a property.
type MarketTrend struct {
	ID          string      `json:"_id"`
	PropertyID  string      `json:"propertyId"`
	UserID      string      `json:"userId,omitempty"`
	MedianRent  float64     `json:"medianRent"`
	RentChange  float64     `json:"rentChange"`
	VacancyRate float64     `json:"vacancyRate"`
	LastUpdated wire.Millis `json:"lastUpdated"`
	DataSource  string      `json:"dataSource,omitempty"`
}

// Argument shapes, one per call path.

type ownerArgs struct {
	UserID string `json:"userId"`
}

type idArgs struct {
	ID string `json:"id"`
}

type createPropertyArgs struct {
	UserID string `json:"userId"`
	PropertyInput
}

type updatePropertyArgs struct {
	ID string `json:"id"`
	PropertyPatch
}

type createTenantArgs struct {
	UserID string `json:"userId"`
	TenantInput
}

type updateTenantArgs struct {
	ID string `json:"id"`
	TenantPatch
}

type createMaintenanceArgs struct {
	UserID string `json:"userId"`
	MaintenanceInput
}

type updateMaintenanceArgs struct {
	ID string `json:"id"`
	MaintenancePatch
}

type updateStatusArgs struct {
	ID     string            `json:"id"`
	Status MaintenanceStatus `json:"status"`
}

type assignContractorArgs struct {
	ID           string `json:"id"`
	ContractorID string `json:"contractorId"`
}

type createContractorArgs struct {
	UserID string `json:"userId"`
	ContractorInput
}

type propertyArgs struct {
	PropertyID string `json:"propertyId"`
}
