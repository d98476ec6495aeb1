package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lpgdepot/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("invalid request")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// InsufficientInventoryError carries the shortfall detail for a specific
// product. It matches ErrInsufficientInventory under errors.Is.
type InsufficientInventoryError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

type Repository interface {
	ListProducts(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Product, error)
	ListLowStockProducts(ctx context.Context, ownerID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, ownerID, productID string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	RegisterCylinder(ctx context.Context, cyl domain.Cylinder) (*domain.Cylinder, error)
	GetCylinderBySerial(ctx context.Context, ownerID, serial string) (*domain.Cylinder, error)
	ListCylinders(ctx context.Context, ownerID string, filter domain.CylinderFilter) ([]domain.Cylinder, int, error)
	ListCylindersDueInspection(ctx context.Context, ownerID string, before time.Time) ([]domain.Cylinder, error)
	UpdateCylinder(ctx context.Context, cyl domain.Cylinder) (*domain.Cylinder, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, ownerID, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, ownerID string, search string, page, limit int) ([]domain.Customer, int, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	// CreateSale runs the whole sale pipeline atomically: inventory
	// re-read and decrement, cylinder reservation, invoice numbering,
	// credit and customer aggregate updates, checklist creation.
	CreateSale(ctx context.Context, sale domain.Sale, checklist *domain.SafetyChecklist) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, ownerID, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, ownerID string, filter domain.SaleFilter) ([]domain.Sale, int, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	RecordSalePayment(ctx context.Context, ownerID, saleID string, payment domain.SalePaymentRequest) (*domain.Sale, error)
	GetSalesReport(ctx context.Context, ownerID string, from, to time.Time) (*domain.SalesReport, error)

	CreatePersonnel(ctx context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error)
	GetPersonnelByID(ctx context.Context, ownerID, personnelID string) (*domain.DeliveryPersonnel, error)
	ListPersonnel(ctx context.Context, ownerID string) ([]domain.DeliveryPersonnel, error)
	UpdatePersonnel(ctx context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error)
	CreateRoute(ctx context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error)
	GetRouteByID(ctx context.Context, ownerID, routeID string) (*domain.DeliveryRoute, error)
	ListRoutes(ctx context.Context, ownerID string, personnelID string) ([]domain.DeliveryRoute, error)
	UpdateRoute(ctx context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error)

	CreateChecklist(ctx context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error)
	GetChecklistByID(ctx context.Context, ownerID, checklistID string) (*domain.SafetyChecklist, error)
	ListChecklists(ctx context.Context, ownerID string, status string) ([]domain.SafetyChecklist, error)
	UpdateChecklist(ctx context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, ownerID string, filter domain.AuditFilter) ([]domain.AuditLog, int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, ownerID string) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
