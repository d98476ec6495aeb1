package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lpgdepot/backend/internal/cache"
	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports cache.ReportCache
}

func New(repo store.Repository, reports cache.ReportCache) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}

	return &Service{
		repo:    repo,
		reports: reports,
	}
}

// ownerScope resolves the tenant and actor for the request. Staff and
// manager accounts act within their owner's tenant.
func (s *Service) ownerScope(ctx context.Context) (domain.Actor, string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, "", fmt.Errorf("authentication required")
	}
	ownerID := actor.OwnerID
	if ownerID == "" {
		ownerID = actor.ID
	}
	return actor, ownerID, nil
}

func (s *Service) requireCapability(ctx context.Context, capability domain.Capability) (domain.Actor, string, error) {
	actor, ownerID, err := s.ownerScope(ctx)
	if err != nil {
		return domain.Actor{}, "", err
	}
	if !domain.HasCapability(actor.Role, capability) {
		return domain.Actor{}, "", ErrForbidden
	}
	return actor, ownerID, nil
}

// ErrForbidden marks a capability check failure.
var ErrForbidden = fmt.Errorf("forbidden")

func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapProductRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, ownerID, activeOnly)
}

func (s *Service) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapProductRead)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLowStockProducts(ctx, ownerID)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapProductRead)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProductByID(ctx, ownerID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapProductWrite)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Price < 1 || req.CostPrice < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if req.ProductType == "" {
		req.ProductType = domain.ProductAccessory
	}
	if req.ProductType != domain.ProductCylinder && req.ProductType != domain.ProductAccessory {
		return domain.Product{}, store.ErrValidation
	}

	product := domain.Product{
		ID:          xid.New("prd"),
		OwnerID:     ownerID,
		Name:        req.Name,
		Brand:       req.Brand,
		Category:    req.Category,
		ProductType: req.ProductType,
		MinStock:    req.MinStock,
		MaxStock:    req.MaxStock,
		Price:       req.Price,
		CostPrice:   req.CostPrice,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	if req.ProductType == domain.ProductCylinder {
		if !domain.IsValidCapacity(req.CylinderType) {
			return domain.Product{}, store.ErrValidation
		}
		if req.FilledCount < 0 || req.EmptyCount < 0 {
			return domain.Product{}, store.ErrValidation
		}
		product.CylinderType = req.CylinderType
		product.CylinderStates = domain.CylinderStates{
			Empty:  req.EmptyCount,
			Filled: req.FilledCount,
		}
		product.Stock = req.FilledCount
	} else {
		if req.Stock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		product.Stock = req.Stock
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", domain.ResourceProduct, created.ID,
		fmt.Sprintf("name=%s,type=%s,price=%d,stock=%d", created.Name, created.ProductType, created.Price, created.Stock))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapProductWrite)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, ownerID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if *req.Price < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		if *req.CostPrice < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.CostPrice = *req.CostPrice
	}
	if req.MinStock != nil {
		updated.MinStock = *req.MinStock
	}
	if req.MaxStock != nil {
		updated.MaxStock = *req.MaxStock
	}
	if updated.ProductType == domain.ProductCylinder {
		if req.Filled != nil {
			if *req.Filled < 0 {
				return domain.Product{}, store.ErrValidation
			}
			updated.CylinderStates.Filled = *req.Filled
		}
		if req.Empty != nil {
			if *req.Empty < 0 {
				return domain.Product{}, store.ErrValidation
			}
			updated.CylinderStates.Empty = *req.Empty
		}
		updated.Stock = updated.CylinderStates.Filled
	} else if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.Stock = *req.Stock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", domain.ResourceProduct, saved.ID,
		fmt.Sprintf("active=%t,price=%d,stock=%d", saved.Active, saved.Price, saved.Stock))

	return *saved, nil
}

func (s *Service) logAudit(ctx context.Context, action string, resource domain.Resource, resourceID string, detail string) {
	actor, ownerID, err := s.ownerScope(ctx)
	if err != nil {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		OwnerID:    ownerID,
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s resource=%s/%s: %v", action, resource, resourceID, err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, int, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapAuditRead)
	if err != nil {
		return nil, 0, err
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Resource != "" && !domain.IsValidResource(filter.Resource) {
		return nil, 0, store.ErrValidation
	}
	return s.repo.ListAuditLogs(ctx, ownerID, filter)
}
