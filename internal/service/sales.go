package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

const reportCacheTTL = 5 * time.Minute

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ownerID, err := s.requireCapability(ctx, domain.CapSaleCreate)
	if err != nil {
		return domain.Sale{}, err
	}

	if len(req.Items) == 0 {
		return domain.Sale{}, store.ErrValidation
	}
	if req.SaleType == "" {
		req.SaleType = domain.SaleRefill
	}
	if !domain.IsValidSaleType(req.SaleType) {
		return domain.Sale{}, store.ErrValidation
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PayCash
	}
	if !domain.IsValidPaymentMethod(req.PaymentMethod) {
		return domain.Sale{}, store.ErrValidation
	}
	if req.DiscountType == "" {
		req.DiscountType = domain.DiscountFixed
	}
	if req.DiscountType != domain.DiscountFixed && req.DiscountType != domain.DiscountPercentage {
		return domain.Sale{}, store.ErrValidation
	}
	if req.Discount < 0 || req.TaxRate < 0 || req.TaxRate > 100 || req.DeliveryCharges < 0 || req.PaidAmount < 0 {
		return domain.Sale{}, store.ErrValidation
	}
	if req.DiscountType == domain.DiscountPercentage && req.Discount > 100 {
		return domain.Sale{}, store.ErrValidation
	}
	if req.DeliveryRequired && strings.TrimSpace(req.DeliveryAddress) == "" {
		return domain.Sale{}, store.ErrValidation
	}

	customerType := domain.CustomerWalkIn
	if req.CustomerID != "" {
		customerType = domain.CustomerRegistered
	} else if req.PaymentMethod == domain.PayCredit {
		return domain.Sale{}, fmt.Errorf("%w: credit sale requires a registered customer", store.ErrValidation)
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity < 1 {
			return domain.Sale{}, store.ErrValidation
		}
		// UnitPrice -1 means no override; the store substitutes the catalog
		// price. An explicit zero (giveaway line) is kept as-is.
		line := domain.SaleItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: -1,
		}
		if item.UnitPrice != nil {
			if *item.UnitPrice < 0 {
				return domain.Sale{}, store.ErrValidation
			}
			line.UnitPrice = *item.UnitPrice
		}
		items = append(items, line)
	}

	sale := domain.Sale{
		ID:               xid.New("sale"),
		OwnerID:          ownerID,
		CustomerID:       req.CustomerID,
		CustomerType:     customerType,
		SaleType:         req.SaleType,
		Items:            items,
		Discount:         req.Discount,
		DiscountType:     req.DiscountType,
		TaxRate:          req.TaxRate,
		DeliveryCharges:  req.DeliveryCharges,
		PaymentMethod:    req.PaymentMethod,
		PaidAmount:       req.PaidAmount,
		DeliveryRequired: req.DeliveryRequired,
		DeliveryAddress:  strings.TrimSpace(req.DeliveryAddress),
		SoldBy:           actor.Username,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        time.Now().UTC(),
	}

	// New connections for registered customers get a pending safety checklist
	// created with the sale. Walk-ins have no premises to inspect.
	var checklist *domain.SafetyChecklist
	if req.SaleType == domain.SaleNewConnection && req.CustomerID != "" {
		checklist = &domain.SafetyChecklist{
			Type:      domain.ChecklistNewConnection,
			Items:     checklistTemplate(domain.ChecklistNewConnection),
			Status:    domain.ChecklistPending,
			CreatedBy: actor.Username,
		}
	}

	created, err := s.repo.CreateSale(ctx, sale, checklist)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_create", domain.ResourceSale, created.ID,
		fmt.Sprintf("invoice=%s,total=%d,payment=%s,type=%s", created.InvoiceNumber, created.Total, created.PaymentMethod, created.SaleType))

	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSaleRead)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSaleByID(ctx, ownerID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSaleRead)
	if err != nil {
		return nil, 0, err
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	return s.repo.ListSales(ctx, ownerID, filter)
}

func (s *Service) RecordPayment(ctx context.Context, saleID string, req domain.SalePaymentRequest) (domain.Sale, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapSalePayment)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.Amount < 1 {
		return domain.Sale{}, store.ErrValidation
	}
	if req.Method != "" && !domain.IsValidPaymentMethod(req.Method) {
		return domain.Sale{}, store.ErrValidation
	}

	sale, err := s.repo.RecordSalePayment(ctx, ownerID, saleID, req)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_payment", domain.ResourceSale, sale.ID,
		fmt.Sprintf("amount=%d,balance=%d,status=%s", req.Amount, sale.BalanceAmount, sale.PaymentStatus))

	return *sale, nil
}

func (s *Service) UpdateDeliveryStatus(ctx context.Context, saleID string, req domain.DeliveryStatusUpdateRequest) (domain.Sale, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapDeliveryWrite)
	if err != nil {
		return domain.Sale{}, err
	}
	if !domain.IsValidDeliveryStatus(req.Status) {
		return domain.Sale{}, store.ErrValidation
	}

	sale, err := s.repo.GetSaleByID(ctx, ownerID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !sale.DeliveryRequired {
		return domain.Sale{}, fmt.Errorf("%w: sale has no delivery", store.ErrConflict)
	}
	if sale.DeliveryStatus == domain.DeliveryDelivered || sale.DeliveryStatus == domain.DeliveryCancelled {
		return domain.Sale{}, fmt.Errorf("%w: delivery already %s", store.ErrConflict, sale.DeliveryStatus)
	}

	from := sale.DeliveryStatus
	sale.DeliveryStatus = req.Status
	if req.Status == domain.DeliveryDelivered {
		now := time.Now().UTC()
		sale.DeliveredAt = &now
	}

	saved, err := s.repo.UpdateSale(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_delivery_status", domain.ResourceSale, saved.ID,
		fmt.Sprintf("from=%s,to=%s", from, saved.DeliveryStatus))

	return *saved, nil
}

// SalesReport aggregates sales over [from, to) per owner. Results are cached
// briefly since the dashboard polls this endpoint.
func (s *Service) SalesReport(ctx context.Context, fromDate, toDate string) (domain.SalesReport, error) {
	_, ownerID, err := s.requireCapability(ctx, domain.CapReportRead)
	if err != nil {
		return domain.SalesReport{}, err
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -30)
	if strings.TrimSpace(fromDate) != "" {
		parsed, err := time.Parse("2006-01-02", fromDate)
		if err != nil {
			return domain.SalesReport{}, store.ErrValidation
		}
		from = parsed.UTC()
	}
	to := now.Add(time.Second)
	if strings.TrimSpace(toDate) != "" {
		parsed, err := time.Parse("2006-01-02", toDate)
		if err != nil {
			return domain.SalesReport{}, store.ErrValidation
		}
		to = parsed.UTC().Add(24 * time.Hour)
	}
	if !from.Before(to) {
		return domain.SalesReport{}, store.ErrValidation
	}

	cacheKey := fmt.Sprintf("report:%s:%s:%s", ownerID, from.Format("20060102"), to.Format("20060102"))
	if cached, ok, err := s.reports.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	}

	report, err := s.repo.GetSalesReport(ctx, ownerID, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	_ = s.reports.Set(ctx, cacheKey, report, reportCacheTTL)
	return *report, nil
}
