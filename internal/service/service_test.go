package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lpgdepot/backend/internal/cache"
	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopReportCache{})
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		ID:       "usr-owner-seed",
		Username: "owner",
		Role:     domain.RoleOwner,
		OwnerID:  "usr-owner-seed",
	})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		ID:       "usr-staff-seed",
		Username: "staff",
		Role:     domain.RoleStaff,
		OwnerID:  "usr-owner-seed",
	})
}

func TestCreateSaleComputesTotals(t *testing.T) {
	svc := newTestService()

	sale, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items:           []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 2}},
		SaleType:        domain.SaleRefill,
		PaymentMethod:   domain.PayCash,
		PaidAmount:      2129,
		TaxRate:         5,
		Discount:        10,
		DiscountType:    domain.DiscountPercentage,
		DeliveryCharges: 50,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if sale.Subtotal != 2200 {
		t.Fatalf("expected subtotal 2200, got %d", sale.Subtotal)
	}
	if sale.DiscountAmount != 220 {
		t.Fatalf("expected discount 220, got %d", sale.DiscountAmount)
	}
	if sale.Tax != 99 {
		t.Fatalf("expected tax 99, got %d", sale.Tax)
	}
	if sale.Total != 2129 {
		t.Fatalf("expected total 2129, got %d", sale.Total)
	}
	if sale.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected paid status, got %s", sale.PaymentStatus)
	}
}

func TestCreateSaleCapsFixedDiscountAtSubtotal(t *testing.T) {
	svc := newTestService()

	sale, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-hose-01", Quantity: 1}},
		SaleType:      domain.SaleAccessory,
		PaymentMethod: domain.PayCash,
		Discount:      9999,
		DiscountType:  domain.DiscountFixed,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.DiscountAmount != sale.Subtotal {
		t.Fatalf("expected discount capped at subtotal %d, got %d", sale.Subtotal, sale.DiscountAmount)
	}
	if sale.Total != 0 {
		t.Fatalf("expected zero total, got %d", sale.Total)
	}
}

func TestCreateSaleSequencesInvoiceNumbers(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	first, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}

	prefix := domain.InvoicePrefix(time.Now().UTC())
	if first.InvoiceNumber != prefix+"001" {
		t.Fatalf("expected first invoice %s001, got %s", prefix, first.InvoiceNumber)
	}
	if second.InvoiceNumber != prefix+"002" {
		t.Fatalf("expected second invoice %s002, got %s", prefix, second.InvoiceNumber)
	}
}

func TestCreateSaleReservesLowestSerialsFirst(t *testing.T) {
	svc := newTestService()

	sale, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items:    []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 2}},
		SaleType: domain.SaleRefill,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	serials := sale.Items[0].SerialNumbers
	if len(serials) != 2 {
		t.Fatalf("expected 2 reserved serials, got %d", len(serials))
	}
	if serials[0] != "CYL-2024-000001" || serials[1] != "CYL-2024-000002" {
		t.Fatalf("expected lowest serials first, got %v", serials)
	}

	cyl, err := svc.GetCylinder(ownerCtx(), serials[0])
	if err != nil {
		t.Fatalf("get cylinder failed: %v", err)
	}
	if cyl.Status != domain.CylinderWithCustomer {
		t.Fatalf("expected reserved cylinder with-customer, got %s", cyl.Status)
	}
}

func TestCreateSaleRejectsInsufficientInventory(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 100}},
	})
	if !errors.Is(err, store.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}

	// The failed sale must not leave partial state behind.
	product, err := svc.GetProduct(ctx, "prd-dom-14")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.CylinderStates.Filled != 40 || product.Stock != 40 {
		t.Fatalf("expected inventory untouched after failed sale, got %+v", product.CylinderStates)
	}
}

func TestCreateSaleRequiresRegistryCylinders(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// The 11.8kg product counts 40 filled units but the registry only holds
	// five matching serials, so the registry is the binding constraint.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 6}},
	})
	if !errors.Is(err, store.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory for registry shortfall, got %v", err)
	}
	var shortfall *store.InsufficientInventoryError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected typed shortfall error, got %v", err)
	}
	if shortfall.Requested != 6 || shortfall.Available != 5 {
		t.Fatalf("expected shortfall 6/5, got %d/%d", shortfall.Requested, shortfall.Available)
	}

	product, err := svc.GetProduct(ctx, "prd-dom-14")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.CylinderStates.Filled != 40 || product.Stock != 40 {
		t.Fatalf("expected counters untouched after failed sale, got %+v", product.CylinderStates)
	}
	cyl, err := svc.GetCylinder(ctx, "CYL-2024-000001")
	if err != nil {
		t.Fatalf("get cylinder failed: %v", err)
	}
	if cyl.Status != domain.CylinderInStock {
		t.Fatalf("expected cylinder still in stock, got %s", cyl.Status)
	}
}

func TestConcurrentSalesReserveDistinctCylinders(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// Three 15kg cylinders are registered; four competing sales of one unit
	// each must yield exactly three winners holding disjoint serials.
	const attempts = 4
	var (
		mu       sync.Mutex
		serials  []string
		failures int
	)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
				Items: []domain.SaleItemRequest{{ProductID: "prd-dom-15", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, store.ErrInsufficientInventory) {
					t.Errorf("unexpected sale error: %v", err)
				}
				failures++
				return
			}
			serials = append(serials, sale.Items[0].SerialNumbers...)
		}()
	}
	wg.Wait()

	if failures != 1 {
		t.Fatalf("expected exactly 1 losing sale, got %d", failures)
	}
	if len(serials) != 3 {
		t.Fatalf("expected 3 reserved serials, got %d", len(serials))
	}
	seen := make(map[string]bool, len(serials))
	for _, serial := range serials {
		if seen[serial] {
			t.Fatalf("serial %s reserved by two sales", serial)
		}
		seen[serial] = true
	}
}

func TestCreateSaleAcceptsOverpayment(t *testing.T) {
	svc := newTestService()

	sale, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items:      []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
		PaidAmount: 500,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.Total != 450 {
		t.Fatalf("expected total 450, got %d", sale.Total)
	}
	if sale.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected paid status for overpayment, got %s", sale.PaymentStatus)
	}
	if sale.BalanceAmount != 0 {
		t.Fatalf("expected zero balance, got %d", sale.BalanceAmount)
	}
	if sale.PaidAmount != 500 {
		t.Fatalf("expected recorded paid amount 500, got %d", sale.PaidAmount)
	}
}

func TestCreateSaleHonorsZeroUnitPrice(t *testing.T) {
	svc := newTestService()

	free := int64(0)
	sale, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1, UnitPrice: &free}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.Items[0].UnitPrice != 0 || sale.Subtotal != 0 || sale.Total != 0 {
		t.Fatalf("expected free line item, got unit %d subtotal %d total %d",
			sale.Items[0].UnitPrice, sale.Subtotal, sale.Total)
	}
}

func TestCreditSaleRequiresRegisteredCustomer(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSale(ownerCtx(), domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
		PaymentMethod: domain.PayCredit,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for walk-in credit sale, got %v", err)
	}
}

func TestCreditSaleRespectsCreditLimit(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	// Seed customer has a 5000 limit; 5 cylinders at 1100 exceed it.
	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 5}},
		CustomerID:    "cust-seed-1",
		PaymentMethod: domain.PayCredit,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for over-limit credit sale, got %v", err)
	}

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 2}},
		CustomerID:    "cust-seed-1",
		PaymentMethod: domain.PayCredit,
	})
	if err != nil {
		t.Fatalf("within-limit credit sale failed: %v", err)
	}

	customer, err := svc.GetCustomer(ctx, "cust-seed-1")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.CurrentCredit != sale.BalanceAmount {
		t.Fatalf("expected current credit %d, got %d", sale.BalanceAmount, customer.CurrentCredit)
	}
}

func TestSaleAccruesLoyaltyAndRefills(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 2}},
		CustomerID:    "cust-seed-1",
		SaleType:      domain.SaleRefill,
		PaymentMethod: domain.PayCash,
		PaidAmount:    2200,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	customer, err := svc.GetCustomer(ctx, "cust-seed-1")
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.LoyaltyPoints != sale.Total/100 {
		t.Fatalf("expected %d points, got %d", sale.Total/100, customer.LoyaltyPoints)
	}
	if customer.TotalSpent != sale.Total {
		t.Fatalf("expected total spent %d, got %d", sale.Total, customer.TotalSpent)
	}
	if customer.TotalRefills != 2 {
		t.Fatalf("expected 2 refills, got %d", customer.TotalRefills)
	}
}

func TestLoyaltyTierBoundaries(t *testing.T) {
	for _, tc := range []struct {
		points int64
		tier   string
	}{
		{0, domain.TierBronze},
		{499, domain.TierBronze},
		{500, domain.TierSilver},
		{999, domain.TierSilver},
		{1000, domain.TierGold},
		{2000, domain.TierPlatinum},
	} {
		if got := domain.LoyaltyTierFor(tc.points); got != tc.tier {
			t.Fatalf("expected tier %s for %d points, got %s", tc.tier, tc.points, got)
		}
	}
}

func TestNewConnectionSaleCreatesChecklist(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:      []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 1}},
		CustomerID: "cust-seed-1",
		SaleType:   domain.SaleNewConnection,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	cl, err := svc.GetChecklistForSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("expected checklist for new connection, got %v", err)
	}
	if cl.Status != domain.ChecklistPending {
		t.Fatalf("expected pending checklist, got %s", cl.Status)
	}
	if cl.Type != domain.ChecklistNewConnection || len(cl.Items) == 0 {
		t.Fatalf("expected populated new-connection checklist, got %+v", cl)
	}
}

func TestWalkInNewConnectionSaleHasNoChecklist(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:    []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 1}},
		SaleType: domain.SaleNewConnection,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if _, err := svc.GetChecklistForSale(ctx, sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no checklist for walk-in new connection, got %v", err)
	}
}

func TestRecordPaymentMovesStatusToPaid(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:      []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 1}},
		CustomerID: "cust-seed-1",
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.PaymentStatus != domain.PaymentPending {
		t.Fatalf("expected pending status, got %s", sale.PaymentStatus)
	}

	partial, err := svc.RecordPayment(ctx, sale.ID, domain.SalePaymentRequest{Amount: 500})
	if err != nil {
		t.Fatalf("partial payment failed: %v", err)
	}
	if partial.PaymentStatus != domain.PaymentPartial {
		t.Fatalf("expected partial status, got %s", partial.PaymentStatus)
	}

	paid, err := svc.RecordPayment(ctx, sale.ID, domain.SalePaymentRequest{Amount: partial.BalanceAmount})
	if err != nil {
		t.Fatalf("final payment failed: %v", err)
	}
	if paid.PaymentStatus != domain.PaymentPaid || paid.BalanceAmount != 0 {
		t.Fatalf("expected settled sale, got status %s balance %d", paid.PaymentStatus, paid.BalanceAmount)
	}

	_, err = svc.RecordPayment(ctx, sale.ID, domain.SalePaymentRequest{Amount: 1})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected overpayment to be rejected, got %v", err)
	}
}

func TestStaffCannotCreateProduct(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(staffCtx(), domain.ProductCreateRequest{
		Name:        "Gas Stove Lighter",
		Category:    "accessory",
		ProductType: domain.ProductAccessory,
		Stock:       10,
		Price:       120,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for staff product create, got %v", err)
	}
}

func TestStaffCannotReadAuditLogs(t *testing.T) {
	svc := newTestService()

	_, _, err := svc.ListAuditLogs(staffCtx(), domain.AuditFilter{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for staff audit read, got %v", err)
	}
}

func TestCondemnedCylinderIsTerminal(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	cyl, err := svc.UpdateCylinderStatus(ctx, "CYL-2024-000003", domain.CylinderStatusUpdateRequest{
		Status: domain.CylinderCondemned,
		Note:   "failed hydro test",
	})
	if err != nil {
		t.Fatalf("condemn failed: %v", err)
	}
	if cyl.Active {
		t.Fatalf("expected condemned cylinder to be inactive")
	}

	_, err = svc.UpdateCylinderStatus(ctx, "CYL-2024-000003", domain.CylinderStatusUpdateRequest{
		Status: domain.CylinderInStock,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict when leaving condemned, got %v", err)
	}
}

func TestRecordInspectionSetsNextDue(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	cyl, err := svc.RecordInspection(ctx, "CYL-2024-000004", domain.InspectionRequest{
		Date:      "2026-01-15",
		Type:      domain.InspectionHydrostatic,
		Result:    domain.InspectionPass,
		Inspector: "R. Sharma",
	})
	if err != nil {
		t.Fatalf("record inspection failed: %v", err)
	}
	want := time.Date(2031, 1, 15, 0, 0, 0, 0, time.UTC)
	if !cyl.NextTestDue.Equal(want) {
		t.Fatalf("expected next due %s, got %s", want, cyl.NextTestDue)
	}

	failed, err := svc.RecordInspection(ctx, "CYL-2024-000005", domain.InspectionRequest{
		Type:      domain.InspectionVisual,
		Result:    domain.InspectionFail,
		Inspector: "R. Sharma",
	})
	if err != nil {
		t.Fatalf("record failed inspection: %v", err)
	}
	if failed.Status != domain.CylinderUnderInspection {
		t.Fatalf("expected failed cylinder under-inspection, got %s", failed.Status)
	}
}

func TestRegisterCylinderValidatesSerialFormat(t *testing.T) {
	svc := newTestService()

	_, err := svc.RegisterCylinder(ownerCtx(), domain.CylinderRegisterRequest{
		SerialNumber:      "BADSERIAL",
		Capacity:          domain.Capacity15kg,
		ManufacturingDate: "2024-06-01",
		TareWeight:        16.1,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for bad serial, got %v", err)
	}
}

func TestAssignDeliveriesAndCompleteRoute(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items:            []domain.SaleItemRequest{{ProductID: "prd-dom-14", Quantity: 1}},
		CustomerID:       "cust-seed-1",
		PaidAmount:       1100,
		DeliveryRequired: true,
		DeliveryAddress:  "14 Gandhi Road, Chennai",
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.DeliveryStatus != domain.DeliveryPending {
		t.Fatalf("expected pending delivery, got %s", sale.DeliveryStatus)
	}

	personnel, err := svc.CreatePersonnel(ctx, domain.PersonnelCreateRequest{
		Name:  "Suresh",
		Phone: "9876500001",
	})
	if err != nil {
		t.Fatalf("create personnel failed: %v", err)
	}

	route, err := svc.AssignDeliveries(ctx, domain.DeliveryAssignRequest{
		PersonnelID: personnel.ID,
		SaleIDs:     []string{sale.ID},
	})
	if err != nil {
		t.Fatalf("assign deliveries failed: %v", err)
	}
	if len(route.Stops) != 1 || route.Status != domain.RouteAssigned {
		t.Fatalf("unexpected route %+v", route)
	}

	scheduled, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if scheduled.DeliveryStatus != domain.DeliveryScheduled {
		t.Fatalf("expected scheduled delivery, got %s", scheduled.DeliveryStatus)
	}

	completed, err := svc.UpdateRouteStop(ctx, route.ID, sale.ID, domain.RouteStopUpdateRequest{
		Status: domain.StopDelivered,
	})
	if err != nil {
		t.Fatalf("update route stop failed: %v", err)
	}
	if completed.Status != domain.RouteCompleted {
		t.Fatalf("expected completed route, got %s", completed.Status)
	}

	delivered, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if delivered.DeliveryStatus != domain.DeliveryDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered sale, got %s", delivered.DeliveryStatus)
	}

	released, err := svc.ListPersonnel(ctx)
	if err != nil {
		t.Fatalf("list personnel failed: %v", err)
	}
	for _, p := range released {
		if p.ID == personnel.ID && p.Availability != domain.PersonnelAvailable {
			t.Fatalf("expected personnel released, got %s", p.Availability)
		}
	}
}

func TestAcknowledgeRequiresAllItemsChecked(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	cl, err := svc.CreateChecklist(ctx, domain.ChecklistCreateRequest{
		Type:       domain.ChecklistRefill,
		CustomerID: "cust-seed-1",
	})
	if err != nil {
		t.Fatalf("create checklist failed: %v", err)
	}

	_, err = svc.AcknowledgeChecklist(ctx, cl.ID, domain.AcknowledgeRequest{
		Signature:    "data:image/png;base64,c2ln",
		CustomerName: "Ravi Kumar",
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict with unchecked items, got %v", err)
	}

	for _, item := range cl.Items {
		if _, err := svc.CheckChecklistItem(ctx, cl.ID, item.ID, domain.ChecklistItemCheckRequest{}); err != nil {
			t.Fatalf("check item failed: %v", err)
		}
	}

	done, err := svc.AcknowledgeChecklist(ctx, cl.ID, domain.AcknowledgeRequest{
		Signature:    "data:image/png;base64,c2ln",
		CustomerName: "Ravi Kumar",
	})
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if done.Status != domain.ChecklistCompleted || done.Acknowledgment == nil {
		t.Fatalf("expected completed checklist with acknowledgment")
	}
}

func TestSalesReportAggregates(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
			Items:      []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
			PaidAmount: 450,
		}); err != nil {
			t.Fatalf("create sale #%d failed: %v", i, err)
		}
	}

	report, err := svc.SalesReport(ctx, "", "")
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}
	if report.TotalSales != 2 || report.TotalRevenue != 900 {
		t.Fatalf("expected 2 sales revenue 900, got %d/%d", report.TotalSales, report.TotalRevenue)
	}
	if report.AvgSaleValue != 450 {
		t.Fatalf("expected avg 450, got %d", report.AvgSaleValue)
	}
	found := false
	for _, b := range report.ByPaymentMethod {
		if b.Key == string(domain.PayCash) && b.Count == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cash bucket with 2 sales, got %+v", report.ByPaymentMethod)
	}
}

func TestSoftDeletedProductCannotBeSold(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	inactive := false
	if _, err := svc.UpdateProduct(ctx, "prd-reg-01", domain.ProductUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate product failed: %v", err)
	}

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for inactive product sale, got %v", err)
	}
}

func TestAuditTrailRecordsSaleCreation(t *testing.T) {
	svc := newTestService()
	ctx := ownerCtx()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-reg-01", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	logs, total, err := svc.ListAuditLogs(ctx, domain.AuditFilter{Resource: domain.ResourceSale})
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 sale audit entry, got %d", total)
	}
	if logs[0].ResourceID != sale.ID || logs[0].Action != "sale_create" {
		t.Fatalf("unexpected audit entry %+v", logs[0])
	}
	if !strings.Contains(logs[0].Detail, sale.InvoiceNumber) {
		t.Fatalf("expected invoice in audit detail, got %q", logs[0].Detail)
	}
}
