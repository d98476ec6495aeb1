package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
)

func TestCreateSaleDecrementsInventoryAndReservesCylinders(t *testing.T) {
	databaseURL := os.Getenv("LPGDEPOT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LPGDEPOT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	ownerID := fmt.Sprintf("usr-sale-it-%d", stamp)
	productID := fmt.Sprintf("prd-sale-it-%d", stamp)
	serialA := fmt.Sprintf("CYL-IT-%d-A", stamp)
	serialB := fmt.Sprintf("CYL-IT-%d-B", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM safety_checklists WHERE owner_id = $1`, ownerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE owner_id = $1`, ownerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cylinders WHERE owner_id = $1`, ownerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE owner_id = $1`, ownerID)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:             productID,
		OwnerID:        ownerID,
		Name:           "Domestic Cylinder 11.8kg",
		Brand:          "Bharat",
		Category:       "domestic",
		ProductType:    domain.ProductCylinder,
		CylinderType:   domain.Capacity11_8kg,
		CylinderStates: domain.CylinderStates{Empty: 2, Filled: 5},
		Stock:          5,
		MinStock:       1,
		MaxStock:       50,
		Price:          1100,
		CostPrice:      900,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	for _, serial := range []string{serialB, serialA} {
		if _, err := s.RegisterCylinder(ctx, domain.Cylinder{
			SerialNumber:      serial,
			OwnerID:           ownerID,
			Capacity:          domain.Capacity11_8kg,
			Manufacturer:      "Bharat",
			ManufacturingDate: time.Now().UTC().AddDate(-1, 0, 0),
			TareWeight:        15.3,
			NextTestDue:       time.Now().UTC().AddDate(1, 0, 0),
		}); err != nil {
			t.Fatalf("seed cylinder %s: %v", serial, err)
		}
	}

	sale, err := s.CreateSale(ctx, domain.Sale{
		OwnerID:       ownerID,
		CustomerType:  domain.CustomerWalkIn,
		SaleType:      domain.SaleRefill,
		PaymentMethod: domain.PayCash,
		PaidAmount:    2200,
		SoldBy:        "staff",
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 2, UnitPrice: 1100},
		},
	}, nil)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if sale.Total != 2200 || sale.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("expected paid sale of 2200, got total %d status %s", sale.Total, sale.PaymentStatus)
	}
	prefix := domain.InvoicePrefix(sale.CreatedAt)
	if !strings.HasPrefix(sale.InvoiceNumber, prefix) {
		t.Fatalf("expected invoice prefix %s, got %s", prefix, sale.InvoiceNumber)
	}
	if len(sale.Items) != 1 || len(sale.Items[0].SerialNumbers) != 2 {
		t.Fatalf("expected 2 reserved serials, got %+v", sale.Items)
	}
	if sale.Items[0].SerialNumbers[0] != serialA {
		t.Fatalf("expected lowest serial %s first, got %s", serialA, sale.Items[0].SerialNumbers[0])
	}

	product, err := s.GetProductByID(ctx, ownerID, productID)
	if err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.CylinderStates.Filled != 3 || product.CylinderStates.Sold != 2 || product.Stock != 3 {
		t.Fatalf("expected filled 3 sold 2 stock 3, got %+v", product.CylinderStates)
	}

	cyl, err := s.GetCylinderBySerial(ctx, ownerID, serialA)
	if err != nil {
		t.Fatalf("reload cylinder: %v", err)
	}
	if cyl.Status != domain.CylinderWithCustomer {
		t.Fatalf("expected cylinder with-customer, got %s", cyl.Status)
	}
	if len(cyl.History) != 1 || cyl.History[0].Action != "issued" {
		t.Fatalf("expected issued history event, got %+v", cyl.History)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		OwnerID:       ownerID,
		CustomerType:  domain.CustomerWalkIn,
		SaleType:      domain.SaleRefill,
		PaymentMethod: domain.PayCash,
		SoldBy:        "staff",
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 10, UnitPrice: 1100},
		},
	}, nil)
	if !errors.Is(err, store.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}

	// Filled counter still covers two units but both registered cylinders are
	// out with the first sale, so the registry blocks this one.
	_, err = s.CreateSale(ctx, domain.Sale{
		OwnerID:       ownerID,
		CustomerType:  domain.CustomerWalkIn,
		SaleType:      domain.SaleRefill,
		PaymentMethod: domain.PayCash,
		SoldBy:        "staff",
		Items: []domain.SaleItem{
			{ProductID: productID, Quantity: 2, UnitPrice: 1100},
		},
	}, nil)
	var shortfall *store.InsufficientInventoryError
	if !errors.As(err, &shortfall) {
		t.Fatalf("expected cylinder shortfall error, got %v", err)
	}
	if shortfall.Requested != 2 || shortfall.Available != 0 {
		t.Fatalf("expected shortfall 2/0, got %d/%d", shortfall.Requested, shortfall.Available)
	}

	product, err = s.GetProductByID(ctx, ownerID, productID)
	if err != nil {
		t.Fatalf("reload product after failed sale: %v", err)
	}
	if product.CylinderStates.Filled != 3 || product.Stock != 3 {
		t.Fatalf("failed sale must not change inventory, got %+v", product.CylinderStates)
	}
}
