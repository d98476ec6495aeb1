package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, brand, category, product_type, COALESCE(cylinder_type,''),
			empty_count, filled_count, sold_count, stock, min_stock, max_stock,
			price, cost_price, active, created_at
		FROM products
		WHERE owner_id = $1 AND ($2 = false OR active = true)
		ORDER BY category, name
	`, ownerID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListLowStockProducts(ctx context.Context, ownerID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, brand, category, product_type, COALESCE(cylinder_type,''),
			empty_count, filled_count, sold_count, stock, min_stock, max_stock,
			price, cost_price, active, created_at
		FROM products
		WHERE owner_id = $1 AND active = true AND stock <= min_stock
		ORDER BY name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 16)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" || product.Price < 1 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, owner_id, name, brand, category, product_type, cylinder_type,
			empty_count, filled_count, sold_count, stock, min_stock, max_stock,
			price, cost_price, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
	`, product.ID, product.OwnerID, product.Name, product.Brand, product.Category,
		product.ProductType, nullIfEmpty(string(product.CylinderType)),
		product.CylinderStates.Empty, product.CylinderStates.Filled, product.CylinderStates.Sold,
		product.Stock, product.MinStock, product.MaxStock,
		product.Price, product.CostPrice, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, ownerID, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, brand, category, product_type, COALESCE(cylinder_type,''),
			empty_count, filled_count, sold_count, stock, min_stock, max_stock,
			price, cost_price, active, created_at
		FROM products
		WHERE id = $1 AND owner_id = $2
	`, productID, ownerID)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price < 1 {
		return nil, store.ErrValidation
	}
	if product.Stock < 0 || product.CylinderStates.Empty < 0 || product.CylinderStates.Filled < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, brand = $4, category = $5, cylinder_type = $6,
			empty_count = $7, filled_count = $8, sold_count = $9,
			stock = $10, min_stock = $11, max_stock = $12,
			price = $13, cost_price = $14, active = $15, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, product.ID, product.OwnerID, product.Name, product.Brand, product.Category,
		nullIfEmpty(string(product.CylinderType)),
		product.CylinderStates.Empty, product.CylinderStates.Filled, product.CylinderStates.Sold,
		product.Stock, product.MinStock, product.MaxStock,
		product.Price, product.CostPrice, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) RegisterCylinder(ctx context.Context, cyl domain.Cylinder) (*domain.Cylinder, error) {
	if cyl.SerialNumber == "" || cyl.OwnerID == "" {
		return nil, store.ErrValidation
	}
	if cyl.Status == "" {
		cyl.Status = domain.CylinderInStock
	}
	if cyl.Location.Type == "" {
		cyl.Location = domain.CylinderLocation{Type: domain.LocationWarehouse}
	}
	if cyl.CreatedAt.IsZero() {
		cyl.CreatedAt = time.Now().UTC()
	}
	cyl.Active = true

	historyJSON, err := json.Marshal(cyl.History)
	if err != nil {
		return nil, err
	}
	inspectionsJSON, err := json.Marshal(cyl.Inspections)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cylinders (
			serial_number, owner_id, capacity, manufacturer, manufacturing_date,
			tare_weight, certification_number, next_test_due, status,
			location_type, location_customer_id, history, inspections,
			active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
	`, cyl.SerialNumber, cyl.OwnerID, cyl.Capacity, cyl.Manufacturer, cyl.ManufacturingDate,
		cyl.TareWeight, nullIfEmpty(cyl.CertificationNumber), cyl.NextTestDue, cyl.Status,
		cyl.Location.Type, nullIfEmpty(cyl.Location.CustomerID), historyJSON, inspectionsJSON,
		cyl.Active, cyl.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := cyl
	return &created, nil
}

func (s *Store) GetCylinderBySerial(ctx context.Context, ownerID, serial string) (*domain.Cylinder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT serial_number, owner_id, capacity, manufacturer, manufacturing_date,
			tare_weight, COALESCE(certification_number,''), next_test_due, status,
			location_type, COALESCE(location_customer_id,''), history, inspections,
			active, created_at
		FROM cylinders
		WHERE serial_number = $1 AND owner_id = $2
	`, serial, ownerID)

	cyl, err := scanCylinder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &cyl, nil
}

func (s *Store) ListCylinders(ctx context.Context, ownerID string, filter domain.CylinderFilter) ([]domain.Cylinder, int, error) {
	search := strings.TrimSpace(filter.Search)
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM cylinders
		WHERE owner_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR capacity = $3)
			AND ($4 = '' OR serial_number ILIKE '%' || $4 || '%')
	`, ownerID, string(filter.Status), string(filter.Capacity), search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = total
		if limit < 1 {
			limit = 1
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT serial_number, owner_id, capacity, manufacturer, manufacturing_date,
			tare_weight, COALESCE(certification_number,''), next_test_due, status,
			location_type, COALESCE(location_customer_id,''), history, inspections,
			active, created_at
		FROM cylinders
		WHERE owner_id = $1
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR capacity = $3)
			AND ($4 = '' OR serial_number ILIKE '%' || $4 || '%')
		ORDER BY serial_number
		LIMIT $5 OFFSET $6
	`, ownerID, string(filter.Status), string(filter.Capacity), search, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	cylinders := make([]domain.Cylinder, 0, limit)
	for rows.Next() {
		cyl, err := scanCylinder(rows)
		if err != nil {
			return nil, 0, err
		}
		cylinders = append(cylinders, cyl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return cylinders, total, nil
}

func (s *Store) ListCylindersDueInspection(ctx context.Context, ownerID string, before time.Time) ([]domain.Cylinder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial_number, owner_id, capacity, manufacturer, manufacturing_date,
			tare_weight, COALESCE(certification_number,''), next_test_due, status,
			location_type, COALESCE(location_customer_id,''), history, inspections,
			active, created_at
		FROM cylinders
		WHERE owner_id = $1 AND active = true AND status <> $2 AND next_test_due < $3
		ORDER BY next_test_due, serial_number
	`, ownerID, domain.CylinderCondemned, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cylinders := make([]domain.Cylinder, 0, 32)
	for rows.Next() {
		cyl, err := scanCylinder(rows)
		if err != nil {
			return nil, err
		}
		cylinders = append(cylinders, cyl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cylinders, nil
}

func (s *Store) UpdateCylinder(ctx context.Context, cyl domain.Cylinder) (*domain.Cylinder, error) {
	historyJSON, err := json.Marshal(cyl.History)
	if err != nil {
		return nil, err
	}
	inspectionsJSON, err := json.Marshal(cyl.Inspections)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cylinders
		SET capacity = $3, manufacturer = $4, manufacturing_date = $5,
			tare_weight = $6, certification_number = $7, next_test_due = $8,
			status = $9, location_type = $10, location_customer_id = $11,
			history = $12, inspections = $13, active = $14, updated_at = now()
		WHERE serial_number = $1 AND owner_id = $2
	`, cyl.SerialNumber, cyl.OwnerID, cyl.Capacity, cyl.Manufacturer, cyl.ManufacturingDate,
		cyl.TareWeight, nullIfEmpty(cyl.CertificationNumber), cyl.NextTestDue,
		cyl.Status, cyl.Location.Type, nullIfEmpty(cyl.Location.CustomerID),
		historyJSON, inspectionsJSON, cyl.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := cyl
	return &updated, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.LoyaltyTier = domain.LoyaltyTierFor(customer.LoyaltyPoints)
	customer.Active = true

	premisesJSON, err := json.Marshal(customer.Premises)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, owner_id, name, phone, email, premises,
			loyalty_points, loyalty_tier, total_spent, total_refills,
			credit_limit, current_credit, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
	`, customer.ID, customer.OwnerID, customer.Name, customer.Phone, nullIfEmpty(customer.Email),
		premisesJSON, customer.LoyaltyPoints, customer.LoyaltyTier, customer.TotalSpent,
		customer.TotalRefills, customer.CreditLimit, customer.CurrentCredit,
		customer.Active, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, ownerID, customerID string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(email,''), premises,
			loyalty_points, loyalty_tier, total_spent, total_refills,
			credit_limit, current_credit, active, created_at
		FROM customers
		WHERE id = $1 AND owner_id = $2
	`, customerID, ownerID)

	customer, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string, search string, page, limit int) ([]domain.Customer, int, error) {
	search = strings.TrimSpace(search)
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM customers
		WHERE owner_id = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR phone LIKE '%' || $2 || '%')
	`, ownerID, search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = total
		if limit < 1 {
			limit = 1
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(email,''), premises,
			loyalty_points, loyalty_tier, total_spent, total_refills,
			credit_limit, current_credit, active, created_at
		FROM customers
		WHERE owner_id = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR phone LIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3 OFFSET $4
	`, ownerID, search, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	customer.LoyaltyTier = domain.LoyaltyTierFor(customer.LoyaltyPoints)

	premisesJSON, err := json.Marshal(customer.Premises)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $3, phone = $4, email = $5, premises = $6,
			loyalty_points = $7, loyalty_tier = $8, total_spent = $9, total_refills = $10,
			credit_limit = $11, current_credit = $12, active = $13, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, customer.ID, customer.OwnerID, customer.Name, customer.Phone, nullIfEmpty(customer.Email),
		premisesJSON, customer.LoyaltyPoints, customer.LoyaltyTier, customer.TotalSpent,
		customer.TotalRefills, customer.CreditLimit, customer.CurrentCredit, customer.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := customer
	return &updated, nil
}

// CreateSale runs the sale pipeline in a serializable transaction. Invoice
// numbering and concurrent inventory updates can collide under load, so the
// transaction is retried a few times before giving up with a conflict.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, checklist *domain.SafetyChecklist) (*domain.Sale, error) {
	var saved *domain.Sale
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		saved, err = s.createSale(ctx, sale, checklist)
		if err == nil {
			return saved, nil
		}
		if !isUniqueViolation(err) && !isSerializationFailure(err) {
			return nil, err
		}
	}
	return nil, store.ErrConflict
}

func (s *Store) createSale(ctx context.Context, sale domain.Sale, checklist *domain.SafetyChecklist) (*domain.Sale, error) {
	if sale.OwnerID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	if sale.Discount < 0 || sale.TaxRate < 0 || sale.TaxRate > 100 || sale.DeliveryCharges < 0 {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	subtotal := int64(0)
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}

		var (
			productName  string
			productType  domain.ProductType
			cylinderType string
			filled       int
			stock        int
			price        int64
			active       bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT name, product_type, COALESCE(cylinder_type,''), filled_count, stock, price, active
			FROM products
			WHERE id = $1 AND owner_id = $2
			FOR UPDATE
		`, item.ProductID, sale.OwnerID).Scan(&productName, &productType, &cylinderType, &filled, &stock, &price, &active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if !active {
			return nil, store.ErrNotFound
		}

		// A negative unit price marks lines without a caller override.
		unitPrice := item.UnitPrice
		if unitPrice < 0 {
			unitPrice = price
		}

		line := domain.SaleItem{
			ProductID:    item.ProductID,
			ProductName:  productName,
			ProductType:  productType,
			CylinderType: domain.CylinderCapacity(cylinderType),
			Quantity:     item.Quantity,
			UnitPrice:    unitPrice,
			Subtotal:     unitPrice * int64(item.Quantity),
		}

		if productType == domain.ProductCylinder {
			if filled < item.Quantity {
				return nil, &store.InsufficientInventoryError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: filled,
				}
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET filled_count = filled_count - $3,
					sold_count = sold_count + $3,
					stock = stock - $3,
					updated_at = now()
				WHERE id = $1 AND owner_id = $2 AND filled_count >= $3
			`, item.ProductID, sale.OwnerID, item.Quantity)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, &store.InsufficientInventoryError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: filled,
				}
			}
			serials, err := reserveCylinders(ctx, tx, sale, item.ProductID, domain.CylinderCapacity(cylinderType), item.Quantity, now)
			if err != nil {
				return nil, err
			}
			line.SerialNumbers = serials
		} else {
			if stock < item.Quantity {
				return nil, &store.InsufficientInventoryError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: stock,
				}
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $3, updated_at = now()
				WHERE id = $1 AND owner_id = $2 AND stock >= $3
			`, item.ProductID, sale.OwnerID, item.Quantity)
			if err != nil {
				return nil, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			if affected == 0 {
				return nil, &store.InsufficientInventoryError{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: stock,
				}
			}
		}

		items = append(items, line)
		subtotal += line.Subtotal
	}

	discountAmount := int64(0)
	if sale.DiscountType == domain.DiscountPercentage {
		discountAmount = int64(math.Round(float64(subtotal) * float64(sale.Discount) / 100))
	} else {
		discountAmount = sale.Discount
		if discountAmount > subtotal {
			discountAmount = subtotal
		}
	}
	taxBase := subtotal - discountAmount
	tax := int64(math.Round(float64(taxBase) * sale.TaxRate / 100))
	total := taxBase + tax + sale.DeliveryCharges

	if sale.PaidAmount < 0 {
		return nil, store.ErrValidation
	}
	// Overpayment is accepted; the balance never goes below zero.
	balance := total - sale.PaidAmount
	if balance < 0 {
		balance = 0
	}

	switch {
	case balance == 0:
		sale.PaymentStatus = domain.PaymentPaid
	case sale.PaidAmount > 0:
		sale.PaymentStatus = domain.PaymentPartial
	default:
		sale.PaymentStatus = domain.PaymentPending
	}

	sale.Items = items
	sale.Subtotal = subtotal
	sale.DiscountAmount = discountAmount
	sale.Tax = tax
	sale.Total = total
	sale.BalanceAmount = balance
	if sale.DeliveryRequired {
		sale.DeliveryStatus = domain.DeliveryPending
	} else {
		sale.DeliveryStatus = domain.DeliveryDelivered
		deliveredAt := sale.CreatedAt
		sale.DeliveredAt = &deliveredAt
	}

	if sale.CustomerID != "" {
		if err := applySaleToCustomer(ctx, tx, &sale, balance); err != nil {
			return nil, err
		}
	} else if sale.PaymentMethod == domain.PayCredit {
		return nil, store.ErrValidation
	}

	invoice, err := nextInvoiceNumber(ctx, tx, sale.OwnerID, sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	sale.InvoiceNumber = invoice

	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, owner_id, invoice_number, customer_id, customer_type, sale_type,
			items, subtotal, discount, discount_type, discount_amount,
			tax_rate, tax, delivery_charges, total,
			payment_method, paid_amount, balance_amount, payment_status,
			delivery_required, delivery_address, delivery_status, delivered_at,
			sold_by, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
	`, sale.ID, sale.OwnerID, sale.InvoiceNumber, nullIfEmpty(sale.CustomerID), sale.CustomerType,
		sale.SaleType, itemsJSON, sale.Subtotal, sale.Discount, sale.DiscountType, sale.DiscountAmount,
		sale.TaxRate, sale.Tax, sale.DeliveryCharges, sale.Total,
		sale.PaymentMethod, sale.PaidAmount, sale.BalanceAmount, sale.PaymentStatus,
		sale.DeliveryRequired, nullIfEmpty(sale.DeliveryAddress), sale.DeliveryStatus, nullTime(sale.DeliveredAt),
		sale.SoldBy, nullIfEmpty(sale.Notes), sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	if checklist != nil {
		cl := *checklist
		if cl.ID == "" {
			cl.ID = xid.New("chk")
		}
		cl.OwnerID = sale.OwnerID
		cl.SaleID = sale.ID
		cl.CustomerID = sale.CustomerID
		if cl.CreatedAt.IsZero() {
			cl.CreatedAt = now
		}
		if cl.Status == "" {
			cl.Status = domain.ChecklistPending
		}
		if err := insertChecklist(ctx, tx, cl); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

// reserveCylinders flips qty in-stock cylinders of the matching capacity to
// with-customer, lowest serial first. The registry must hold at least qty
// matching units or the sale fails with an inventory shortfall.
func reserveCylinders(ctx context.Context, tx *sql.Tx, sale domain.Sale, productID string, capacity domain.CylinderCapacity, qty int, now time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT serial_number, history
		FROM cylinders
		WHERE owner_id = $1 AND capacity = $2 AND status = $3 AND active = true
		ORDER BY serial_number
		LIMIT $4
		FOR UPDATE
	`, sale.OwnerID, capacity, domain.CylinderInStock, qty)
	if err != nil {
		return nil, err
	}

	type reserved struct {
		serial  string
		history []domain.CylinderEvent
	}
	picked := make([]reserved, 0, qty)
	for rows.Next() {
		var r reserved
		var historyRaw []byte
		if err := rows.Scan(&r.serial, &historyRaw); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if len(historyRaw) > 0 {
			if err := json.Unmarshal(historyRaw, &r.history); err != nil {
				_ = rows.Close()
				return nil, err
			}
		}
		picked = append(picked, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(picked) < qty {
		return nil, &store.InsufficientInventoryError{
			ProductID: productID,
			Requested: qty,
			Available: len(picked),
		}
	}

	serials := make([]string, 0, len(picked))
	for _, r := range picked {
		history := append(r.history, domain.CylinderEvent{
			Action:     "issued",
			Actor:      sale.SoldBy,
			CustomerID: sale.CustomerID,
			At:         now,
		})
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cylinders
			SET status = $3, location_type = $4, location_customer_id = $5,
				history = $6, updated_at = now()
			WHERE serial_number = $1 AND owner_id = $2
		`, r.serial, sale.OwnerID, domain.CylinderWithCustomer, domain.LocationCustomer,
			nullIfEmpty(sale.CustomerID), historyJSON)
		if err != nil {
			return nil, err
		}
		serials = append(serials, r.serial)
	}
	return serials, nil
}

// applySaleToCustomer locks the customer row, checks credit headroom for
// credit sales and folds the sale into the loyalty and spend counters.
func applySaleToCustomer(ctx context.Context, tx *sql.Tx, sale *domain.Sale, balance int64) error {
	var (
		active        bool
		creditLimit   int64
		currentCredit int64
		loyaltyPoints int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT active, credit_limit, current_credit, loyalty_points
		FROM customers
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, sale.CustomerID, sale.OwnerID).Scan(&active, &creditLimit, &currentCredit, &loyaltyPoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if !active {
		return store.ErrNotFound
	}

	creditUsed := int64(0)
	if sale.PaymentMethod == domain.PayCredit && balance > 0 {
		available := creditLimit - currentCredit
		if available < 0 {
			available = 0
		}
		if available < balance {
			return store.ErrConflict
		}
		creditUsed = balance
	}

	points := loyaltyPoints + sale.Total/100
	_, err = tx.ExecContext(ctx, `
		UPDATE customers
		SET loyalty_points = $3, loyalty_tier = $4,
			total_spent = total_spent + $5, total_refills = total_refills + $6,
			current_credit = current_credit + $7, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, sale.CustomerID, sale.OwnerID, points, domain.LoyaltyTierFor(points),
		sale.Total, sale.CylinderQuantity(), creditUsed)
	return err
}

// nextInvoiceNumber issues LPG<yyyymmdd><seq> where seq is one past the
// highest suffix already used for that owner and day. The unique index on
// (owner_id, invoice_number) catches concurrent issuers; the caller retries.
func nextInvoiceNumber(ctx context.Context, tx *sql.Tx, ownerID string, at time.Time) (string, error) {
	prefix := domain.InvoicePrefix(at)
	var highest int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substring(invoice_number from $3::int) AS INTEGER)), 0)
		FROM sales
		WHERE owner_id = $1 AND invoice_number LIKE $2 || '%'
	`, ownerID, prefix, len(prefix)+1).Scan(&highest)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", prefix, highest+1), nil
}

func (s *Store) GetSaleByID(ctx context.Context, ownerID, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, saleSelect+`
		WHERE id = $1 AND owner_id = $2
	`, saleID, ownerID)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

const saleSelect = `
	SELECT id, owner_id, invoice_number, COALESCE(customer_id,''), customer_type, sale_type,
		items, subtotal, discount, discount_type, discount_amount,
		tax_rate, tax, delivery_charges, total,
		payment_method, paid_amount, balance_amount, payment_status,
		delivery_required, COALESCE(delivery_address,''), delivery_status, delivered_at,
		sold_by, COALESCE(notes,''), created_at
	FROM sales`

func (s *Store) ListSales(ctx context.Context, ownerID string, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM sales
		WHERE owner_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
			AND ($4 = '' OR customer_id = $4)
			AND ($5 = '' OR payment_status = $5)
			AND ($6 = '' OR delivery_status = $6)
	`, ownerID, nullTime(filter.From), nullTime(filter.To),
		filter.CustomerID, string(filter.PaymentStatus), string(filter.DeliveryStatus)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = total
		if limit < 1 {
			limit = 1
		}
	}

	rows, err := s.db.QueryContext(ctx, saleSelect+`
		WHERE owner_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
			AND ($4 = '' OR customer_id = $4)
			AND ($5 = '' OR payment_status = $5)
			AND ($6 = '' OR delivery_status = $6)
		ORDER BY created_at DESC, invoice_number DESC
		LIMIT $7 OFFSET $8
	`, ownerID, nullTime(filter.From), nullTime(filter.To),
		filter.CustomerID, string(filter.PaymentStatus), string(filter.DeliveryStatus),
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	itemsJSON, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET items = $3, subtotal = $4, discount = $5, discount_type = $6, discount_amount = $7,
			tax_rate = $8, tax = $9, delivery_charges = $10, total = $11,
			payment_method = $12, paid_amount = $13, balance_amount = $14, payment_status = $15,
			delivery_required = $16, delivery_address = $17, delivery_status = $18, delivered_at = $19,
			notes = $20
		WHERE id = $1 AND owner_id = $2
	`, sale.ID, sale.OwnerID, itemsJSON, sale.Subtotal, sale.Discount, sale.DiscountType,
		sale.DiscountAmount, sale.TaxRate, sale.Tax, sale.DeliveryCharges, sale.Total,
		sale.PaymentMethod, sale.PaidAmount, sale.BalanceAmount, sale.PaymentStatus,
		sale.DeliveryRequired, nullIfEmpty(sale.DeliveryAddress), sale.DeliveryStatus,
		nullTime(sale.DeliveredAt), nullIfEmpty(sale.Notes))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := sale
	return &updated, nil
}

func (s *Store) RecordSalePayment(ctx context.Context, ownerID, saleID string, payment domain.SalePaymentRequest) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := scanSale(tx.QueryRowContext(ctx, saleSelect+`
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`, saleID, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if payment.Amount < 1 || payment.Amount > sale.BalanceAmount {
		return nil, store.ErrValidation
	}

	sale.PaidAmount += payment.Amount
	sale.BalanceAmount -= payment.Amount
	switch {
	case sale.BalanceAmount == 0:
		sale.PaymentStatus = domain.PaymentPaid
	case sale.PaidAmount > 0:
		sale.PaymentStatus = domain.PaymentPartial
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET paid_amount = $3, balance_amount = $4, payment_status = $5
		WHERE id = $1 AND owner_id = $2
	`, saleID, ownerID, sale.PaidAmount, sale.BalanceAmount, sale.PaymentStatus)
	if err != nil {
		return nil, err
	}

	if sale.PaymentMethod == domain.PayCredit && sale.CustomerID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET current_credit = GREATEST(current_credit - $3, 0), updated_at = now()
			WHERE id = $1 AND owner_id = $2
		`, sale.CustomerID, ownerID, payment.Amount)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSalesReport(ctx context.Context, ownerID string, from, to time.Time) (*domain.SalesReport, error) {
	report := &domain.SalesReport{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(SUM(total),0), COALESCE(SUM(paid_amount),0), COALESCE(SUM(balance_amount),0)
		FROM sales
		WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3
	`, ownerID, from, to).Scan(&report.TotalSales, &report.TotalRevenue, &report.TotalPaid, &report.TotalBalance)
	if err != nil {
		return nil, err
	}
	if report.TotalSales > 0 {
		report.AvgSaleValue = report.TotalRevenue / report.TotalSales
	}

	report.ByPaymentMethod, err = s.reportBuckets(ctx, ownerID, from, to, "payment_method")
	if err != nil {
		return nil, err
	}
	report.ByStatus, err = s.reportBuckets(ctx, ownerID, from, to, "payment_status")
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Store) reportBuckets(ctx context.Context, ownerID string, from, to time.Time, column string) ([]domain.ReportBucket, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, count(*), COALESCE(SUM(total),0)
		FROM sales
		WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY %s
		ORDER BY %s
	`, column, column, column), ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]domain.ReportBucket, 0, 8)
	for rows.Next() {
		var b domain.ReportBucket
		if err := rows.Scan(&b.Key, &b.Count, &b.Total); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (s *Store) CreatePersonnel(ctx context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.OwnerID == "" || p.Name == "" || p.Phone == "" {
		return nil, store.ErrValidation
	}
	if p.ID == "" {
		p.ID = xid.New("dp")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Availability == "" {
		p.Availability = domain.PersonnelAvailable
	}
	p.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_personnel (id, owner_id, name, phone, vehicle_number, availability, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, p.ID, p.OwnerID, p.Name, p.Phone, nullIfEmpty(p.VehicleNumber), p.Availability, p.Active, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := p
	return &created, nil
}

func (s *Store) GetPersonnelByID(ctx context.Context, ownerID, personnelID string) (*domain.DeliveryPersonnel, error) {
	var p domain.DeliveryPersonnel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(vehicle_number,''), availability, active, created_at
		FROM delivery_personnel
		WHERE id = $1 AND owner_id = $2
	`, personnelID, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Phone, &p.VehicleNumber, &p.Availability, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListPersonnel(ctx context.Context, ownerID string) ([]domain.DeliveryPersonnel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, phone, COALESCE(vehicle_number,''), availability, active, created_at
		FROM delivery_personnel
		WHERE owner_id = $1
		ORDER BY name
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	personnel := make([]domain.DeliveryPersonnel, 0, 16)
	for rows.Next() {
		var p domain.DeliveryPersonnel
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Phone, &p.VehicleNumber, &p.Availability, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		personnel = append(personnel, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return personnel, nil
}

func (s *Store) UpdatePersonnel(ctx context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_personnel
		SET name = $3, phone = $4, vehicle_number = $5, availability = $6, active = $7, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, p.ID, p.OwnerID, p.Name, p.Phone, nullIfEmpty(p.VehicleNumber), p.Availability, p.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := p
	return &updated, nil
}

func (s *Store) CreateRoute(ctx context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error) {
	if route.OwnerID == "" || route.PersonnelID == "" || len(route.Stops) == 0 {
		return nil, store.ErrValidation
	}
	if route.ID == "" {
		route.ID = xid.New("route")
	}
	if route.CreatedAt.IsZero() {
		route.CreatedAt = time.Now().UTC()
	}
	if route.Status == "" {
		route.Status = domain.RouteAssigned
	}

	stopsJSON, err := json.Marshal(route.Stops)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_routes (id, owner_id, personnel_id, route_date, stops, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, route.ID, route.OwnerID, route.PersonnelID, route.Date, stopsJSON, route.Status, route.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := route
	return &saved, nil
}

func (s *Store) GetRouteByID(ctx context.Context, ownerID, routeID string) (*domain.DeliveryRoute, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, personnel_id, route_date, stops, status, created_at
		FROM delivery_routes
		WHERE id = $1 AND owner_id = $2
	`, routeID, ownerID)

	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &route, nil
}

func (s *Store) ListRoutes(ctx context.Context, ownerID string, personnelID string) ([]domain.DeliveryRoute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, personnel_id, route_date, stops, status, created_at
		FROM delivery_routes
		WHERE owner_id = $1 AND ($2 = '' OR personnel_id = $2)
		ORDER BY created_at DESC, id
	`, ownerID, personnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	routes := make([]domain.DeliveryRoute, 0, 32)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return routes, nil
}

func (s *Store) UpdateRoute(ctx context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error) {
	stopsJSON, err := json.Marshal(route.Stops)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_routes
		SET personnel_id = $3, route_date = $4, stops = $5, status = $6
		WHERE id = $1 AND owner_id = $2
	`, route.ID, route.OwnerID, route.PersonnelID, route.Date, stopsJSON, route.Status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	saved := route
	return &saved, nil
}

func (s *Store) CreateChecklist(ctx context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error) {
	if cl.OwnerID == "" || len(cl.Items) == 0 {
		return nil, store.ErrValidation
	}
	if cl.ID == "" {
		cl.ID = xid.New("chk")
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = time.Now().UTC()
	}
	if cl.Status == "" {
		cl.Status = domain.ChecklistPending
	}

	if err := insertChecklist(ctx, s.db, cl); err != nil {
		return nil, err
	}
	saved := cl
	return &saved, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertChecklist(ctx context.Context, db execer, cl domain.SafetyChecklist) error {
	itemsJSON, err := json.Marshal(cl.Items)
	if err != nil {
		return err
	}
	var ackJSON any
	if cl.Acknowledgment != nil {
		raw, err := json.Marshal(cl.Acknowledgment)
		if err != nil {
			return err
		}
		ackJSON = raw
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO safety_checklists (
			id, owner_id, sale_id, customer_id, checklist_type, items,
			status, acknowledgment, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, cl.ID, cl.OwnerID, nullIfEmpty(cl.SaleID), nullIfEmpty(cl.CustomerID), cl.Type,
		itemsJSON, cl.Status, ackJSON, cl.CreatedBy, cl.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetChecklistByID(ctx context.Context, ownerID, checklistID string) (*domain.SafetyChecklist, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, COALESCE(sale_id,''), COALESCE(customer_id,''), checklist_type,
			items, status, acknowledgment, created_by, created_at
		FROM safety_checklists
		WHERE id = $1 AND owner_id = $2
	`, checklistID, ownerID)

	cl, err := scanChecklist(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &cl, nil
}

func (s *Store) ListChecklists(ctx context.Context, ownerID string, status string) ([]domain.SafetyChecklist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, COALESCE(sale_id,''), COALESCE(customer_id,''), checklist_type,
			items, status, acknowledgment, created_by, created_at
		FROM safety_checklists
		WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
	`, ownerID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checklists := make([]domain.SafetyChecklist, 0, 32)
	for rows.Next() {
		cl, err := scanChecklist(rows)
		if err != nil {
			return nil, err
		}
		checklists = append(checklists, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return checklists, nil
}

func (s *Store) UpdateChecklist(ctx context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error) {
	itemsJSON, err := json.Marshal(cl.Items)
	if err != nil {
		return nil, err
	}
	var ackJSON any
	if cl.Acknowledgment != nil {
		raw, err := json.Marshal(cl.Acknowledgment)
		if err != nil {
			return nil, err
		}
		ackJSON = raw
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE safety_checklists
		SET items = $3, status = $4, acknowledgment = $5, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, cl.ID, cl.OwnerID, itemsJSON, cl.Status, ackJSON)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	saved := cl
	return &saved, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, actor, actor_role, action, resource, resource_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OwnerID, entry.Actor, entry.ActorRole, entry.Action,
		entry.Resource, entry.ResourceID, nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, ownerID string, filter domain.AuditFilter) ([]domain.AuditLog, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM audit_logs
		WHERE owner_id = $1
			AND ($2 = '' OR resource = $2)
			AND ($3 = '' OR actor = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
	`, ownerID, string(filter.Resource), filter.Actor, nullTime(filter.From), nullTime(filter.To)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, actor, actor_role, action, resource, resource_id, COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE owner_id = $1
			AND ($2 = '' OR resource = $2)
			AND ($3 = '' OR actor = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC, id DESC
		LIMIT $6 OFFSET $7
	`, ownerID, string(filter.Resource), filter.Actor, nullTime(filter.From), nullTime(filter.To),
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Actor, &entry.ActorRole,
			&entry.Action, &entry.Resource, &entry.ResourceID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, 0, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shop_users (id, username, password, role, owner_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.ID, user.Username, user.Password, user.Role, user.OwnerID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, owner_id, active, created_at
		FROM shop_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.ID, &user.Username, &user.Password, &user.Role, &user.OwnerID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, ownerID string) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, owner_id, active, created_at
		FROM shop_users
		WHERE owner_id = $1
		ORDER BY username
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.OwnerID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE shop_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var cylinderType string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Brand, &p.Category, &p.ProductType, &cylinderType,
		&p.CylinderStates.Empty, &p.CylinderStates.Filled, &p.CylinderStates.Sold,
		&p.Stock, &p.MinStock, &p.MaxStock, &p.Price, &p.CostPrice, &p.Active, &p.CreatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.CylinderType = domain.CylinderCapacity(cylinderType)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanCylinder(row rowScanner) (domain.Cylinder, error) {
	var cyl domain.Cylinder
	var historyRaw []byte
	var inspectionsRaw []byte
	err := row.Scan(&cyl.SerialNumber, &cyl.OwnerID, &cyl.Capacity, &cyl.Manufacturer,
		&cyl.ManufacturingDate, &cyl.TareWeight, &cyl.CertificationNumber, &cyl.NextTestDue,
		&cyl.Status, &cyl.Location.Type, &cyl.Location.CustomerID, &historyRaw, &inspectionsRaw,
		&cyl.Active, &cyl.CreatedAt)
	if err != nil {
		return domain.Cylinder{}, err
	}
	cyl.ManufacturingDate = cyl.ManufacturingDate.UTC()
	cyl.NextTestDue = cyl.NextTestDue.UTC()
	cyl.CreatedAt = cyl.CreatedAt.UTC()
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &cyl.History); err != nil {
			return domain.Cylinder{}, err
		}
	}
	if len(inspectionsRaw) > 0 {
		if err := json.Unmarshal(inspectionsRaw, &cyl.Inspections); err != nil {
			return domain.Cylinder{}, err
		}
	}
	return cyl, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var customer domain.Customer
	var premisesRaw []byte
	err := row.Scan(&customer.ID, &customer.OwnerID, &customer.Name, &customer.Phone, &customer.Email,
		&premisesRaw, &customer.LoyaltyPoints, &customer.LoyaltyTier, &customer.TotalSpent,
		&customer.TotalRefills, &customer.CreditLimit, &customer.CurrentCredit,
		&customer.Active, &customer.CreatedAt)
	if err != nil {
		return domain.Customer{}, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	if len(premisesRaw) > 0 {
		if err := json.Unmarshal(premisesRaw, &customer.Premises); err != nil {
			return domain.Customer{}, err
		}
	}
	return customer, nil
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var itemsRaw []byte
	var deliveredAt sql.NullTime
	err := row.Scan(&sale.ID, &sale.OwnerID, &sale.InvoiceNumber, &sale.CustomerID, &sale.CustomerType,
		&sale.SaleType, &itemsRaw, &sale.Subtotal, &sale.Discount, &sale.DiscountType,
		&sale.DiscountAmount, &sale.TaxRate, &sale.Tax, &sale.DeliveryCharges, &sale.Total,
		&sale.PaymentMethod, &sale.PaidAmount, &sale.BalanceAmount, &sale.PaymentStatus,
		&sale.DeliveryRequired, &sale.DeliveryAddress, &sale.DeliveryStatus, &deliveredAt,
		&sale.SoldBy, &sale.Notes, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if deliveredAt.Valid {
		at := deliveredAt.Time.UTC()
		sale.DeliveredAt = &at
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &sale.Items); err != nil {
			return domain.Sale{}, err
		}
	}
	return sale, nil
}

func scanRoute(row rowScanner) (domain.DeliveryRoute, error) {
	var route domain.DeliveryRoute
	var stopsRaw []byte
	err := row.Scan(&route.ID, &route.OwnerID, &route.PersonnelID, &route.Date, &stopsRaw,
		&route.Status, &route.CreatedAt)
	if err != nil {
		return domain.DeliveryRoute{}, err
	}
	route.Date = route.Date.UTC()
	route.CreatedAt = route.CreatedAt.UTC()
	if len(stopsRaw) > 0 {
		if err := json.Unmarshal(stopsRaw, &route.Stops); err != nil {
			return domain.DeliveryRoute{}, err
		}
	}
	return route, nil
}

func scanChecklist(row rowScanner) (domain.SafetyChecklist, error) {
	var cl domain.SafetyChecklist
	var itemsRaw []byte
	var ackRaw []byte
	err := row.Scan(&cl.ID, &cl.OwnerID, &cl.SaleID, &cl.CustomerID, &cl.Type,
		&itemsRaw, &cl.Status, &ackRaw, &cl.CreatedBy, &cl.CreatedAt)
	if err != nil {
		return domain.SafetyChecklist{}, err
	}
	cl.CreatedAt = cl.CreatedAt.UTC()
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &cl.Items); err != nil {
			return domain.SafetyChecklist{}, err
		}
	}
	if len(ackRaw) > 0 {
		var ack domain.Acknowledgment
		if err := json.Unmarshal(ackRaw, &ack); err != nil {
			return domain.SafetyChecklist{}, err
		}
		cl.Acknowledgment = &ack
	}
	return cl, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
