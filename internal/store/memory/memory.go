package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lpgdepot/backend/internal/domain"
	"lpgdepot/backend/internal/store"
	"lpgdepot/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	cylinders       map[string]domain.Cylinder
	customers       map[string]domain.Customer
	salesByID       map[string]*domain.Sale
	personnelByID   map[string]domain.DeliveryPersonnel
	routesByID      map[string]domain.DeliveryRoute
	checklistsByID  map[string]domain.SafetyChecklist
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedOwnerID is the tenant all seed data belongs to when running without
// PostgreSQL.
const seedOwnerID = "usr-owner-seed"

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_STAFF_PASSWORD. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     domain.Role
	}{
		{seedOwnerID, "owner", ownerPwd, domain.RoleOwner},
		{"usr-manager-seed", "manager", managerPwd, domain.RoleManager},
		{"usr-staff-seed", "staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			OwnerID:   seedOwnerID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		cylinders:       make(map[string]domain.Cylinder),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]*domain.Sale),
		personnelByID:   make(map[string]domain.DeliveryPersonnel),
		routesByID:      make(map[string]domain.DeliveryRoute),
		checklistsByID:  make(map[string]domain.SafetyChecklist),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-dom-14", OwnerID: seedOwnerID, Name: "Domestic Cylinder 11.8kg", Brand: "Bharat", Category: "domestic", ProductType: domain.ProductCylinder, CylinderType: domain.Capacity11_8kg, CylinderStates: domain.CylinderStates{Empty: 10, Filled: 40}, Stock: 40, MinStock: 10, MaxStock: 120, Price: 1100, CostPrice: 900, Active: true, CreatedAt: now},
		{ID: "prd-dom-15", OwnerID: seedOwnerID, Name: "Domestic Cylinder 15kg", Brand: "Bharat", Category: "domestic", ProductType: domain.ProductCylinder, CylinderType: domain.Capacity15kg, CylinderStates: domain.CylinderStates{Empty: 6, Filled: 25}, Stock: 25, MinStock: 8, MaxStock: 80, Price: 1400, CostPrice: 1150, Active: true, CreatedAt: now},
		{ID: "prd-com-45", OwnerID: seedOwnerID, Name: "Commercial Cylinder 45.4kg", Brand: "Indane", Category: "commercial", ProductType: domain.ProductCylinder, CylinderType: domain.Capacity45_4kg, CylinderStates: domain.CylinderStates{Empty: 2, Filled: 12}, Stock: 12, MinStock: 4, MaxStock: 40, Price: 3900, CostPrice: 3300, Active: true, CreatedAt: now},
		{ID: "prd-reg-01", OwnerID: seedOwnerID, Name: "Pressure Regulator", Brand: "Sigma", Category: "accessory", ProductType: domain.ProductAccessory, Stock: 30, MinStock: 5, MaxStock: 100, Price: 450, CostPrice: 300, Active: true, CreatedAt: now},
		{ID: "prd-hose-01", OwnerID: seedOwnerID, Name: "Suraksha Hose 1.5m", Brand: "Suraksha", Category: "accessory", ProductType: domain.ProductAccessory, Stock: 45, MinStock: 10, MaxStock: 150, Price: 250, CostPrice: 160, Active: true, CreatedAt: now},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	mfg := now.AddDate(-2, 0, 0)
	for i := 1; i <= 8; i++ {
		serial := fmt.Sprintf("CYL-2024-%06d", i)
		capacity := domain.Capacity11_8kg
		if i > 5 {
			capacity = domain.Capacity15kg
		}
		s.cylinders[serial] = domain.Cylinder{
			SerialNumber:      serial,
			OwnerID:           seedOwnerID,
			Capacity:          capacity,
			Manufacturer:      "Bharat",
			ManufacturingDate: mfg,
			TareWeight:        15.3,
			NextTestDue:       now.AddDate(1, 0, 0),
			Status:            domain.CylinderInStock,
			Location:          domain.CylinderLocation{Type: domain.LocationWarehouse},
			Active:            true,
			CreatedAt:         now,
		}
	}

	s.customers["cust-seed-1"] = domain.Customer{
		ID:      "cust-seed-1",
		OwnerID: seedOwnerID,
		Name:    "Ravi Kumar",
		Phone:   "9876543210",
		Premises: []domain.Premises{
			{Label: "Home", Street: "14 Gandhi Road", City: "Chennai", Pincode: "600001", Primary: true},
		},
		LoyaltyTier: domain.TierBronze,
		CreditLimit: 5000,
		Active:      true,
		CreatedAt:   now,
	}

	return s
}

func (s *Store) ListProducts(_ context.Context, ownerID string, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) ListLowStockProducts(_ context.Context, ownerID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.OwnerID != ownerID || !p.Active {
			continue
		}
		if p.Stock <= p.MinStock {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.OwnerID == "" || product.Name == "" || product.Price < 1 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, ownerID, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists || product.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.Price < 1 {
		return nil, store.ErrValidation
	}
	existing, exists := s.products[product.ID]
	if !exists || existing.OwnerID != product.OwnerID {
		return nil, store.ErrNotFound
	}
	if product.Stock < 0 || product.CylinderStates.Empty < 0 || product.CylinderStates.Filled < 0 {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) RegisterCylinder(_ context.Context, cyl domain.Cylinder) (*domain.Cylinder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cyl.SerialNumber == "" || cyl.OwnerID == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.cylinders[cyl.SerialNumber]; exists {
		return nil, store.ErrConflict
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

	s.cylinders[cyl.SerialNumber] = cloneCylinder(cyl)
	created := cloneCylinder(cyl)
	return &created, nil
}

func (s *Store) GetCylinderBySerial(_ context.Context, ownerID, serial string) (*domain.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cyl, exists := s.cylinders[serial]
	if !exists || cyl.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyCyl := cloneCylinder(cyl)
	return &copyCyl, nil
}

func (s *Store) ListCylinders(_ context.Context, ownerID string, filter domain.CylinderFilter) ([]domain.Cylinder, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cylinder, 0, 64)
	for _, cyl := range s.cylinders {
		if cyl.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && cyl.Status != filter.Status {
			continue
		}
		if filter.Capacity != "" && cyl.Capacity != filter.Capacity {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(cyl.SerialNumber), strings.ToLower(filter.Search)) {
			continue
		}
		result = append(result, cloneCylinder(cyl))
	}

	slices.SortFunc(result, func(a, b domain.Cylinder) int {
		return cmpString(a.SerialNumber, b.SerialNumber)
	})

	total := len(result)
	result = paginate(result, filter.Page, filter.Limit)
	return result, total, nil
}

func (s *Store) ListCylindersDueInspection(_ context.Context, ownerID string, before time.Time) ([]domain.Cylinder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cylinder, 0, 32)
	for _, cyl := range s.cylinders {
		if cyl.OwnerID != ownerID || !cyl.Active || cyl.Status == domain.CylinderCondemned {
			continue
		}
		if cyl.NextTestDue.Before(before) {
			result = append(result, cloneCylinder(cyl))
		}
	}
	slices.SortFunc(result, func(a, b domain.Cylinder) int {
		if a.NextTestDue.Equal(b.NextTestDue) {
			return cmpString(a.SerialNumber, b.SerialNumber)
		}
		if a.NextTestDue.Before(b.NextTestDue) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateCylinder(_ context.Context, cyl domain.Cylinder) (*domain.Cylinder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.cylinders[cyl.SerialNumber]
	if !exists || existing.OwnerID != cyl.OwnerID {
		return nil, store.ErrNotFound
	}

	s.cylinders[cyl.SerialNumber] = cloneCylinder(cyl)
	updated := cloneCylinder(cyl)
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.OwnerID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.customers {
		if existing.OwnerID == customer.OwnerID && existing.Phone == customer.Phone {
			return nil, store.ErrConflict
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.LoyaltyTier = domain.LoyaltyTierFor(customer.LoyaltyPoints)
	customer.Active = true

	s.customers[customer.ID] = cloneCustomer(customer)
	created := cloneCustomer(customer)
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, ownerID, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[customerID]
	if !exists || customer.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyCustomer := cloneCustomer(customer)
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string, search string, page, limit int) ([]domain.Customer, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	result := make([]domain.Customer, 0, 64)
	for _, customer := range s.customers {
		if customer.OwnerID != ownerID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(customer.Phone, search) {
			continue
		}
		result = append(result, cloneCustomer(customer))
	}

	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})

	total := len(result)
	result = paginate(result, page, limit)
	return result, total, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customers[customer.ID]
	if !exists || existing.OwnerID != customer.OwnerID {
		return nil, store.ErrNotFound
	}
	if customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrValidation
	}
	customer.LoyaltyTier = domain.LoyaltyTierFor(customer.LoyaltyPoints)

	s.customers[customer.ID] = cloneCustomer(customer)
	updated := cloneCustomer(customer)
	return &updated, nil
}

// CreateSale validates and applies the whole sale atomically under the
// store lock. All writes are staged against copies and only committed once
// every check has passed, so a failed sale leaves no partial state behind.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, checklist *domain.SafetyChecklist) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.OwnerID == "" || len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	stagedProducts := make(map[string]domain.Product, len(sale.Items))
	stagedCylinders := make(map[string]domain.Cylinder)

	subtotal := int64(0)
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		product, exists := stagedProducts[item.ProductID]
		if !exists {
			p, ok := s.products[item.ProductID]
			if !ok || p.OwnerID != sale.OwnerID || !p.Active {
				return nil, store.ErrNotFound
			}
			product = p
		}

		// A negative unit price marks lines without a caller override.
		unitPrice := item.UnitPrice
		if unitPrice < 0 {
			unitPrice = product.Price
		}

		line := domain.SaleItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductType:  product.ProductType,
			CylinderType: product.CylinderType,
			Quantity:     item.Quantity,
			UnitPrice:    unitPrice,
			Subtotal:     unitPrice * int64(item.Quantity),
		}

		if product.ProductType == domain.ProductCylinder {
			if product.CylinderStates.Filled < item.Quantity {
				return nil, &store.InsufficientInventoryError{
					ProductID: product.ID,
					Requested: item.Quantity,
					Available: product.CylinderStates.Filled,
				}
			}
			product.CylinderStates.Filled -= item.Quantity
			product.CylinderStates.Sold += item.Quantity
			product.Stock -= item.Quantity
			serials, err := s.reserveCylinders(stagedCylinders, sale, product.ID, product.CylinderType, item.Quantity, now)
			if err != nil {
				return nil, err
			}
			line.SerialNumbers = serials
		} else {
			if product.Stock < item.Quantity {
				return nil, &store.InsufficientInventoryError{
					ProductID: product.ID,
					Requested: item.Quantity,
					Available: product.Stock,
				}
			}
			product.Stock -= item.Quantity
		}
		if product.Stock < 0 {
			return nil, &store.InsufficientInventoryError{ProductID: product.ID, Requested: item.Quantity}
		}

		stagedProducts[product.ID] = product
		items = append(items, line)
		subtotal += line.Subtotal
	}

	if sale.Discount < 0 || sale.TaxRate < 0 || sale.TaxRate > 100 || sale.DeliveryCharges < 0 {
		return nil, store.ErrValidation
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

	var stagedCustomer *domain.Customer
	if sale.CustomerID != "" {
		customer, exists := s.customers[sale.CustomerID]
		if !exists || customer.OwnerID != sale.OwnerID || !customer.Active {
			return nil, store.ErrNotFound
		}
		c := cloneCustomer(customer)
		if sale.PaymentMethod == domain.PayCredit && balance > 0 {
			if c.AvailableCredit() < balance {
				return nil, store.ErrConflict
			}
			c.CurrentCredit += balance
		}
		c.LoyaltyPoints += total / 100
		c.LoyaltyTier = domain.LoyaltyTierFor(c.LoyaltyPoints)
		c.TotalSpent += total
		stagedCustomer = &c
	} else if sale.PaymentMethod == domain.PayCredit {
		return nil, store.ErrValidation
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.Items = items
	sale.Subtotal = subtotal
	sale.DiscountAmount = discountAmount
	sale.Tax = tax
	sale.Total = total
	sale.BalanceAmount = balance
	sale.InvoiceNumber = s.nextInvoiceNumber(sale.OwnerID, sale.CreatedAt)
	if sale.DeliveryRequired {
		sale.DeliveryStatus = domain.DeliveryPending
	} else {
		sale.DeliveryStatus = domain.DeliveryDelivered
		deliveredAt := sale.CreatedAt
		sale.DeliveredAt = &deliveredAt
	}

	if stagedCustomer != nil {
		stagedCustomer.TotalRefills += sale.CylinderQuantity()
	}

	// Commit staged state.
	for id, p := range stagedProducts {
		s.products[id] = p
	}
	for serial, cyl := range stagedCylinders {
		s.cylinders[serial] = cyl
	}
	if stagedCustomer != nil {
		s.customers[stagedCustomer.ID] = *stagedCustomer
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
		s.checklistsByID[cl.ID] = cloneChecklist(cl)
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

// reserveCylinders stages qty in-stock cylinders of the matching capacity,
// lowest serial first. The registry must hold at least qty matching units or
// the sale fails with an inventory shortfall.
func (s *Store) reserveCylinders(staged map[string]domain.Cylinder, sale domain.Sale, productID string, capacity domain.CylinderCapacity, qty int, now time.Time) ([]string, error) {
	serials := make([]string, 0, qty)
	for serial, cyl := range s.cylinders {
		if cyl.OwnerID != sale.OwnerID || !cyl.Active {
			continue
		}
		if cyl.Capacity != capacity || cyl.Status != domain.CylinderInStock {
			continue
		}
		if _, taken := staged[serial]; taken {
			continue
		}
		serials = append(serials, serial)
	}
	if len(serials) < qty {
		return nil, &store.InsufficientInventoryError{
			ProductID: productID,
			Requested: qty,
			Available: len(serials),
		}
	}
	slices.Sort(serials)
	serials = serials[:qty]

	for _, serial := range serials {
		cyl := cloneCylinder(s.cylinders[serial])
		cyl.Status = domain.CylinderWithCustomer
		cyl.Location = domain.CylinderLocation{Type: domain.LocationCustomer, CustomerID: sale.CustomerID}
		cyl.History = append(cyl.History, domain.CylinderEvent{
			Action:     "issued",
			Actor:      sale.SoldBy,
			CustomerID: sale.CustomerID,
			At:         now,
		})
		staged[serial] = cyl
	}
	return serials, nil
}

// nextInvoiceNumber issues LPG<yyyymmdd><seq> where seq is one past the
// highest suffix already used for that owner and day.
func (s *Store) nextInvoiceNumber(ownerID string, at time.Time) string {
	prefix := domain.InvoicePrefix(at)
	highest := 0
	for _, sale := range s.salesByID {
		if sale.OwnerID != ownerID || !strings.HasPrefix(sale.InvoiceNumber, prefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(sale.InvoiceNumber[len(prefix):], "%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, highest+1)
}

func (s *Store) GetSaleByID(_ context.Context, ownerID, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, ownerID string, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if sale.OwnerID != ownerID {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.PaymentStatus != "" && sale.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.DeliveryStatus != "" && sale.DeliveryStatus != filter.DeliveryStatus {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.InvoiceNumber, a.InvoiceNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := len(result)
	result = paginate(result, filter.Page, filter.Limit)
	return result, total, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.salesByID[sale.ID]
	if !exists || existing.OwnerID != sale.OwnerID {
		return nil, store.ErrNotFound
	}
	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) RecordSalePayment(_ context.Context, ownerID, saleID string, payment domain.SalePaymentRequest) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if payment.Amount < 1 || payment.Amount > sale.BalanceAmount {
		return nil, store.ErrValidation
	}

	updated := cloneSale(sale)
	updated.PaidAmount += payment.Amount
	updated.BalanceAmount -= payment.Amount
	switch {
	case updated.BalanceAmount == 0:
		updated.PaymentStatus = domain.PaymentPaid
	case updated.PaidAmount > 0:
		updated.PaymentStatus = domain.PaymentPartial
	}

	if updated.PaymentMethod == domain.PayCredit && updated.CustomerID != "" {
		if customer, ok := s.customers[updated.CustomerID]; ok {
			customer.CurrentCredit -= payment.Amount
			if customer.CurrentCredit < 0 {
				customer.CurrentCredit = 0
			}
			s.customers[customer.ID] = customer
		}
	}

	s.salesByID[saleID] = updated
	return cloneSale(updated), nil
}

func (s *Store) GetSalesReport(_ context.Context, ownerID string, from, to time.Time) (*domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := &domain.SalesReport{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
	}
	byPayment := map[string]*domain.ReportBucket{}
	byStatus := map[string]*domain.ReportBucket{}

	for _, sale := range s.salesByID {
		if sale.OwnerID != ownerID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}

		report.TotalSales++
		report.TotalRevenue += sale.Total
		report.TotalPaid += sale.PaidAmount
		report.TotalBalance += sale.BalanceAmount

		pb := byPayment[string(sale.PaymentMethod)]
		if pb == nil {
			pb = &domain.ReportBucket{Key: string(sale.PaymentMethod)}
			byPayment[string(sale.PaymentMethod)] = pb
		}
		pb.Count++
		pb.Total += sale.Total

		sb := byStatus[string(sale.PaymentStatus)]
		if sb == nil {
			sb = &domain.ReportBucket{Key: string(sale.PaymentStatus)}
			byStatus[string(sale.PaymentStatus)] = sb
		}
		sb.Count++
		sb.Total += sale.Total
	}

	if report.TotalSales > 0 {
		report.AvgSaleValue = report.TotalRevenue / report.TotalSales
	}
	for _, b := range byPayment {
		report.ByPaymentMethod = append(report.ByPaymentMethod, *b)
	}
	for _, b := range byStatus {
		report.ByStatus = append(report.ByStatus, *b)
	}
	slices.SortFunc(report.ByPaymentMethod, func(a, b domain.ReportBucket) int {
		return cmpString(a.Key, b.Key)
	})
	slices.SortFunc(report.ByStatus, func(a, b domain.ReportBucket) int {
		return cmpString(a.Key, b.Key)
	})

	return report, nil
}

func (s *Store) CreatePersonnel(_ context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.OwnerID == "" || strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Phone) == "" {
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

	s.personnelByID[p.ID] = p
	copyP := p
	return &copyP, nil
}

func (s *Store) GetPersonnelByID(_ context.Context, ownerID, personnelID string) (*domain.DeliveryPersonnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.personnelByID[personnelID]
	if !exists || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyP := p
	return &copyP, nil
}

func (s *Store) ListPersonnel(_ context.Context, ownerID string) ([]domain.DeliveryPersonnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DeliveryPersonnel, 0, len(s.personnelByID))
	for _, p := range s.personnelByID {
		if p.OwnerID != ownerID {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.DeliveryPersonnel) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpdatePersonnel(_ context.Context, p domain.DeliveryPersonnel) (*domain.DeliveryPersonnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.personnelByID[p.ID]
	if !exists || existing.OwnerID != p.OwnerID {
		return nil, store.ErrNotFound
	}
	s.personnelByID[p.ID] = p
	copyP := p
	return &copyP, nil
}

func (s *Store) CreateRoute(_ context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if route.OwnerID == "" || route.PersonnelID == "" || len(route.Stops) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.personnelByID[route.PersonnelID]; !exists {
		return nil, store.ErrNotFound
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

	s.routesByID[route.ID] = cloneRoute(route)
	saved := cloneRoute(route)
	return &saved, nil
}

func (s *Store) GetRouteByID(_ context.Context, ownerID, routeID string) (*domain.DeliveryRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route, exists := s.routesByID[routeID]
	if !exists || route.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyRoute := cloneRoute(route)
	return &copyRoute, nil
}

func (s *Store) ListRoutes(_ context.Context, ownerID string, personnelID string) ([]domain.DeliveryRoute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DeliveryRoute, 0, len(s.routesByID))
	for _, route := range s.routesByID {
		if route.OwnerID != ownerID {
			continue
		}
		if personnelID != "" && route.PersonnelID != personnelID {
			continue
		}
		result = append(result, cloneRoute(route))
	}
	slices.SortFunc(result, func(a, b domain.DeliveryRoute) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateRoute(_ context.Context, route domain.DeliveryRoute) (*domain.DeliveryRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.routesByID[route.ID]
	if !exists || existing.OwnerID != route.OwnerID {
		return nil, store.ErrNotFound
	}
	s.routesByID[route.ID] = cloneRoute(route)
	saved := cloneRoute(route)
	return &saved, nil
}

func (s *Store) CreateChecklist(_ context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	s.checklistsByID[cl.ID] = cloneChecklist(cl)
	saved := cloneChecklist(cl)
	return &saved, nil
}

func (s *Store) GetChecklistByID(_ context.Context, ownerID, checklistID string) (*domain.SafetyChecklist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cl, exists := s.checklistsByID[checklistID]
	if !exists || cl.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	copyCl := cloneChecklist(cl)
	return &copyCl, nil
}

func (s *Store) ListChecklists(_ context.Context, ownerID string, status string) ([]domain.SafetyChecklist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SafetyChecklist, 0, len(s.checklistsByID))
	for _, cl := range s.checklistsByID {
		if cl.OwnerID != ownerID {
			continue
		}
		if status != "" && cl.Status != status {
			continue
		}
		result = append(result, cloneChecklist(cl))
	}
	slices.SortFunc(result, func(a, b domain.SafetyChecklist) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateChecklist(_ context.Context, cl domain.SafetyChecklist) (*domain.SafetyChecklist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.checklistsByID[cl.ID]
	if !exists || existing.OwnerID != cl.OwnerID {
		return nil, store.ErrNotFound
	}
	s.checklistsByID[cl.ID] = cloneChecklist(cl)
	saved := cloneChecklist(cl)
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, ownerID string, filter domain.AuditFilter) ([]domain.AuditLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.OwnerID != ownerID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !entry.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := len(result)
	result = paginate(result, filter.Page, filter.Limit)
	return result, total, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
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
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context, ownerID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		if user.OwnerID != ownerID {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func paginate[T any](items []T, page, limit int) []T {
	if limit < 1 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	for i, item := range src.Items {
		items[i] = item
		serials := make([]string, len(item.SerialNumbers))
		copy(serials, item.SerialNumbers)
		items[i].SerialNumbers = serials
	}
	dup.Items = items
	if src.DeliveredAt != nil {
		at := *src.DeliveredAt
		dup.DeliveredAt = &at
	}
	return &dup
}

func cloneCylinder(src domain.Cylinder) domain.Cylinder {
	dup := src
	history := make([]domain.CylinderEvent, len(src.History))
	copy(history, src.History)
	dup.History = history
	inspections := make([]domain.Inspection, len(src.Inspections))
	copy(inspections, src.Inspections)
	dup.Inspections = inspections
	return dup
}

func cloneCustomer(src domain.Customer) domain.Customer {
	dup := src
	premises := make([]domain.Premises, len(src.Premises))
	copy(premises, src.Premises)
	dup.Premises = premises
	return dup
}

func cloneRoute(src domain.DeliveryRoute) domain.DeliveryRoute {
	dup := src
	stops := make([]domain.DeliveryStop, len(src.Stops))
	for i, stop := range src.Stops {
		stops[i] = stop
		if stop.DeliveredAt != nil {
			at := *stop.DeliveredAt
			stops[i].DeliveredAt = &at
		}
	}
	dup.Stops = stops
	return dup
}

func cloneChecklist(src domain.SafetyChecklist) domain.SafetyChecklist {
	dup := src
	items := make([]domain.ChecklistItem, len(src.Items))
	for i, item := range src.Items {
		items[i] = item
		if item.CheckedAt != nil {
			at := *item.CheckedAt
			items[i].CheckedAt = &at
		}
	}
	dup.Items = items
	if src.Acknowledgment != nil {
		ack := *src.Acknowledgment
		dup.Acknowledgment = &ack
	}
	return dup
}
