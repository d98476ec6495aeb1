package domain

import "time"

type ProductType string

const (
	ProductCylinder  ProductType = "cylinder"
	ProductAccessory ProductType = "accessory"
)

type CylinderCapacity string

const (
	Capacity11_8kg CylinderCapacity = "11.8kg"
	Capacity15kg   CylinderCapacity = "15kg"
	Capacity45_4kg CylinderCapacity = "45.4kg"
)

func IsValidCapacity(c CylinderCapacity) bool {
	switch c {
	case Capacity11_8kg, Capacity15kg, Capacity45_4kg:
		return true
	}
	return false
}

// CylinderStates is the tri-state inventory breakdown kept for cylinder
// products alongside the scalar stock count.
type CylinderStates struct {
	Empty  int `json:"empty"`
	Filled int `json:"filled"`
	Sold   int `json:"sold"`
}

type Product struct {
	ID             string           `json:"id"`
	OwnerID        string           `json:"owner_id"`
	Name           string           `json:"name"`
	Brand          string           `json:"brand"`
	Category       string           `json:"category"`
	ProductType    ProductType      `json:"product_type"`
	CylinderType   CylinderCapacity `json:"cylinder_type,omitempty"`
	CylinderStates CylinderStates   `json:"cylinder_states"`
	Stock          int              `json:"stock"`
	MinStock       int              `json:"min_stock"`
	MaxStock       int              `json:"max_stock"`
	Price          int64            `json:"price"`
	CostPrice      int64            `json:"cost_price"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string           `json:"name"`
	Brand        string           `json:"brand"`
	Category     string           `json:"category"`
	ProductType  ProductType      `json:"product_type"`
	CylinderType CylinderCapacity `json:"cylinder_type,omitempty"`
	FilledCount  int              `json:"filled_count"`
	EmptyCount   int              `json:"empty_count"`
	Stock        int              `json:"stock"`
	MinStock     int              `json:"min_stock"`
	MaxStock     int              `json:"max_stock"`
	Price        int64            `json:"price"`
	CostPrice    int64            `json:"cost_price"`
}

type ProductUpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	Brand     *string `json:"brand,omitempty"`
	Category  *string `json:"category,omitempty"`
	Price     *int64  `json:"price,omitempty"`
	CostPrice *int64  `json:"cost_price,omitempty"`
	MinStock  *int    `json:"min_stock,omitempty"`
	MaxStock  *int    `json:"max_stock,omitempty"`
	Stock     *int    `json:"stock,omitempty"`
	Filled    *int    `json:"filled,omitempty"`
	Empty     *int    `json:"empty,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

type CylinderStatus string

const (
	CylinderInStock         CylinderStatus = "in-stock"
	CylinderWithCustomer    CylinderStatus = "with-customer"
	CylinderInTransit       CylinderStatus = "in-transit"
	CylinderUnderInspection CylinderStatus = "under-inspection"
	CylinderCondemned       CylinderStatus = "condemned"
)

// CanTransitionCylinder reports whether a cylinder may move between the two
// statuses. Condemnation is terminal and reachable from any other status.
func CanTransitionCylinder(from, to CylinderStatus) bool {
	if from == CylinderCondemned {
		return false
	}
	if to == CylinderCondemned {
		return true
	}
	var next []CylinderStatus
	switch from {
	case CylinderInStock:
		next = []CylinderStatus{CylinderWithCustomer, CylinderInTransit, CylinderUnderInspection}
	case CylinderWithCustomer:
		next = []CylinderStatus{CylinderInStock, CylinderInTransit}
	case CylinderInTransit:
		next = []CylinderStatus{CylinderInStock, CylinderWithCustomer}
	case CylinderUnderInspection:
		next = []CylinderStatus{CylinderInStock}
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

const (
	LocationWarehouse = "warehouse"
	LocationCustomer  = "customer"
)

type CylinderLocation struct {
	Type       string `json:"type"`
	CustomerID string `json:"customer_id,omitempty"`
}

// CylinderEvent is one entry of a cylinder's append-only history.
type CylinderEvent struct {
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	CustomerID string    `json:"customer_id,omitempty"`
	SaleID     string    `json:"sale_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

const (
	InspectionVisual      = "visual"
	InspectionHydrostatic = "hydrostatic"
	InspectionValve       = "valve"

	InspectionPass = "pass"
	InspectionFail = "fail"
)

type Inspection struct {
	Date                time.Time `json:"date"`
	Type                string    `json:"type"`
	Result              string    `json:"result"`
	Inspector           string    `json:"inspector"`
	CertificationNumber string    `json:"certification_number,omitempty"`
	NextDueDate         time.Time `json:"next_due_date"`
	Note                string    `json:"note,omitempty"`
}

type Cylinder struct {
	SerialNumber        string           `json:"serial_number"`
	OwnerID             string           `json:"owner_id"`
	Capacity            CylinderCapacity `json:"capacity"`
	Manufacturer        string           `json:"manufacturer"`
	ManufacturingDate   time.Time        `json:"manufacturing_date"`
	TareWeight          float64          `json:"tare_weight"`
	CertificationNumber string           `json:"certification_number,omitempty"`
	NextTestDue         time.Time        `json:"next_test_due"`
	Status              CylinderStatus   `json:"status"`
	Location            CylinderLocation `json:"location"`
	History             []CylinderEvent  `json:"history,omitempty"`
	Inspections         []Inspection     `json:"inspections,omitempty"`
	Active              bool             `json:"active"`
	CreatedAt           time.Time        `json:"created_at"`
}

type CylinderRegisterRequest struct {
	SerialNumber        string           `json:"serial_number"`
	Capacity            CylinderCapacity `json:"capacity"`
	Manufacturer        string           `json:"manufacturer"`
	ManufacturingDate   string           `json:"manufacturing_date"`
	TareWeight          float64          `json:"tare_weight"`
	CertificationNumber string           `json:"certification_number,omitempty"`
	NextTestDue         string           `json:"next_test_due,omitempty"`
}

type CylinderStatusUpdateRequest struct {
	Status CylinderStatus `json:"status"`
	Note   string         `json:"note,omitempty"`
}

type InspectionRequest struct {
	Date                string `json:"date,omitempty"`
	Type                string `json:"type"`
	Result              string `json:"result"`
	Inspector           string `json:"inspector"`
	CertificationNumber string `json:"certification_number,omitempty"`
	Note                string `json:"note,omitempty"`
}

type CylinderFilter struct {
	Status   CylinderStatus
	Capacity CylinderCapacity
	Search   string
	Page     int
	Limit    int
}

type Premises struct {
	Label    string `json:"label"`
	Street   string `json:"street"`
	City     string `json:"city"`
	Pincode  string `json:"pincode"`
	Landmark string `json:"landmark,omitempty"`
	Primary  bool   `json:"primary"`
}

const (
	TierBronze   = "Bronze"
	TierSilver   = "Silver"
	TierGold     = "Gold"
	TierPlatinum = "Platinum"
)

// LoyaltyTierFor maps accrued points to the customer's tier.
func LoyaltyTierFor(points int64) string {
	switch {
	case points >= 2000:
		return TierPlatinum
	case points >= 1000:
		return TierGold
	case points >= 500:
		return TierSilver
	default:
		return TierBronze
	}
}

type Customer struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email,omitempty"`
	Premises      []Premises `json:"premises,omitempty"`
	LoyaltyPoints int64      `json:"loyalty_points"`
	LoyaltyTier   string     `json:"loyalty_tier"`
	TotalSpent    int64      `json:"total_spent"`
	TotalRefills  int        `json:"total_refills"`
	CreditLimit   int64      `json:"credit_limit"`
	CurrentCredit int64      `json:"current_credit"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (c Customer) AvailableCredit() int64 {
	if c.CurrentCredit >= c.CreditLimit {
		return 0
	}
	return c.CreditLimit - c.CurrentCredit
}

type CustomerCreateRequest struct {
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Email       string     `json:"email,omitempty"`
	Premises    []Premises `json:"premises,omitempty"`
	CreditLimit int64      `json:"credit_limit"`
}

type CustomerUpdateRequest struct {
	Name        *string     `json:"name,omitempty"`
	Phone       *string     `json:"phone,omitempty"`
	Email       *string     `json:"email,omitempty"`
	Premises    *[]Premises `json:"premises,omitempty"`
	CreditLimit *int64      `json:"credit_limit,omitempty"`
	Active      *bool       `json:"active,omitempty"`
}

type SaleType string

const (
	SaleNewConnection SaleType = "new-connection"
	SaleRefill        SaleType = "refill"
	SaleExchange      SaleType = "exchange"
	SaleAccessory     SaleType = "accessory"
)

func IsValidSaleType(t SaleType) bool {
	switch t {
	case SaleNewConnection, SaleRefill, SaleExchange, SaleAccessory:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PayCash         PaymentMethod = "cash"
	PayCard         PaymentMethod = "card"
	PayUPI          PaymentMethod = "upi"
	PayBankTransfer PaymentMethod = "bank-transfer"
	PayCredit       PaymentMethod = "credit"
)

func IsValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PayCash, PayCard, PayUPI, PayBankTransfer, PayCredit:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPending PaymentStatus = "pending"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryScheduled DeliveryStatus = "scheduled"
	DeliveryInTransit DeliveryStatus = "in-transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

func IsValidDeliveryStatus(s DeliveryStatus) bool {
	switch s {
	case DeliveryPending, DeliveryScheduled, DeliveryInTransit, DeliveryDelivered, DeliveryFailed, DeliveryCancelled:
		return true
	}
	return false
}

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"

	CustomerWalkIn     = "walk-in"
	CustomerRegistered = "registered"
)

type SaleItem struct {
	ProductID     string           `json:"product_id"`
	ProductName   string           `json:"product_name"`
	ProductType   ProductType      `json:"product_type"`
	CylinderType  CylinderCapacity `json:"cylinder_type,omitempty"`
	SerialNumbers []string         `json:"serial_numbers,omitempty"`
	Quantity      int              `json:"quantity"`
	UnitPrice     int64            `json:"unit_price"`
	Subtotal      int64            `json:"subtotal"`
}

type Sale struct {
	ID               string         `json:"id"`
	OwnerID          string         `json:"owner_id"`
	InvoiceNumber    string         `json:"invoice_number"`
	CustomerID       string         `json:"customer_id,omitempty"`
	CustomerType     string         `json:"customer_type"`
	SaleType         SaleType       `json:"sale_type"`
	Items            []SaleItem     `json:"items"`
	Subtotal         int64          `json:"subtotal"`
	Discount         int64          `json:"discount"`
	DiscountType     string         `json:"discount_type"`
	DiscountAmount   int64          `json:"discount_amount"`
	TaxRate          float64        `json:"tax_rate"`
	Tax              int64          `json:"tax"`
	DeliveryCharges  int64          `json:"delivery_charges"`
	Total            int64          `json:"total"`
	PaymentMethod    PaymentMethod  `json:"payment_method"`
	PaidAmount       int64          `json:"paid_amount"`
	BalanceAmount    int64          `json:"balance_amount"`
	PaymentStatus    PaymentStatus  `json:"payment_status"`
	DeliveryRequired bool           `json:"delivery_required"`
	DeliveryAddress  string         `json:"delivery_address,omitempty"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	SoldBy           string         `json:"sold_by"`
	Notes            string         `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CylinderQuantity is the cylinder unit count across line items, used for
// the customer refill counter.
func (s Sale) CylinderQuantity() int {
	n := 0
	for _, item := range s.Items {
		if item.ProductType == ProductCylinder {
			n += item.Quantity
		}
	}
	return n
}

type SaleItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice *int64 `json:"unit_price,omitempty"`
}

type SaleCreateRequest struct {
	Items            []SaleItemRequest `json:"items"`
	CustomerID       string            `json:"customer_id,omitempty"`
	SaleType         SaleType          `json:"sale_type,omitempty"`
	PaymentMethod    PaymentMethod     `json:"payment_method,omitempty"`
	PaidAmount       int64             `json:"paid_amount"`
	TaxRate          float64           `json:"tax_rate"`
	Discount         int64             `json:"discount"`
	DiscountType     string            `json:"discount_type,omitempty"`
	DeliveryRequired bool              `json:"delivery_required"`
	DeliveryAddress  string            `json:"delivery_address,omitempty"`
	DeliveryCharges  int64             `json:"delivery_charges"`
	Notes            string            `json:"notes,omitempty"`
}

type SaleFilter struct {
	From           *time.Time
	To             *time.Time
	CustomerID     string
	PaymentStatus  PaymentStatus
	DeliveryStatus DeliveryStatus
	Page           int
	Limit          int
}

type SalePaymentRequest struct {
	Method    PaymentMethod `json:"method"`
	Amount    int64         `json:"amount"`
	Reference string        `json:"reference,omitempty"`
}

type DeliveryStatusUpdateRequest struct {
	Status DeliveryStatus `json:"status"`
	Note   string         `json:"note,omitempty"`
}

type ReportBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
	Total int64  `json:"total"`
}

type SalesReport struct {
	From            string         `json:"from"`
	To              string         `json:"to"`
	TotalSales      int64          `json:"total_sales"`
	TotalRevenue    int64          `json:"total_revenue"`
	TotalPaid       int64          `json:"total_paid"`
	TotalBalance    int64          `json:"total_balance"`
	AvgSaleValue    int64          `json:"avg_sale_value"`
	ByPaymentMethod []ReportBucket `json:"by_payment_method"`
	ByStatus        []ReportBucket `json:"by_status"`
}

const (
	PersonnelAvailable  = "available"
	PersonnelOnDelivery = "on-delivery"
	PersonnelOffDuty    = "off-duty"
)

type DeliveryPersonnel struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	VehicleNumber string    `json:"vehicle_number,omitempty"`
	Availability  string    `json:"availability"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type PersonnelCreateRequest struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicle_number,omitempty"`
}

type PersonnelUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	VehicleNumber *string `json:"vehicle_number,omitempty"`
	Availability  *string `json:"availability,omitempty"`
	Active        *bool   `json:"active,omitempty"`
}

const (
	RouteAssigned   = "assigned"
	RouteInProgress = "in-progress"
	RouteCompleted  = "completed"

	StopPending   = "pending"
	StopDelivered = "delivered"
	StopFailed    = "failed"
)

type DeliveryStop struct {
	SaleID      string     `json:"sale_id"`
	Address     string     `json:"address,omitempty"`
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

type DeliveryRoute struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	PersonnelID string         `json:"personnel_id"`
	Date        time.Time      `json:"date"`
	Stops       []DeliveryStop `json:"stops"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

type DeliveryAssignRequest struct {
	PersonnelID string   `json:"personnel_id"`
	SaleIDs     []string `json:"sale_ids"`
	Date        string   `json:"date,omitempty"`
}

type RouteStopUpdateRequest struct {
	Status string `json:"status"`
}

const (
	ChecklistNewConnection = "new-connection"
	ChecklistRefill        = "refill"
	ChecklistInspection    = "inspection"

	ChecklistPending   = "pending"
	ChecklistCompleted = "completed"
)

type ChecklistItem struct {
	ID        string     `json:"id"`
	Category  string     `json:"category"`
	Item      string     `json:"item"`
	Checked   bool       `json:"checked"`
	CheckedBy string     `json:"checked_by,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	Note      string     `json:"note,omitempty"`
}

type Acknowledgment struct {
	Signature    string    `json:"signature"`
	CustomerName string    `json:"customer_name"`
	At           time.Time `json:"at"`
}

type SafetyChecklist struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	SaleID         string          `json:"sale_id,omitempty"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Type           string          `json:"type"`
	Items          []ChecklistItem `json:"items"`
	Status         string          `json:"status"`
	Acknowledgment *Acknowledgment `json:"acknowledgment,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ChecklistCreateRequest struct {
	SaleID     string `json:"sale_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Type       string `json:"type"`
}

type ChecklistItemCheckRequest struct {
	Note string `json:"note,omitempty"`
}

type AcknowledgeRequest struct {
	Signature    string `json:"signature"`
	CustomerName string `json:"customer_name"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Actor      string    `json:"actor"`
	ActorRole  Role      `json:"actor_role"`
	Action     string    `json:"action"`
	Resource   Resource  `json:"resource"`
	ResourceID string    `json:"resource_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditFilter struct {
	Resource Resource
	Actor    string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

// Actor is the authenticated principal attached to request contexts.
// OwnerID is the tenant the actor works within; for owner accounts it
// equals ID.
type Actor struct {
	ID       string
	Username string
	Role     Role
	OwnerID  string
}

// UserAccount holds auth credentials. Password is a bcrypt hash.
type UserAccount struct {
	ID        string
	Username  string
	Password  string
	Role      Role
	OwnerID   string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// InvoicePrefix is the date component of invoice numbers for the given day.
func InvoicePrefix(t time.Time) string {
	return "LPG" + t.UTC().Format("20060102")
}
