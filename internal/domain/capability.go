package domain

// Role is the closed set of account roles.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

func IsValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff:
		return true
	}
	return false
}

// Capability is a single permission checked at the API boundary. Roles map
// to explicit capability sets; there is no wildcard grant.
type Capability string

const (
	CapProductRead    Capability = "product:read"
	CapProductWrite   Capability = "product:write"
	CapCylinderRead   Capability = "cylinder:read"
	CapCylinderWrite  Capability = "cylinder:write"
	CapCustomerRead   Capability = "customer:read"
	CapCustomerWrite  Capability = "customer:write"
	CapSaleRead       Capability = "sale:read"
	CapSaleCreate     Capability = "sale:create"
	CapSalePayment    Capability = "sale:payment"
	CapReportRead     Capability = "report:read"
	CapDeliveryRead   Capability = "delivery:read"
	CapDeliveryWrite  Capability = "delivery:write"
	CapSafetyRead     Capability = "safety:read"
	CapSafetyWrite    Capability = "safety:write"
	CapAuditRead      Capability = "audit:read"
	CapStaffManage    Capability = "staff:manage"
)

var roleCapabilities = map[Role][]Capability{
	RoleOwner: {
		CapProductRead, CapProductWrite,
		CapCylinderRead, CapCylinderWrite,
		CapCustomerRead, CapCustomerWrite,
		CapSaleRead, CapSaleCreate, CapSalePayment,
		CapReportRead,
		CapDeliveryRead, CapDeliveryWrite,
		CapSafetyRead, CapSafetyWrite,
		CapAuditRead,
		CapStaffManage,
	},
	RoleManager: {
		CapProductRead, CapProductWrite,
		CapCylinderRead, CapCylinderWrite,
		CapCustomerRead, CapCustomerWrite,
		CapSaleRead, CapSaleCreate, CapSalePayment,
		CapReportRead,
		CapDeliveryRead, CapDeliveryWrite,
		CapSafetyRead, CapSafetyWrite,
		CapAuditRead,
	},
	RoleStaff: {
		CapProductRead,
		CapCylinderRead,
		CapCustomerRead, CapCustomerWrite,
		CapSaleRead, CapSaleCreate,
		CapDeliveryRead,
		CapSafetyRead, CapSafetyWrite,
	},
}

// HasCapability reports whether the role grants the capability.
func HasCapability(r Role, c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Resource identifies the entity kind an audit entry refers to.
type Resource string

const (
	ResourceProduct   Resource = "product"
	ResourceCylinder  Resource = "cylinder"
	ResourceCustomer  Resource = "customer"
	ResourceSale      Resource = "sale"
	ResourcePersonnel Resource = "personnel"
	ResourceRoute     Resource = "route"
	ResourceChecklist Resource = "checklist"
	ResourceUser      Resource = "user"
)

func IsValidResource(r Resource) bool {
	switch r {
	case ResourceProduct, ResourceCylinder, ResourceCustomer, ResourceSale,
		ResourcePersonnel, ResourceRoute, ResourceChecklist, ResourceUser:
		return true
	}
	return false
}
