package enums

type CustomerRole string

const (
	CustomerRoleShopper CustomerRole = "shopper"
	CustomerRoleAdmin   CustomerRole = "admin"
)

var customerRoles = values[CustomerRole]{CustomerRoleShopper, CustomerRoleAdmin}

func (r CustomerRole) IsValid() bool { return customerRoles.has(r) }

func ParseCustomerRole(raw string) (CustomerRole, error) {
	return customerRoles.parse("customer role", raw)
}
