package domain

// Role is the logical field identity assigned to a surface.
type Role string

const (
	RoleNumber          Role = "number"
	RoleCVV             Role = "cvv"
	RoleExpirationDate  Role = "expirationDate"
	RoleExpirationMonth Role = "expirationMonth"
	RoleExpirationYear  Role = "expirationYear"
	RolePostalCode      Role = "postalCode"
	RoleCardholderName  Role = "cardholderName"
)

// Roles lists every recognized role in a stable order.
var Roles = []Role{
	RoleNumber,
	RoleCardholderName,
	RoleCVV,
	RoleExpirationDate,
	RoleExpirationMonth,
	RoleExpirationYear,
	RolePostalCode,
}

// ParseRole returns the Role named by s, or false if s is not a recognized role.
// Matching is exact: role names are camelCase on the wire.
func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

func (r Role) String() string { return string(r) }
