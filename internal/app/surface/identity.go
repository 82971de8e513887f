package surface

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// ErrUnknownRole indicates a surface location that names no recognized role.
var ErrUnknownRole = errors.New("surface location does not name a known field role")

// ResolveRole derives a surface's role from the fragment of its location URL
// ("https://assets.example/hosted-fields.html#cvv" -> cvv).
func ResolveRole(location string) (domain.Role, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnknownRole, err)
	}
	role, ok := domain.ParseRole(u.Fragment)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, u.Fragment)
	}
	return role, nil
}
