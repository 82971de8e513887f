package cardform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
)

// Form is the card data model as the tokenization pipeline and orchestrator see it.
type Form interface {
	IsEmpty(fields []domain.Role) bool
	InvalidFieldKeys(fields []domain.Role) []domain.Role
	GetCardData(fields []domain.Role) domain.CardData
	SetSupportedCardTypes(accepted map[domain.CardBrand]bool)
	ValidateField(role domain.Role) domain.FieldState
}

// Model is the authoritative card data model.
//
// Model is not safe for concurrent use: the orchestrator confines it to its bus
// endpoint's loop, which is the only writer.
type Model struct {
	clk clockport.Clock

	order    []domain.Role
	fields   map[domain.Role]domain.FieldState
	accepted map[domain.CardBrand]bool
}

var _ Form = (*Model)(nil)

// NewModel builds a model for the configured roles, every field empty.
func NewModel(roles []domain.Role, clk clockport.Clock) *Model {
	m := &Model{
		clk:    clk,
		fields: make(map[domain.Role]domain.FieldState, len(roles)),
	}
	for _, r := range roles {
		if _, dup := m.fields[r]; dup {
			continue
		}
		m.order = append(m.order, r)
		m.fields[r] = domain.FieldState{IsEmpty: true, IsPotentiallyValid: true}
	}
	return m
}

// Roles returns the configured roles in configuration order.
func (m *Model) Roles() []domain.Role {
	return append([]domain.Role(nil), m.order...)
}

func (m *Model) Has(role domain.Role) bool {
	_, ok := m.fields[role]
	return ok
}

func (m *Model) State(role domain.Role) (domain.FieldState, bool) {
	s, ok := m.fields[role]
	return s, ok
}

// Snapshot copies every field's state.
func (m *Model) Snapshot() map[domain.Role]domain.FieldState {
	out := make(map[domain.Role]domain.FieldState, len(m.fields))
	for k, v := range m.fields {
		out[k] = v
	}
	return out
}

// SetValue stores a new value for role and revalidates it. Roles whose
// validity depends on it (cvv on number) are revalidated too; their new states
// are returned alongside role's.
func (m *Model) SetValue(role domain.Role, value string) (map[domain.Role]domain.FieldState, error) {
	s, ok := m.fields[role]
	if !ok {
		return nil, fmt.Errorf("field %q is not configured", role)
	}
	s.Value = value
	m.fields[role] = s

	changed := map[domain.Role]domain.FieldState{role: m.ValidateField(role)}
	if role == domain.RoleNumber && m.Has(domain.RoleCVV) {
		changed[domain.RoleCVV] = m.ValidateField(domain.RoleCVV)
	}
	return changed, nil
}

// SetFocused records focus for role.
func (m *Model) SetFocused(role domain.Role, focused bool) (domain.FieldState, error) {
	s, ok := m.fields[role]
	if !ok {
		return domain.FieldState{}, fmt.Errorf("field %q is not configured", role)
	}
	s.IsFocused = focused
	m.fields[role] = s
	return s, nil
}

// SetSupportedCardTypes replaces the accepted brand set. A nil map accepts every brand.
func (m *Model) SetSupportedCardTypes(accepted map[domain.CardBrand]bool) {
	if accepted == nil {
		m.accepted = nil
		return
	}
	m.accepted = make(map[domain.CardBrand]bool, len(accepted))
	for k, v := range accepted {
		m.accepted[k] = v
	}
}

// SupportedCardTypes returns the accepted brands, sorted, or nil when unrestricted.
func (m *Model) SupportedCardTypes() []domain.CardBrand {
	if m.accepted == nil {
		return nil
	}
	out := make([]domain.CardBrand, 0, len(m.accepted))
	for b, ok := range m.accepted {
		if ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateField recomputes validity flags for role from its current value.
func (m *Model) ValidateField(role domain.Role) domain.FieldState {
	s, ok := m.fields[role]
	if !ok {
		return domain.FieldState{}
	}
	now := m.clk.Now()

	var v verdict
	switch role {
	case domain.RoleNumber:
		v = validateNumber(s.Value, m.accepted)
	case domain.RoleCVV:
		v = validateCVV(s.Value, m.fields[domain.RoleNumber].Value)
	case domain.RoleExpirationDate:
		v = validateExpirationDate(s.Value, now)
	case domain.RoleExpirationMonth:
		v = validateExpirationMonth(s.Value)
	case domain.RoleExpirationYear:
		v = validateExpirationYear(s.Value, now)
	case domain.RolePostalCode:
		v = validatePostalCode(s.Value)
	case domain.RoleCardholderName:
		v = validateCardholderName(s.Value)
	}
	s.IsEmpty = strings.TrimSpace(s.Value) == ""
	s.IsValid = v.valid
	s.IsPotentiallyValid = v.potentiallyValid
	m.fields[role] = s
	return s
}

// IsEmpty reports whether every requested, configured field is empty.
func (m *Model) IsEmpty(fields []domain.Role) bool {
	for _, r := range fields {
		if s, ok := m.fields[r]; ok && !s.IsEmpty {
			return false
		}
	}
	return true
}

// InvalidFieldKeys returns the requested, configured fields that fail validation,
// in request order.
func (m *Model) InvalidFieldKeys(fields []domain.Role) []domain.Role {
	var out []domain.Role
	for _, r := range fields {
		if s, ok := m.fields[r]; ok && !s.IsValid {
			out = append(out, r)
		}
	}
	return out
}

// GetCardData assembles the requested fields into the gateway's card shape.
func (m *Model) GetCardData(fields []domain.Role) domain.CardData {
	var cd domain.CardData
	now := m.clk.Now()
	for _, r := range fields {
		s, ok := m.fields[r]
		if !ok {
			continue
		}
		v := strings.TrimSpace(s.Value)
		switch r {
		case domain.RoleNumber:
			cd.Number = domain.NormalizeDigits(v)
		case domain.RoleCVV:
			cd.CVV = v
		case domain.RoleExpirationDate:
			if month, year, ok := ParseExpirationDate(v, now); ok {
				cd.ExpirationMonth, cd.ExpirationYear = month, year
			}
		case domain.RoleExpirationMonth:
			cd.ExpirationMonth = v
		case domain.RoleExpirationYear:
			cd.ExpirationYear = WidenYear(v, now)
		case domain.RolePostalCode:
			if v != "" {
				if cd.BillingAddress == nil {
					cd.BillingAddress = map[string]string{}
				}
				cd.BillingAddress["postalCode"] = v
			}
		case domain.RoleCardholderName:
			cd.CardholderName = v
		}
	}
	return cd
}
