package cardform

import (
	"reflect"
	"testing"
	"time"

	memclock "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

var allRoles = []domain.Role{
	domain.RoleNumber,
	domain.RoleCVV,
	domain.RoleExpirationDate,
	domain.RolePostalCode,
}

func newModel(t *testing.T, roles ...domain.Role) *Model {
	t.Helper()
	if len(roles) == 0 {
		roles = allRoles
	}
	return NewModel(roles, memclock.NewManualClock(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func set(t *testing.T, m *Model, role domain.Role, v string) {
	t.Helper()
	if _, err := m.SetValue(role, v); err != nil {
		t.Fatalf("SetValue(%s) err=%v", role, err)
	}
}

func TestModel_StartsEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	if !m.IsEmpty(allRoles) {
		t.Fatalf("new model should be empty")
	}
	if got := m.InvalidFieldKeys(allRoles); !reflect.DeepEqual(got, allRoles) {
		t.Fatalf("InvalidFieldKeys=%v, want all roles", got)
	}
}

func TestModel_ValidCard(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	set(t, m, domain.RoleNumber, "4111 1111 1111 1111")
	set(t, m, domain.RoleCVV, "123")
	set(t, m, domain.RoleExpirationDate, "12 / 29")
	set(t, m, domain.RolePostalCode, "94107")

	if got := m.InvalidFieldKeys(allRoles); len(got) != 0 {
		t.Fatalf("InvalidFieldKeys=%v, want none", got)
	}
	cd := m.GetCardData(allRoles)
	want := domain.CardData{
		Number:          "4111111111111111",
		CVV:             "123",
		ExpirationMonth: "12",
		ExpirationYear:  "2029",
		BillingAddress:  map[string]string{"postalCode": "94107"},
	}
	if !reflect.DeepEqual(cd, want) {
		t.Fatalf("GetCardData=%+v, want %+v", cd, want)
	}
}

func TestModel_InvalidFieldKeysOnlyRequested(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	set(t, m, domain.RoleNumber, "4111111111111112")
	set(t, m, domain.RoleCVV, "123")

	got := m.InvalidFieldKeys([]domain.Role{domain.RoleNumber, domain.RoleCVV})
	if !reflect.DeepEqual(got, []domain.Role{domain.RoleNumber}) {
		t.Fatalf("InvalidFieldKeys=%v, want [number]", got)
	}
}

func TestModel_CVVRevalidatedWhenNumberBrandChanges(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	set(t, m, domain.RoleCVV, "1234")
	if s, _ := m.State(domain.RoleCVV); !s.IsValid {
		t.Fatalf("4-digit cvv should be valid without a number")
	}
	changed, err := m.SetValue(domain.RoleNumber, "4111111111111111")
	if err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if s, ok := changed[domain.RoleCVV]; !ok || s.IsValid {
		t.Fatalf("cvv should be revalidated as invalid for visa, got %+v ok=%v", s, ok)
	}
	set(t, m, domain.RoleNumber, "378282246310005")
	if s, _ := m.State(domain.RoleCVV); !s.IsValid {
		t.Fatalf("4-digit cvv should be valid for amex")
	}
}

func TestModel_SupportedCardTypesRejectsBrand(t *testing.T) {
	t.Parallel()

	m := newModel(t)
	set(t, m, domain.RoleNumber, "378282246310005")
	if s, _ := m.State(domain.RoleNumber); !s.IsValid {
		t.Fatalf("amex should be valid while unrestricted")
	}

	m.SetSupportedCardTypes(map[domain.CardBrand]bool{domain.BrandVisa: true, domain.BrandAmericanExpress: false})
	if s := m.ValidateField(domain.RoleNumber); s.IsValid {
		t.Fatalf("amex should be invalid once unaccepted")
	}
	if got := m.SupportedCardTypes(); !reflect.DeepEqual(got, []domain.CardBrand{domain.BrandVisa}) {
		t.Fatalf("SupportedCardTypes=%v", got)
	}
}

func TestModel_SetValueUnknownRole(t *testing.T) {
	t.Parallel()

	m := newModel(t, domain.RoleNumber)
	if _, err := m.SetValue(domain.RoleCVV, "123"); err == nil {
		t.Fatalf("expected error for unconfigured role")
	}
	if _, err := m.SetFocused(domain.RoleCVV, true); err == nil {
		t.Fatalf("expected error for unconfigured role")
	}
}

func TestModel_SplitExpirationAndNames(t *testing.T) {
	t.Parallel()

	roles := []domain.Role{domain.RoleExpirationMonth, domain.RoleExpirationYear, domain.RoleCardholderName}
	m := newModel(t, roles...)
	set(t, m, domain.RoleExpirationMonth, "07")
	set(t, m, domain.RoleExpirationYear, "31")
	set(t, m, domain.RoleCardholderName, "  Ada Lovelace ")

	if got := m.InvalidFieldKeys(roles); len(got) != 0 {
		t.Fatalf("InvalidFieldKeys=%v", got)
	}
	cd := m.GetCardData(roles)
	if cd.ExpirationMonth != "07" || cd.ExpirationYear != "2031" || cd.CardholderName != "Ada Lovelace" {
		t.Fatalf("GetCardData=%+v", cd)
	}
}
