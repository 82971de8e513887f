package surface

import (
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// ModelUpdater forwards a field change to the authoritative card data model.
// key is "value" (string) or "isFocused" (bool).
type ModelUpdater interface {
	Update(key string, value any)
}

// Input is the visible input control of a rendered field.
type Input interface {
	UpdateModel(key string, value any)
	ShouldMask() bool
	MaskValue(value string)
	SetDisplayValue(value string)
	ResetPlaceholder()
}

// Element is the rendered field's outer element.
type Element interface {
	// Nudge forces a layout pass so the field stays visible after autofill
	// repositions the form.
	Nudge()
}

// FieldComponent is one rendered field.
type FieldComponent interface {
	Element() Element
	Input() Input
}

// Renderer builds the field component for a surface once its handshake completes.
type Renderer interface {
	Render(role domain.Role, cfg protocol.FieldConfig, model ModelUpdater) (FieldComponent, error)
}

// CompanionInput is a hidden input placed where platform autofill can fill it.
type CompanionInput interface {
	Value() string
	SetTabReachable(reachable bool)
	// OnFocus registers fn to run when the input gains focus; pointer reports
	// whether focus came from a pointer device.
	OnFocus(fn func(pointer bool))
	Blur()
}

// Companions are the number surface's autofill companion inputs.
type Companions struct {
	Month CompanionInput
	Year  CompanionInput
	CVV   CompanionInput
}

func (c Companions) all() []CompanionInput {
	return []CompanionInput{c.Month, c.Year, c.CVV}
}

// Platform answers host-platform questions.
type Platform interface {
	// AutofillRequiresTabReachable reports whether the platform only autofills
	// inputs that keyboard navigation can reach.
	AutofillRequiresTabReachable() bool
}

// StyleInjector applies merchant styles to the surface.
type StyleInjector interface {
	Inject(styles map[string]map[string]string)
}

// PlaceholderRepair is an optional host hook run once at startup.
type PlaceholderRepair func(in Input)
