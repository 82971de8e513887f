// Package headless renders fields without a display: values, masking and
// placeholder redraws are recorded so a session can be driven and inspected
// over HTTP or from tests.
package headless

import (
	"strings"
	"sync"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/surface"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

const maskChar = "•"

// Field is a rendered field. It is both the component's element and its input.
type Field struct {
	role  domain.Role
	cfg   protocol.FieldConfig
	model surface.ModelUpdater

	mu                sync.Mutex
	display           string
	placeholderResets int
	nudges            int
}

var (
	_ surface.FieldComponent = (*Field)(nil)
	_ surface.Input          = (*Field)(nil)
	_ surface.Element        = (*Field)(nil)
)

func (f *Field) Element() surface.Element { return f }
func (f *Field) Input() surface.Input     { return f }

func (f *Field) Role() domain.Role { return f.role }

func (f *Field) UpdateModel(key string, value any) {
	if f.model != nil {
		f.model.Update(key, value)
	}
}

func (f *Field) ShouldMask() bool { return f.cfg.Mask }

func (f *Field) MaskValue(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.display = strings.Repeat(maskChar, len([]rune(value)))
}

func (f *Field) SetDisplayValue(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.display = value
}

func (f *Field) ResetPlaceholder() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeholderResets++
}

func (f *Field) Nudge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nudges++
}

// View is what a user would see in the field.
type View struct {
	Display           string `json:"display"`
	Placeholder       string `json:"placeholder,omitempty"`
	Masked            bool   `json:"masked"`
	PlaceholderResets int    `json:"placeholderResets"`
	Nudges            int    `json:"nudges"`
}

func (f *Field) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return View{
		Display:           f.display,
		Placeholder:       f.cfg.Placeholder,
		Masked:            f.cfg.Mask,
		PlaceholderResets: f.placeholderResets,
		Nudges:            f.nudges,
	}
}

// Renderer builds headless fields and keeps them addressable by role.
type Renderer struct {
	mu     sync.Mutex
	fields map[domain.Role]*Field
}

func NewRenderer() *Renderer {
	return &Renderer{fields: make(map[domain.Role]*Field)}
}

func (r *Renderer) Render(role domain.Role, cfg protocol.FieldConfig, model surface.ModelUpdater) (surface.FieldComponent, error) {
	f := &Field{role: role, cfg: cfg, model: model}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[role] = f
	return f, nil
}

func (r *Renderer) Field(role domain.Role) (*Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[role]
	return f, ok
}
