package headless

import (
	"sync"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/orchestrator"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/surface"
)

// Companion is a hidden input that the platform's autofill can write into.
type Companion struct {
	mu           sync.Mutex
	value        string
	tabReachable bool
	focused      bool
	onFocus      func(pointer bool)
}

var _ surface.CompanionInput = (*Companion)(nil)

func (c *Companion) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Fill simulates the platform writing v into the input.
func (c *Companion) Fill(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

func (c *Companion) SetTabReachable(reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabReachable = reachable
}

func (c *Companion) TabReachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tabReachable
}

func (c *Companion) OnFocus(fn func(pointer bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFocus = fn
}

// Focus simulates focus arriving by pointer or keyboard.
func (c *Companion) Focus(pointer bool) {
	c.mu.Lock()
	c.focused = true
	fn := c.onFocus
	c.mu.Unlock()
	if fn != nil {
		fn(pointer)
	}
}

func (c *Companion) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = false
}

func (c *Companion) Focused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// NewCompanions returns an empty set of month, year and cvv companions.
func NewCompanions() (surface.Companions, *Companion, *Companion, *Companion) {
	m, y, c := &Companion{}, &Companion{}, &Companion{}
	return surface.Companions{Month: m, Year: y, CVV: c}, m, y, c
}

// Platform is a fixed answer to the platform predicate.
type Platform struct {
	RequiresTabReachable bool
}

func (p Platform) AutofillRequiresTabReachable() bool { return p.RequiresTabReachable }

// StyleSheet records injected styles.
type StyleSheet struct {
	mu     sync.Mutex
	styles map[string]map[string]string
}

func (s *StyleSheet) Inject(styles map[string]map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.styles = styles
}

func (s *StyleSheet) Styles() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.styles
}

// Document is the host page's list of attached surfaces.
type Document struct {
	mu       sync.Mutex
	attached []orchestrator.Attachable
}

func (d *Document) Attach(a orchestrator.Attachable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = append(d.attached, a)
}

func (d *Document) Attached() []orchestrator.Attachable {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]orchestrator.Attachable(nil), d.attached...)
}
