// Package surface is the per-field side of the form: it resolves its role,
// bootstraps against the orchestrator over the bus, keeps a cache of its own
// slice of the card data model and, on the number field, watches for
// platform autofill.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/bus"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
)

var (
	// ErrBootstrap indicates the orchestrator refused the handshake.
	ErrBootstrap = errors.New("surface bootstrap failed")
	// ErrNotStarted is returned by operations that need a completed handshake.
	ErrNotStarted = errors.New("surface not started")
)

// DefaultHandshakeTimeout bounds the FRAME_READY exchange.
const DefaultHandshakeTimeout = 10 * time.Second

type Options struct {
	// Location is the surface's URL; its fragment names the role.
	Location string
	Renderer Renderer

	// Companions are only used by the number surface.
	Companions        *Companions
	Platform          Platform
	Styles            StyleInjector
	RepairPlaceholder PlaceholderRepair

	HandshakeTimeout time.Duration
	PollInterval     time.Duration

	Clock  clockport.Clock
	Logger *zap.Logger
}

type Surface struct {
	role domain.Role
	ep   *bus.Endpoint
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	state       domain.FieldState
	config      protocol.FieldConfig
	component   FieldComponent
	started     bool
	initialized bool

	stopPoll context.CancelFunc
	pollDone chan struct{}
}

// New resolves the role from opts.Location and joins the session's bus.
// An unresolvable role is fatal.
func New(hub *bus.Hub, token domain.SessionToken, opts Options) (*Surface, error) {
	role, err := ResolveRole(opts.Location)
	if err != nil {
		return nil, err
	}
	if opts.Renderer == nil {
		return nil, errors.New("surface renderer is required")
	}
	if opts.Clock == nil {
		return nil, errors.New("surface clock is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	s := &Surface{
		role:  role,
		opts:  opts,
		log:   logging.OrNop(opts.Logger).With(zap.String("role", string(role))),
		state: domain.FieldState{IsEmpty: true, IsPotentiallyValid: true},
	}
	s.ep = hub.Join(token, "surface:"+string(role))
	s.ep.On(protocol.EventAutofillDataAvailable, s.onAutofill)
	s.ep.On(protocol.EventFieldStateChanged, s.onFieldStateChanged)
	return s, nil
}

func (s *Surface) Role() domain.Role { return s.role }

// Name is the surface's bus endpoint name.
func (s *Surface) Name() string { return s.ep.Name() }

// State returns the cached state of this surface's field.
func (s *Surface) State() domain.FieldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Surface) Config() protocol.FieldConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Component returns the rendered field, or nil before Start.
func (s *Surface) Component() FieldComponent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.component
}

// Start announces the surface, waits for the handshake and renders the field.
func (s *Surface) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	msg, err := s.ep.Request(hctx, protocol.EventFrameReady, protocol.FrameReady{Field: s.role})
	if err != nil {
		return fmt.Errorf("frame ready: %w", err)
	}
	var hs protocol.Handshake
	if err := msg.Decode(&hs); err != nil {
		return err
	}
	if hs.Error != "" {
		return fmt.Errorf("%w: %s", ErrBootstrap, hs.Error)
	}

	component, err := s.opts.Renderer.Render(s.role, hs.Config, modelProxy{s: s})
	if err != nil {
		return fmt.Errorf("render %s: %w", s.role, err)
	}
	if s.opts.Styles != nil {
		s.opts.Styles.Inject(FilterStyles(hs.Styles))
	}
	if s.opts.RepairPlaceholder != nil {
		s.opts.RepairPlaceholder(component.Input())
	}

	s.mu.Lock()
	s.state = hs.State
	s.config = hs.Config
	s.component = component
	s.started = true
	s.mu.Unlock()

	if s.role == domain.RoleNumber && hs.AutofillEnabled && s.opts.Companions != nil {
		s.startAutofill(component.Element())
	}
	s.log.Debug("surface started")
	return nil
}

func (s *Surface) startAutofill(el Element) {
	syncer := NewSynchronizer(*s.opts.Companions, s.opts.Platform, s.ep, el, s.opts.PollInterval, s.log)
	syncer.Prepare()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.stopPoll = cancel
	s.pollDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		syncer.Run(ctx)
	}()
}

// Initialize is the entry point the orchestrator calls on every attached
// surface once the model exists.
func (s *Surface) Initialize(ctx context.Context, req protocol.InitRequest) error {
	_ = ctx
	if req.Session != s.ep.Token() {
		return fmt.Errorf("surface %s belongs to a different session", s.role)
	}
	configured := false
	for _, r := range req.Roles {
		if r == s.role {
			configured = true
			break
		}
	}
	if !configured {
		return fmt.Errorf("field %s is not configured for this form", s.role)
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Initialized reports whether the orchestrator has initialized this surface.
func (s *Surface) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// SetValue is a user edit: it writes value into the model, waits for the
// authoritative state and redraws the field.
func (s *Surface) SetValue(ctx context.Context, value string) (domain.FieldState, error) {
	component := s.Component()
	if component == nil {
		return domain.FieldState{}, ErrNotStarted
	}
	st, err := s.write(ctx, protocol.Input{Field: s.role, Value: &value})
	if err != nil {
		return domain.FieldState{}, err
	}
	in := component.Input()
	if in.ShouldMask() {
		in.MaskValue(value)
	} else {
		in.SetDisplayValue(value)
	}
	return st, nil
}

// SetFocused records a focus change in the model.
func (s *Surface) SetFocused(ctx context.Context, focused bool) (domain.FieldState, error) {
	if s.Component() == nil {
		return domain.FieldState{}, ErrNotStarted
	}
	return s.write(ctx, protocol.Input{Field: s.role, IsFocused: &focused})
}

func (s *Surface) write(ctx context.Context, in protocol.Input) (domain.FieldState, error) {
	wctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()
	msg, err := s.ep.Request(wctx, protocol.EventInput, in)
	if err != nil {
		return domain.FieldState{}, fmt.Errorf("update %s: %w", s.role, err)
	}
	var res protocol.InputResult
	if err := msg.Decode(&res); err != nil {
		return domain.FieldState{}, err
	}
	if res.Error != "" {
		return domain.FieldState{}, errors.New(res.Error)
	}
	st, ok := res.States[s.role]
	if !ok {
		return domain.FieldState{}, fmt.Errorf("update %s: no state in reply", s.role)
	}
	s.cache(st)
	return st, nil
}

func (s *Surface) cache(st domain.FieldState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stop cancels the autofill poller and leaves the bus.
func (s *Surface) Stop() {
	s.mu.Lock()
	cancel, done := s.stopPoll, s.pollDone
	s.stopPoll, s.pollDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.ep.Close()
}

func (s *Surface) onAutofill(msg bus.Message, _ bus.Reply) {
	var p domain.AutofillPayload
	if err := msg.Decode(&p); err != nil {
		s.log.Warn("bad autofill payload", zap.Error(err))
		return
	}
	value, ok := AutofillValue(s.role, p, s.opts.Clock)
	if !ok {
		return
	}
	component := s.Component()
	if component == nil {
		return
	}
	ApplyAutofill(component.Input(), value)
}

func (s *Surface) onFieldStateChanged(msg bus.Message, _ bus.Reply) {
	var ch protocol.FieldStateChanged
	if err := msg.Decode(&ch); err != nil {
		s.log.Warn("bad field state payload", zap.Error(err))
		return
	}
	if ch.Field == s.role {
		s.cache(ch.State)
	}
}

// modelProxy forwards component edits to the orchestrator without blocking the caller.
type modelProxy struct {
	s *Surface
}

func (p modelProxy) Update(key string, value any) {
	in := protocol.Input{Field: p.s.role}
	switch key {
	case "value":
		v, ok := value.(string)
		if !ok {
			p.s.log.Warn("model value must be a string", zap.Any("value", value))
			return
		}
		in.Value = &v
	case "isFocused":
		f, ok := value.(bool)
		if !ok {
			p.s.log.Warn("model focus must be a bool", zap.Any("value", value))
			return
		}
		in.IsFocused = &f
	default:
		p.s.log.Warn("unknown model key", zap.String("key", key))
		return
	}
	err := p.s.ep.EmitWithReply(protocol.EventInput, in, func(msg bus.Message) {
		var res protocol.InputResult
		if err := msg.Decode(&res); err != nil || res.Error != "" {
			p.s.log.Warn("model update rejected", zap.String("error", res.Error), zap.Error(err))
			return
		}
		if st, ok := res.States[p.s.role]; ok {
			p.s.cache(st)
		}
	})
	if err != nil {
		p.s.log.Warn("model update not sent", zap.Error(err))
	}
}
