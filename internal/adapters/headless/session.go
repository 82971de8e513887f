package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/analytics"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/orchestrator"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/surface"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/bus"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/config"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

const (
	hostEndpoint = "host"
	fieldPage    = "https://fields.hosted-fields.local/field.html"
)

var (
	// ErrUnknownField is returned for a role the session's form does not configure.
	ErrUnknownField = errors.New("field is not configured for this session")
	// ErrAutofillUnavailable is returned when the form has no autofill-capable number field.
	ErrAutofillUnavailable = errors.New("autofill is not available for this session")
	// ErrSessionStart wraps a bootstrap failure of any surface.
	ErrSessionStart = errors.New("session could not start")
)

// SessionConfig is shared by every session a Manager opens.
type SessionConfig struct {
	Form        config.FormConfig
	Credentials Credentials
	Factory     gateway.Factory
	Sink        telemetry.Sink
	Platform    surface.Platform

	Clock  clockport.Clock
	Logger *zap.Logger
}

// Session is one headless form: a host page, its orchestrator and a surface
// per configured field, joined on the bus under a single token.
type Session struct {
	token     domain.SessionToken
	createdAt time.Time
	cfg       SessionConfig
	log       *zap.Logger

	host     *bus.Endpoint
	orch     *orchestrator.Orchestrator
	reporter *analytics.Reporter
	renderer *Renderer
	styles   *StyleSheet
	doc      *Document
	surfaces map[domain.Role]*surface.Surface

	month, year, cvv *Companion

	closeOnce sync.Once
}

// OpenSession assembles a form on hub and waits until every surface has
// completed its handshake.
func OpenSession(ctx context.Context, hub *bus.Hub, token domain.SessionToken, cfg SessionConfig) (*Session, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("session credentials are required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("session gateway factory is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("session clock is required")
	}
	if err := cfg.Form.Validate(); err != nil {
		return nil, err
	}

	log := logging.OrNop(cfg.Logger).With(zap.String("session", string(token)))
	companions, m, y, c := NewCompanions()
	s := &Session{
		token:     token,
		createdAt: cfg.Clock.Now(),
		cfg:       cfg,
		log:       log,
		reporter:  analytics.NewReporter(cfg.Sink, token, cfg.Clock, log),
		renderer:  NewRenderer(),
		styles:    &StyleSheet{},
		doc:       &Document{},
		surfaces:  make(map[domain.Role]*surface.Surface),
		month:     m,
		year:      y,
		cvv:       c,
	}

	s.host = hub.Join(token, hostEndpoint)
	s.host.On(protocol.EventReadyForClient, s.onReadyForClient)

	roles := cfg.Form.Roles()
	fields := make(map[domain.Role]protocol.FieldConfig, len(roles))
	for _, role := range roles {
		fo := cfg.Form.Fields[string(role)]
		fields[role] = protocol.FieldConfig{
			Placeholder:            fo.Placeholder,
			Mask:                   fo.Mask,
			RejectUnsupportedCards: fo.RejectUnsupportedCards,
		}
	}

	orch, err := orchestrator.New(hub, token, orchestrator.Options{
		Fields:              fields,
		Styles:              cfg.Form.Styles,
		SupportedCardBrands: cfg.Form.Brands(),
		AutofillDisabled:    cfg.Form.Autofill.Disabled,
		HandshakeTimeout:    cfg.Form.HandshakeTimeout,
		Factory:             cfg.Factory,
		Document:            s.doc,
		Analytics:           s.reporter,
		Clock:               cfg.Clock,
		Logger:              log,
	})
	if err != nil {
		s.host.Close()
		return nil, err
	}
	s.orch = orch

	for _, role := range roles {
		opts := surface.Options{
			Location:         fieldPage + "#" + string(role),
			Renderer:         s.renderer,
			Platform:         cfg.Platform,
			Styles:           s.styles,
			HandshakeTimeout: cfg.Form.HandshakeTimeout,
			PollInterval:     cfg.Form.AutofillPollInterval,
			Clock:            cfg.Clock,
			Logger:           log,
		}
		if role == domain.RoleNumber {
			opts.Companions = &companions
		}
		sf, err := surface.New(hub, token, opts)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.surfaces[role] = sf
		s.doc.Attach(sf)
	}

	s.orch.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, sf := range s.surfaces {
		sf := sf
		g.Go(func() error { return sf.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrSessionStart, err)
	}
	log.Info("session opened", zap.Int("fields", len(roles)))
	return s, nil
}

func (s *Session) Token() domain.SessionToken { return s.token }
func (s *Session) CreatedAt() time.Time       { return s.createdAt }

// onReadyForClient answers off the loop since credentials may need a round trip.
func (s *Session) onReadyForClient(_ bus.Message, reply bus.Reply) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Form.HandshakeTimeout)
		defer cancel()
		cc, err := s.cfg.Credentials.ClientConfiguration(ctx)
		if err != nil {
			s.log.Warn("client credentials unavailable", zap.Error(err))
			reply(protocol.ClientConfiguration{Error: err.Error()})
			return
		}
		reply(cc)
	}()
}

func (s *Session) lookup(role domain.Role) (*surface.Surface, error) {
	sf, ok := s.surfaces[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, role)
	}
	return sf, nil
}

// Type replaces the value of role as if the user had typed it.
func (s *Session) Type(ctx context.Context, role domain.Role, value string) (domain.FieldState, error) {
	sf, err := s.lookup(role)
	if err != nil {
		return domain.FieldState{}, err
	}
	return sf.SetValue(ctx, value)
}

func (s *Session) Focus(ctx context.Context, role domain.Role, focused bool) (domain.FieldState, error) {
	sf, err := s.lookup(role)
	if err != nil {
		return domain.FieldState{}, err
	}
	return sf.SetFocused(ctx, focused)
}

// Autofill writes into the hidden companion inputs the way a platform's
// autofill would. The number surface picks the values up on its next poll.
func (s *Session) Autofill(p domain.AutofillPayload) error {
	if _, ok := s.surfaces[domain.RoleNumber]; !ok || s.cfg.Form.Autofill.Disabled {
		return ErrAutofillUnavailable
	}
	s.month.Fill(p.Month)
	s.year.Fill(p.Year)
	if p.CVV != nil {
		s.cvv.Fill(*p.CVV)
	} else {
		s.cvv.Fill("")
	}
	return nil
}

// Tokenize submits the form from the host page.
func (s *Session) Tokenize(ctx context.Context, req domain.TokenizationRequest) (domain.TokenizeResult, error) {
	msg, err := s.host.Request(ctx, protocol.EventTokenizationRequest, req)
	if err != nil {
		return domain.TokenizeResult{}, err
	}
	return orchestrator.DecodeTokenizeReply(msg.Payload)
}

// FieldView pairs a field's authoritative state with what it displays.
type FieldView struct {
	State domain.FieldState `json:"state"`
	View  View              `json:"view"`
}

// State is a point-in-time read of the whole session.
type State struct {
	Token              domain.SessionToken          `json:"token"`
	CreatedAt          time.Time                    `json:"createdAt"`
	Fields             map[domain.Role]FieldView    `json:"fields"`
	SupportedCardTypes []domain.CardBrand           `json:"supportedCardTypes,omitempty"`
	ClientReady        bool                         `json:"clientReady"`
	ClientError        string                       `json:"clientError,omitempty"`
	Styles             map[string]map[string]string `json:"styles,omitempty"`
}

func (s *Session) State(ctx context.Context) (State, error) {
	snap, err := s.orch.Snapshot(ctx)
	if err != nil {
		return State{}, err
	}
	st := State{
		Token:              s.token,
		CreatedAt:          s.createdAt,
		Fields:             make(map[domain.Role]FieldView, len(snap.Fields)),
		SupportedCardTypes: snap.SupportedCardTypes,
		ClientReady:        snap.ClientReady,
		ClientError:        snap.ClientError,
		Styles:             s.styles.Styles(),
	}
	for role, fs := range snap.Fields {
		fv := FieldView{State: fs}
		if f, ok := s.renderer.Field(role); ok {
			fv.View = f.View()
		}
		st.Fields[role] = fv
	}
	return st, nil
}

// Diagnostics returns the per-surface initialization results.
func (s *Session) Diagnostics() []orchestrator.InitResult {
	return s.orch.Diagnostics()
}

// Telemetry lists the analytics events recorded for this session.
func (s *Session) Telemetry(ctx context.Context) ([]telemetry.Event, error) {
	if s.cfg.Sink == nil {
		return nil, nil
	}
	s.reporter.Flush()
	return s.cfg.Sink.List(ctx, s.token)
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sf := range s.surfaces {
			sf.Stop()
		}
		if s.orch != nil {
			s.orch.Close()
		}
		s.host.Close()
		s.reporter.Flush()
		s.log.Info("session closed")
	})
}
