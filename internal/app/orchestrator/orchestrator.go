// Package orchestrator is the host-page side of a form. It owns the card data
// model, answers surface handshakes, builds the gateway client and runs
// tokenization requests.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/cardform"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/tokenize"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/bus"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/deferred"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

// EndpointName is the orchestrator's name on the bus.
const EndpointName = "orchestrator"

// DefaultHandshakeTimeout bounds the READY_FOR_CLIENT exchange.
const DefaultHandshakeTimeout = 10 * time.Second

type Options struct {
	// Fields maps every configured role to its surface configuration.
	Fields map[domain.Role]protocol.FieldConfig
	Styles map[string]map[string]string
	// SupportedCardBrands are per-brand overrides of what the gateway supports.
	SupportedCardBrands map[domain.CardBrand]bool
	AutofillDisabled    bool

	HandshakeTimeout time.Duration

	Factory   gateway.Factory
	Document  Document
	Analytics tokenize.Analytics

	Clock  clockport.Clock
	Logger *zap.Logger
}

type Orchestrator struct {
	ep       *bus.Endpoint
	opts     Options
	log      *zap.Logger
	roles    []domain.Role
	client   *deferred.Value[gateway.Client]
	pipeline *tokenize.Pipeline

	// model is only touched on ep's loop.
	model *cardform.Model

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	mu        sync.Mutex
	diags     []InitResult
}

func New(hub *bus.Hub, token domain.SessionToken, opts Options) (*Orchestrator, error) {
	if len(opts.Fields) == 0 {
		return nil, errors.New("at least one field must be configured")
	}
	if opts.Factory == nil {
		return nil, errors.New("gateway client factory is required")
	}
	if opts.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	var roles []domain.Role
	for _, r := range domain.Roles {
		if _, ok := opts.Fields[r]; ok {
			roles = append(roles, r)
		}
	}
	if len(roles) != len(opts.Fields) {
		return nil, errors.New("fields configuration names an unknown role")
	}

	o := &Orchestrator{
		opts:   opts,
		log:    logging.OrNop(opts.Logger).With(zap.String("session", string(token))),
		roles:  roles,
		client: deferred.New[gateway.Client](),
		model:  cardform.NewModel(roles, opts.Clock),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.ep = hub.Join(token, EndpointName)
	o.pipeline = tokenize.NewPipeline(o.client, o.withForm, opts.Analytics, o.log)
	o.pipeline.Fields = roles
	o.pipeline.ClientTimeout = opts.HandshakeTimeout

	o.ep.On(protocol.EventFrameReady, o.onFrameReady)
	o.ep.On(protocol.EventInput, o.onInput)
	o.ep.On(protocol.EventTokenizationRequest, o.onTokenizationRequest)
	return o, nil
}

// Roles returns the configured roles in canonical order.
func (o *Orchestrator) Roles() []domain.Role {
	return append([]domain.Role(nil), o.roles...)
}

// Client is the deferred gateway client.
func (o *Orchestrator) Client() *deferred.Value[gateway.Client] { return o.client }

// Start initializes attached surfaces and begins building the gateway client.
// It returns once surface initialization is done; the client settles later.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		results := o.initializeSurfaces(ctx)
		o.mu.Lock()
		o.diags = results
		o.mu.Unlock()

		go o.buildClient()
	})
}

// Diagnostics returns the surface initialization results.
func (o *Orchestrator) Diagnostics() []InitResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]InitResult(nil), o.diags...)
}

// Snapshot is a read of the authoritative model.
type Snapshot struct {
	Fields             map[domain.Role]domain.FieldState `json:"fields"`
	SupportedCardTypes []domain.CardBrand                `json:"supportedCardTypes,omitempty"`
	ClientReady        bool                              `json:"clientReady"`
	ClientError        string                            `json:"clientError,omitempty"`
}

func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := o.ep.Do(ctx, func() {
		snap.Fields = o.model.Snapshot()
		snap.SupportedCardTypes = o.model.SupportedCardTypes()
	})
	if err != nil {
		return Snapshot{}, err
	}
	switch _, cerr := o.client.Peek(); {
	case cerr == nil:
		snap.ClientReady = true
	case !errors.Is(cerr, deferred.ErrPending):
		snap.ClientError = cerr.Error()
	}
	return snap, nil
}

// Tokenize runs the pipeline directly, bypassing the bus.
func (o *Orchestrator) Tokenize(ctx context.Context, req domain.TokenizationRequest) (domain.TokenizeResult, error) {
	return o.pipeline.Tokenize(ctx, req)
}

// Close leaves the bus. Pending handshakes are abandoned.
func (o *Orchestrator) Close() {
	o.cancel()
	o.ep.Close()
	o.client.Reject(bus.ErrClosed)
}

func (o *Orchestrator) withForm(ctx context.Context, fn func(cardform.Form)) error {
	return o.ep.Do(ctx, func() { fn(o.model) })
}

func (o *Orchestrator) buildClient() {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.HandshakeTimeout)
	defer cancel()

	client, err := o.requestClient(ctx)
	if err != nil {
		o.log.Warn("gateway client unavailable", zap.Error(err))
		o.client.Reject(err)
		return
	}
	// The brand set lands in the model before anyone waiting on the client runs.
	if err := o.ep.Post(func() {
		o.applyBrands(client)
		o.client.Resolve(client)
	}); err != nil {
		o.client.Reject(err)
	}
}

func (o *Orchestrator) requestClient(ctx context.Context) (gateway.Client, error) {
	msg, err := o.ep.Request(ctx, protocol.EventReadyForClient, nil)
	if err != nil {
		return nil, fmt.Errorf("request client configuration: %w", err)
	}
	var cc protocol.ClientConfiguration
	if err := msg.Decode(&cc); err != nil {
		return nil, err
	}
	if cc.Error != "" {
		return nil, fmt.Errorf("host credentials: %s", cc.Error)
	}
	client, err := o.opts.Factory(gateway.Configuration{
		GatewayURL:               cc.GatewayURL,
		AuthorizationFingerprint: cc.AuthorizationFingerprint,
		MerchantAccountID:        cc.MerchantAccountID,
		SupportedCardTypes:       cc.SupportedCardTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("build gateway client: %w", err)
	}
	return client, nil
}

// applyBrands runs on the loop.
func (o *Orchestrator) applyBrands(client gateway.Client) {
	if !o.restrictsBrands() {
		return
	}
	accepted := AcceptedBrands(client.Configuration().SupportedCardTypes, o.opts.SupportedCardBrands)
	o.model.SetSupportedCardTypes(accepted)
	if o.model.Has(domain.RoleNumber) {
		st := o.model.ValidateField(domain.RoleNumber)
		o.broadcast(domain.RoleNumber, st)
	}
}

func (o *Orchestrator) onFrameReady(msg bus.Message, reply bus.Reply) {
	var fr protocol.FrameReady
	if err := msg.Decode(&fr); err != nil {
		o.log.Warn("bad frame ready payload", zap.Error(err))
		reply(protocol.Handshake{Error: err.Error()})
		return
	}
	if !o.model.Has(fr.Field) {
		reply(protocol.Handshake{Field: fr.Field, Error: fmt.Sprintf("field %q is not configured", fr.Field)})
		return
	}

	// Every announcement is answered once the client settles, however late it arrives.
	go func() {
		select {
		case <-o.client.Done():
		case <-o.ep.Stopped():
			return
		}
		if err := o.ep.Post(func() { reply(o.handshake(fr.Field)) }); err != nil {
			o.log.Debug("handshake dropped", zap.String("role", string(fr.Field)), zap.Error(err))
		}
	}()
}

// handshake runs on the loop.
func (o *Orchestrator) handshake(role domain.Role) protocol.Handshake {
	hs := protocol.Handshake{Field: role}
	if _, err := o.client.Peek(); err != nil {
		hs.Error = fmt.Sprintf("gateway client unavailable: %v", err)
		return hs
	}
	hs.State, _ = o.model.State(role)
	hs.Config = o.opts.Fields[role]
	hs.Styles = o.opts.Styles
	hs.AutofillEnabled = !o.opts.AutofillDisabled
	return hs
}

func (o *Orchestrator) onInput(msg bus.Message, reply bus.Reply) {
	var in protocol.Input
	if err := msg.Decode(&in); err != nil {
		reply(protocol.InputResult{Error: err.Error()})
		return
	}

	states := map[domain.Role]domain.FieldState{}
	if in.Value != nil {
		changed, err := o.model.SetValue(in.Field, *in.Value)
		if err != nil {
			reply(protocol.InputResult{Error: err.Error()})
			return
		}
		for r, st := range changed {
			states[r] = st
		}
	}
	if in.IsFocused != nil {
		st, err := o.model.SetFocused(in.Field, *in.IsFocused)
		if err != nil {
			reply(protocol.InputResult{Error: err.Error()})
			return
		}
		states[in.Field] = st
	}
	for r, st := range states {
		o.broadcast(r, st)
	}
	reply(protocol.InputResult{States: states})
}

func (o *Orchestrator) broadcast(role domain.Role, st domain.FieldState) {
	if err := o.ep.Emit(protocol.EventFieldStateChanged, protocol.FieldStateChanged{Field: role, State: st}); err != nil {
		o.log.Debug("field state broadcast failed", zap.Error(err))
	}
}

func (o *Orchestrator) onTokenizationRequest(msg bus.Message, reply bus.Reply) {
	var req domain.TokenizationRequest
	if err := msg.Decode(&req); err != nil {
		reply(protocol.TokenizeReply{Error: &protocol.ReplyError{
			Type:    string(gateway.KindMerchant),
			Code:    tokenize.CodeFailedTokenization,
			Message: err.Error(),
		}})
		return
	}

	// The pipeline reads the model through the loop, so it must not run on it.
	go func() {
		var out protocol.TokenizeReply
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("tokenization panicked", zap.Any("panic", r))
				out = protocol.TokenizeReply{Error: tokenize.ReplyError(fmt.Errorf("tokenization panicked: %v", r))}
			}
			reply(out)
		}()
		res, err := o.pipeline.Tokenize(context.Background(), req)
		if err != nil {
			out.Error = tokenize.ReplyError(err)
			return
		}
		out.Result = &res
	}()
}

// DecodeTokenizeReply unpacks a TOKENIZATION_REQUEST reply.
func DecodeTokenizeReply(raw json.RawMessage) (domain.TokenizeResult, error) {
	var out protocol.TokenizeReply
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.TokenizeResult{}, fmt.Errorf("decode tokenize reply: %w", err)
	}
	if out.Error != nil {
		return domain.TokenizeResult{}, out.Error
	}
	if out.Result == nil {
		return domain.TokenizeResult{}, errors.New("tokenize reply carries neither error nor result")
	}
	return *out.Result, nil
}
