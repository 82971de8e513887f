package tokenize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/cardform"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/deferred"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

const (
	// Endpoint is the gateway path credit cards are tokenized at.
	Endpoint = "payment_methods/credit_cards"
	// Source tags every request this pipeline sends.
	Source = "hosted-fields"

	EventSucceeded = "custom.hosted-fields.tokenization.succeeded"
	EventFailed    = "custom.hosted-fields.tokenization.failed"
)

// FormAccess runs fn with exclusive access to the card data model.
type FormAccess func(ctx context.Context, fn func(cardform.Form)) error

// Analytics is the fire-and-forget telemetry sink.
type Analytics interface {
	SendEvent(client *deferred.Value[gateway.Client], name string)
}

type Pipeline struct {
	client    *deferred.Value[gateway.Client]
	form      FormAccess
	analytics Analytics
	log       *zap.Logger

	// Fields are tokenized when a request names none.
	Fields []domain.Role
	// ClientTimeout bounds the wait for a pending client.
	ClientTimeout time.Duration
}

func NewPipeline(client *deferred.Value[gateway.Client], form FormAccess, analytics Analytics, log *zap.Logger) *Pipeline {
	return &Pipeline{
		client:        client,
		form:          form,
		analytics:     analytics,
		log:           logging.OrNop(log),
		ClientTimeout: 30 * time.Second,
	}
}

type creditCardOptions struct {
	Validate bool `json:"validate"`
}

type creditCardPayload struct {
	domain.CardData
	Options creditCardOptions `json:"options"`
}

type meta struct {
	Source string `json:"source"`
}

type requestPayload struct {
	Meta                  meta              `json:"_meta"`
	CreditCard            creditCardPayload `json:"creditCard"`
	AuthenticationInsight bool              `json:"authenticationInsight,omitempty"`
	MerchantAccountID     string            `json:"merchantAccountId,omitempty"`
}

type responsePayload struct {
	CreditCards []domain.TokenizeResult `json:"creditCards"`
}

// Tokenize runs one submission attempt. A non-nil error is a *ClassifiedError,
// or the gateway's own error for authorization failures.
func (p *Pipeline) Tokenize(ctx context.Context, req domain.TokenizationRequest) (domain.TokenizeResult, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return domain.TokenizeResult{}, p.fail(networkError.wrap(err))
	}

	fields := req.FieldsToTokenize
	if len(fields) == 0 {
		fields = p.Fields
	}

	var (
		cardData domain.CardData
		shortErr *ClassifiedError
	)
	if err := p.form(ctx, func(f cardform.Form) {
		if f.IsEmpty(fields) {
			shortErr = fieldsEmpty.wrap(nil)
			return
		}
		if invalid := f.InvalidFieldKeys(fields); len(invalid) > 0 {
			shortErr = fieldsInvalid.wrap(nil)
			shortErr.Details = map[string]any{"invalidFieldKeys": invalid}
			return
		}
		cardData = f.GetCardData(fields)
	}); err != nil {
		return domain.TokenizeResult{}, p.fail(networkError.wrap(fmt.Errorf("read card data: %w", err)))
	}
	if shortErr != nil {
		return domain.TokenizeResult{}, shortErr
	}

	p.mergeOptions(&cardData, req)
	payload := requestPayload{
		Meta: meta{Source: Source},
		CreditCard: creditCardPayload{
			CardData: cardData,
			Options:  creditCardOptions{Validate: req.Vault},
		},
	}
	if req.AuthenticationInsight != nil {
		payload.AuthenticationInsight = true
		payload.MerchantAccountID = req.AuthenticationInsight.MerchantAccountID
	}

	raw, err := client.Request(ctx, gateway.Request{Method: "post", Endpoint: Endpoint, Data: payload})
	if err != nil {
		return domain.TokenizeResult{}, p.fail(Classify(err))
	}

	var resp responsePayload
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.CreditCards) == 0 {
		if err == nil {
			err = fmt.Errorf("gateway returned no credit cards")
		}
		return domain.TokenizeResult{}, p.fail(failedTokenization.wrap(err))
	}
	card := resp.CreditCards[0]
	result := domain.TokenizeResult{
		Nonce:       card.Nonce,
		Details:     card.Details,
		Description: card.Description,
		Type:        card.Type,
		BinData:     card.BinData,
	}
	if card.AuthenticationInsight != nil {
		result.AuthenticationInsight = card.AuthenticationInsight
	}
	p.send(EventSucceeded)
	return result, nil
}

func (p *Pipeline) resolveClient(ctx context.Context) (gateway.Client, error) {
	waitCtx := ctx
	if p.ClientTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.ClientTimeout)
		defer cancel()
	}
	client, err := p.client.Wait(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("gateway client unavailable: %w", err)
	}
	return client, nil
}

// mergeOptions folds caller-supplied billing address fields and cardholder name
// into cd. Values already read from the form win.
func (p *Pipeline) mergeOptions(cd *domain.CardData, req domain.TokenizationRequest) {
	for k, v := range req.BillingAddress {
		if !domain.IsBillingAddressField(k) {
			p.log.Debug("ignoring billing address field", zap.String("field", k))
			continue
		}
		if _, present := cd.BillingAddress[k]; present {
			continue
		}
		if cd.BillingAddress == nil {
			cd.BillingAddress = map[string]string{}
		}
		cd.BillingAddress[k] = v
	}

	if req.CardholderName != nil && *req.CardholderName != "" {
		if cd.CardholderName != "" {
			p.log.Warn("cardholderName field is defined, ignoring cardholderName option")
			return
		}
		cd.CardholderName = *req.CardholderName
	}
}

func (p *Pipeline) fail(err error) error {
	p.send(EventFailed)
	return err
}

func (p *Pipeline) send(name string) {
	if p.analytics != nil {
		p.analytics.SendEvent(p.client, name)
	}
}
