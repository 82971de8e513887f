package tokenize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	memclock "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/cardform"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/deferred"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []gateway.Request
	resp     json.RawMessage
	err      error
}

func (c *fakeClient) Request(_ context.Context, req gateway.Request) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return c.resp, c.err
}

func (c *fakeClient) Configuration() gateway.Configuration {
	return gateway.Configuration{GatewayURL: "http://gateway.test", AuthorizationFingerprint: "fp"}
}

func (c *fakeClient) calls() []gateway.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]gateway.Request(nil), c.requests...)
}

type recordingAnalytics struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAnalytics) SendEvent(_ *deferred.Value[gateway.Client], name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, name)
}

func (a *recordingAnalytics) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

var testRoles = []domain.Role{domain.RoleNumber, domain.RoleCVV, domain.RoleExpirationDate}

const okResponse = `{"creditCards":[{"nonce":"tok-1","details":{"cardType":"Visa","lastFour":"1111","lastTwo":"11"},"description":"ending in 11","type":"CreditCard","binData":{"prepaid":"No"}}]}`

type harness struct {
	model     *cardform.Model
	client    *fakeClient
	analytics *recordingAnalytics
	pipeline  *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		model:     cardform.NewModel(testRoles, memclock.NewManualClock(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))),
		client:    &fakeClient{resp: json.RawMessage(okResponse)},
		analytics: &recordingAnalytics{},
	}
	var mu sync.Mutex
	access := func(_ context.Context, fn func(cardform.Form)) error {
		mu.Lock()
		defer mu.Unlock()
		fn(h.model)
		return nil
	}
	h.pipeline = NewPipeline(deferred.Resolved[gateway.Client](h.client), access, h.analytics, nil)
	h.pipeline.Fields = testRoles
	return h
}

func (h *harness) fill(t *testing.T) {
	t.Helper()
	for role, v := range map[domain.Role]string{
		domain.RoleNumber:         "4111111111111111",
		domain.RoleCVV:            "123",
		domain.RoleExpirationDate: "12/29",
	} {
		if _, err := h.model.SetValue(role, v); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
	}
}

func payloadOf(t *testing.T, req gateway.Request) map[string]any {
	t.Helper()
	raw, err := json.Marshal(req.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestPipeline_FieldsEmptyMakesNoNetworkCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{})
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Code != CodeFieldsEmpty || ce.Kind != gateway.KindCustomer {
		t.Fatalf("err=%v, want FieldsEmpty", err)
	}
	if n := len(h.client.calls()); n != 0 {
		t.Fatalf("expected no gateway calls, got %d", n)
	}
}

func TestPipeline_FieldsInvalidListsRoles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	if _, err := h.model.SetValue(domain.RoleNumber, "4111111111111112"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	_, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{})
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Code != CodeFieldsInvalid {
		t.Fatalf("err=%v, want FieldsInvalid", err)
	}
	if got := ce.Details["invalidFieldKeys"]; !reflect.DeepEqual(got, []domain.Role{domain.RoleNumber}) {
		t.Fatalf("invalidFieldKeys=%v", got)
	}
	if n := len(h.client.calls()); n != 0 {
		t.Fatalf("expected no gateway calls, got %d", n)
	}
}

func TestPipeline_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	name := "Ada Lovelace"
	res, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{
		Vault:          true,
		CardholderName: &name,
		BillingAddress: map[string]string{
			"postalCode":  "94107",
			"countryName": "US",
			"ssn":         "000-00-0000",
		},
		AuthenticationInsight: &domain.AuthenticationInsightOptions{MerchantAccountID: "ma-1"},
	})
	if err != nil {
		t.Fatalf("Tokenize err=%v", err)
	}
	if res.Nonce != "tok-1" || res.Details.LastFour != "1111" || res.Type != "CreditCard" {
		t.Fatalf("result=%+v", res)
	}

	calls := h.client.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(calls))
	}
	if calls[0].Method != "post" || calls[0].Endpoint != Endpoint {
		t.Fatalf("request=%s %s", calls[0].Method, calls[0].Endpoint)
	}
	body := payloadOf(t, calls[0])
	if body["_meta"].(map[string]any)["source"] != Source {
		t.Fatalf("_meta=%v", body["_meta"])
	}
	if body["authenticationInsight"] != true || body["merchantAccountId"] != "ma-1" {
		t.Fatalf("authentication insight fields missing: %v", body)
	}
	cc := body["creditCard"].(map[string]any)
	if cc["number"] != "4111111111111111" || cc["expirationYear"] != "2029" || cc["cardholderName"] != name {
		t.Fatalf("creditCard=%v", cc)
	}
	if cc["options"].(map[string]any)["validate"] != true {
		t.Fatalf("options.validate should follow vault")
	}
	billing := cc["billingAddress"].(map[string]any)
	if billing["postalCode"] != "94107" || billing["countryName"] != "US" {
		t.Fatalf("billingAddress=%v", billing)
	}
	if _, leaked := billing["ssn"]; leaked {
		t.Fatalf("non-allow-listed billing field forwarded")
	}
	if got := h.analytics.names(); !reflect.DeepEqual(got, []string{EventSucceeded}) {
		t.Fatalf("telemetry=%v", got)
	}
}

func TestPipeline_FormValuesWinOverOptions(t *testing.T) {
	t.Parallel()

	roles := []domain.Role{domain.RoleNumber, domain.RoleCVV, domain.RoleExpirationDate, domain.RolePostalCode, domain.RoleCardholderName}
	model := cardform.NewModel(roles, memclock.NewManualClock(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
	for role, v := range map[domain.Role]string{
		domain.RoleNumber:         "4111111111111111",
		domain.RoleCVV:            "123",
		domain.RoleExpirationDate: "12/29",
		domain.RolePostalCode:     "60601",
		domain.RoleCardholderName: "Grace Hopper",
	} {
		if _, err := model.SetValue(role, v); err != nil {
			t.Fatalf("SetValue: %v", err)
		}
	}
	client := &fakeClient{resp: json.RawMessage(okResponse)}
	p := NewPipeline(deferred.Resolved[gateway.Client](client), func(_ context.Context, fn func(cardform.Form)) error {
		fn(model)
		return nil
	}, nil, nil)
	p.Fields = roles

	name := "Ada Lovelace"
	if _, err := p.Tokenize(context.Background(), domain.TokenizationRequest{
		CardholderName: &name,
		BillingAddress: map[string]string{"postalCode": "94107"},
	}); err != nil {
		t.Fatalf("Tokenize err=%v", err)
	}
	cc := payloadOf(t, client.calls()[0])["creditCard"].(map[string]any)
	if cc["cardholderName"] != "Grace Hopper" {
		t.Fatalf("cardholderName field should win, got %v", cc["cardholderName"])
	}
	if cc["billingAddress"].(map[string]any)["postalCode"] != "60601" {
		t.Fatalf("postalCode field should win, got %v", cc["billingAddress"])
	}
}

func TestPipeline_GatewayFailureClassified(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	h.client.err = gatewayErr(http.StatusUnprocessableEntity, "81724")

	_, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{})
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Code != CodeFailOnDuplicate {
		t.Fatalf("err=%v, want FailOnDuplicate", err)
	}
	if got := h.analytics.names(); !reflect.DeepEqual(got, []string{EventFailed}) {
		t.Fatalf("telemetry=%v", got)
	}
}

func TestPipeline_AuthorizationDeniedPassesThrough(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	denied := gatewayErr(http.StatusForbidden, "")
	h.client.err = denied

	_, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{})
	if err != error(denied) {
		t.Fatalf("err=%v, want the gateway's 403 error", err)
	}
}

func TestPipeline_EmptyResponseIsFailedTokenization(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	h.client.resp = json.RawMessage(`{"creditCards":[]}`)

	_, err := h.pipeline.Tokenize(context.Background(), domain.TokenizationRequest{})
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Code != CodeFailedTokenization {
		t.Fatalf("err=%v, want FailedTokenization", err)
	}
}

func TestPipeline_UnresolvedClientIsNetworkError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fill(t)
	pending := deferred.New[gateway.Client]()
	p := NewPipeline(pending, h.pipeline.form, nil, nil)
	p.ClientTimeout = 20 * time.Millisecond

	_, err := p.Tokenize(context.Background(), domain.TokenizationRequest{})
	var ce *ClassifiedError
	if !errors.As(err, &ce) || ce.Code != CodeNetworkError {
		t.Fatalf("err=%v, want NetworkError", err)
	}

	rejected := deferred.New[gateway.Client]()
	rejected.Reject(errors.New("bad configuration"))
	p = NewPipeline(rejected, h.pipeline.form, nil, nil)
	if _, err := p.Tokenize(context.Background(), domain.TokenizationRequest{}); !errors.As(err, &ce) || ce.Code != CodeNetworkError {
		t.Fatalf("err=%v, want NetworkError", err)
	}
}
