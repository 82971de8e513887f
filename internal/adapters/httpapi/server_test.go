package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/httpclient"
	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/stub"
	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/headless"
	memclock "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/clock"
	memidem "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/idempotency"
	memtelemetry "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/telemetry"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/tokenize"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/config"
)

const testAPIKey = "harness-key"

type apiHarness struct {
	handler http.Handler
	idem    *memidem.Store
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	gw, err := stub.New(stub.Config{Secret: []byte("api-secret"), Clock: clk})
	if err != nil {
		t.Fatalf("stub.New: %v", err)
	}
	gwSrv := httptest.NewServer(gw.Handler())
	t.Cleanup(gwSrv.Close)

	form := config.DefaultFormConfig()
	form.HandshakeTimeout = 2 * time.Second
	form.AutofillPollInterval = 5 * time.Millisecond

	mgr := headless.NewManager(headless.SessionConfig{
		Form: form,
		Credentials: headless.FingerprintCredentials{
			HTTP:              gwSrv.Client(),
			GatewayURL:        gwSrv.URL,
			MerchantAccountID: "merchant-api",
		},
		Factory: httpclient.NewFactory(gwSrv.Client()),
		Sink:    memtelemetry.NewSink(),
		Clock:   clk,
	})
	t.Cleanup(mgr.CloseAll)

	idem := memidem.NewStore()
	h := NewRouterWithOptions(NewServer(mgr, idem, clk, nil), RouterOptions{
		AuthMiddleware: NewAuthMiddleware(testAPIKey),
	})
	return &apiHarness{handler: h, idem: idem}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func (h *apiHarness) createSession(t *testing.T) string {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/sessions", nil, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /sessions: status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[sessionResponse](t, rr).Token.String()
}

func (h *apiHarness) fillCard(t *testing.T, token string) {
	t.Helper()
	for role, v := range map[string]string{
		"number":         "4111111111111111",
		"cvv":            "123",
		"expirationDate": "12/29",
		"postalCode":     "94107",
	} {
		rr := h.do(t, http.MethodPut, "/sessions/"+token+"/fields/"+role, map[string]any{"value": v}, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("PUT %s: status=%d body=%s", role, rr.Code, rr.Body.String())
		}
	}
}

func TestHealthzSkipsAuth(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	for name, authz := range map[string]string{
		"missing":   "",
		"malformed": "Token " + testAPIKey,
		"wrong key": "Bearer nope",
	} {
		req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rr := httptest.NewRecorder()
		h.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d", name, rr.Code)
		}
		er := decode[ErrorResponse](t, rr)
		if er.Error.Code != "UNAUTHORIZED" || !er.Error.RequestId.IsSpecified() {
			t.Fatalf("%s: error=%+v", name, er)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)

	rr := h.do(t, http.MethodGet, "/sessions/"+token, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET: status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[sessionResponse](t, rr)
	if got.Token.String() != token || !got.State.ClientReady || len(got.State.Fields) != 4 {
		t.Fatalf("session=%+v", got)
	}

	rr = h.do(t, http.MethodGet, "/sessions/"+token+"/diagnostics", nil, nil)
	diags := decode[diagnosticsResponse](t, rr)
	if rr.Code != http.StatusOK || len(diags.Surfaces) != 4 {
		t.Fatalf("diagnostics: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = h.do(t, http.MethodDelete, "/sessions/"+token, nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE: status=%d", rr.Code)
	}
	rr = h.do(t, http.MethodGet, "/sessions/"+token, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET after delete: status=%d", rr.Code)
	}
}

func TestSessionToken_Malformed(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	rr := h.do(t, http.MethodGet, "/sessions/not-a-uuid", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestUpdateField(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)

	rr := h.do(t, http.MethodPut, "/sessions/"+token+"/fields/number", map[string]any{"value": "4111", "isFocused": true}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[fieldUpdateResponse](t, rr)
	if got.Field != domain.RoleNumber || got.State.Value != "4111" || !got.State.IsFocused || got.State.IsValid || !got.State.IsPotentiallyValid {
		t.Fatalf("state=%+v", got)
	}

	cases := []struct {
		name   string
		role   string
		body   any
		status int
		code   string
	}{
		{"unknown role", "pin", map[string]any{"value": "1"}, http.StatusNotFound, "UNKNOWN_FIELD"},
		{"unconfigured role", "cardholderName", map[string]any{"value": "Ada"}, http.StatusNotFound, "UNKNOWN_FIELD"},
		{"empty update", "number", map[string]any{}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"null value", "number", map[string]any{"value": nil}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"unknown key", "number", map[string]any{"colour": "red"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		rr := h.do(t, http.MethodPut, "/sessions/"+token+"/fields/"+tc.role, tc.body, nil)
		if rr.Code != tc.status {
			t.Fatalf("%s: status=%d body=%s", tc.name, rr.Code, rr.Body.String())
		}
		if er := decode[ErrorResponse](t, rr); er.Error.Code != tc.code {
			t.Fatalf("%s: code=%s", tc.name, er.Error.Code)
		}
	}
}

func TestTokenize_Success(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)
	h.fillCard(t, token)

	rr := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", map[string]any{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[tokenizeResponse](t, rr)
	if got.Result.Nonce == "" || got.Result.Details.LastTwo != "11" {
		t.Fatalf("result=%+v", got.Result)
	}

	rr = h.do(t, http.MethodGet, "/sessions/"+token+"/telemetry", nil, nil)
	events := decode[telemetryResponse](t, rr)
	if len(events.Events) != 1 || events.Events[0].Kind != tokenize.EventSucceeded || events.Events[0].Integration != "custom" {
		t.Fatalf("events=%+v", events)
	}
}

func TestTokenize_EmptyFormIs422(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)

	rr := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", nil, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	er := decode[ErrorResponse](t, rr)
	if er.Error.Code != tokenize.CodeFieldsEmpty {
		t.Fatalf("code=%s", er.Error.Code)
	}
	details, err := er.Error.Details.Get()
	if err != nil || details["type"] != "CUSTOMER" {
		t.Fatalf("details=%v err=%v", details, err)
	}
}

func TestTokenize_IdempotentReplay(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)
	h.fillCard(t, token)

	body := map[string]any{"vault": true}
	hdr := map[string]string{"Idempotency-Key": "key-1"}

	first := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", body, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first: status=%d body=%s", first.Code, first.Body.String())
	}
	// A second vaulting of the same card would be a duplicate; the replay never reaches the gateway.
	second := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", body, hdr)
	if second.Code != http.StatusOK || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("second: status=%d headers=%v body=%s", second.Code, second.Header(), second.Body.String())
	}
	if decode[tokenizeResponse](t, first).Result.Nonce != decode[tokenizeResponse](t, second).Result.Nonce {
		t.Fatalf("replay returned a different nonce")
	}

	reuse := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", map[string]any{"vault": false}, hdr)
	if reuse.Code != http.StatusConflict {
		t.Fatalf("reuse: status=%d", reuse.Code)
	}

	dup := h.do(t, http.MethodPost, "/sessions/"+token+"/tokenize", body, map[string]string{"Idempotency-Key": "key-2"})
	if dup.Code != http.StatusUnprocessableEntity {
		t.Fatalf("dup: status=%d body=%s", dup.Code, dup.Body.String())
	}
	if er := decode[ErrorResponse](t, dup); er.Error.Code != tokenize.CodeFailOnDuplicate {
		t.Fatalf("dup code=%s", er.Error.Code)
	}

	if rr := h.do(t, http.MethodDelete, "/sessions/"+token, nil, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE: status=%d", rr.Code)
	}
	if n := h.idem.Forget(token); n != 0 {
		t.Fatalf("records survived session close: %d", n)
	}
}

func TestAutofill(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	token := h.createSession(t)

	rr := h.do(t, http.MethodPost, "/sessions/"+token+"/autofill", map[string]any{"month": "10", "year": "31", "cvv": "999"}, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := decode[sessionResponse](t, h.do(t, http.MethodGet, "/sessions/"+token, nil, nil))
		if got.State.Fields[domain.RoleExpirationDate].State.Value == "10 / 2031" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("autofill never landed: %+v", got.State.Fields)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
