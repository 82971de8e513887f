package headless

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/httpclient"
	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/stub"
	memclock "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/clock"
	memtelemetry "github.com/Overland-East-Bay/hosted-fields/internal/adapters/memory/telemetry"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/tokenize"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/bus"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/config"
)

type sessionHarness struct {
	cfg  SessionConfig
	sink *memtelemetry.Sink
	hub  *bus.Hub
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	gw, err := stub.New(stub.Config{Secret: []byte("session-secret"), Clock: clk})
	if err != nil {
		t.Fatalf("stub.New: %v", err)
	}
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	form := config.DefaultFormConfig()
	form.HandshakeTimeout = 2 * time.Second
	form.AutofillPollInterval = 5 * time.Millisecond

	sink := memtelemetry.NewSink()
	return &sessionHarness{
		cfg: SessionConfig{
			Form: form,
			Credentials: FingerprintCredentials{
				HTTP:              srv.Client(),
				GatewayURL:        srv.URL,
				MerchantAccountID: "merchant-1",
			},
			Factory: httpclient.NewFactory(srv.Client()),
			Sink:    sink,
			Clock:   clk,
		},
		sink: sink,
		hub:  bus.NewHub(nil),
	}
}

func (h *sessionHarness) open(t *testing.T, token domain.SessionToken) *Session {
	t.Helper()
	s, err := OpenSession(context.Background(), h.hub, token, h.cfg)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func typeAll(t *testing.T, s *Session, values map[domain.Role]string) {
	t.Helper()
	for role, v := range values {
		if _, err := s.Type(context.Background(), role, v); err != nil {
			t.Fatalf("Type(%s): %v", role, err)
		}
	}
}

func validCard() map[domain.Role]string {
	return map[domain.Role]string{
		domain.RoleNumber:         "4111 1111 1111 1111",
		domain.RoleCVV:            "123",
		domain.RoleExpirationDate: "12 / 29",
		domain.RolePostalCode:     "94107",
	}
}

func TestSession_TypeAndTokenize(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-ok")
	typeAll(t, s, validCard())

	res, err := s.Tokenize(context.Background(), domain.TokenizationRequest{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if res.Nonce == "" || res.Details.LastFour != "1111" || res.Details.CardType != "Visa" {
		t.Fatalf("unexpected result: %+v", res)
	}

	st, err := s.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.ClientReady {
		t.Fatalf("client should be ready: %+v", st)
	}
	if cvv := st.Fields[domain.RoleCVV]; cvv.View.Display != "•••" || !cvv.State.IsValid {
		t.Fatalf("cvv field=%+v", cvv)
	}
	if num := st.Fields[domain.RoleNumber]; num.View.Display != "4111 1111 1111 1111" {
		t.Fatalf("number display=%q", num.View.Display)
	}

	events, err := s.Telemetry(context.Background())
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if len(events) != 1 || events[0].Kind != tokenize.EventSucceeded || events[0].MerchantID != "merchant-1" {
		t.Fatalf("events=%+v", events)
	}
}

func TestSession_TokenizeEmptyForm(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-empty")

	_, err := s.Tokenize(context.Background(), domain.TokenizationRequest{})
	var re *protocol.ReplyError
	if !errors.As(err, &re) || re.Code != tokenize.CodeFieldsEmpty {
		t.Fatalf("err=%v, want %s", err, tokenize.CodeFieldsEmpty)
	}
}

func TestSession_DuplicateVaultedCard(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-dup")
	typeAll(t, s, validCard())

	req := domain.TokenizationRequest{Vault: true}
	if _, err := s.Tokenize(context.Background(), req); err != nil {
		t.Fatalf("first Tokenize: %v", err)
	}
	_, err := s.Tokenize(context.Background(), req)
	var re *protocol.ReplyError
	if !errors.As(err, &re) || re.Code != tokenize.CodeFailOnDuplicate {
		t.Fatalf("err=%v, want %s", err, tokenize.CodeFailOnDuplicate)
	}
}

func TestSession_Autofill(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-autofill")

	cvv := "456"
	if err := s.Autofill(domain.AutofillPayload{Month: "11", Year: "30", CVV: &cvv}); err != nil {
		t.Fatalf("Autofill: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := s.State(context.Background())
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		exp := st.Fields[domain.RoleExpirationDate].State.Value
		got := st.Fields[domain.RoleCVV].State.Value
		if exp == "11 / 2030" && got == "456" {
			if st.Fields[domain.RoleNumber].View.Nudges == 0 {
				t.Fatalf("number field should be nudged after publishing")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("autofill not applied: expirationDate=%q cvv=%q", exp, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_AutofillDisabled(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	h.cfg.Form.Autofill.Disabled = true
	s := h.open(t, "sess-no-autofill")

	if err := s.Autofill(domain.AutofillPayload{Month: "11", Year: "30"}); !errors.Is(err, ErrAutofillUnavailable) {
		t.Fatalf("err=%v, want ErrAutofillUnavailable", err)
	}
}

func TestSession_UnknownField(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-unknown")

	if _, err := s.Type(context.Background(), domain.RoleCardholderName, "Ada"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("err=%v, want ErrUnknownField", err)
	}
}

func TestSession_DiagnosticsListEverySurface(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	s := h.open(t, "sess-diag")

	diags := s.Diagnostics()
	if len(diags) != len(h.cfg.Form.Fields) {
		t.Fatalf("diagnostics=%+v", diags)
	}
	for _, d := range diags {
		if !d.OK {
			t.Fatalf("surface %s failed: %s", d.Surface, d.Error)
		}
	}
}

func TestOpenSession_CredentialFailure(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	creds := h.cfg.Credentials.(FingerprintCredentials)
	creds.MerchantAccountID = ""
	h.cfg.Credentials = creds

	_, err := OpenSession(context.Background(), h.hub, "sess-nocreds", h.cfg)
	if !errors.Is(err, ErrSessionStart) {
		t.Fatalf("err=%v, want ErrSessionStart", err)
	}
	if members := h.hub.Members("sess-nocreds"); len(members) != 0 {
		t.Fatalf("failed session left endpoints behind: %v", members)
	}
}

func TestManager(t *testing.T) {
	t.Parallel()

	h := newSessionHarness(t)
	m := NewManager(h.cfg)
	m.MaxSessions = 2
	t.Cleanup(m.CloseAll)

	a, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	b, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if a.Token() == b.Token() {
		t.Fatalf("tokens must differ")
	}
	if _, err := m.Open(context.Background()); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("err=%v, want ErrTooManySessions", err)
	}

	if _, err := a.Type(context.Background(), domain.RoleNumber, "4111"); err != nil {
		t.Fatalf("Type: %v", err)
	}
	stB, err := b.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if v := stB.Fields[domain.RoleNumber].State.Value; v != "" {
		t.Fatalf("sessions leaked into each other: b number=%q", v)
	}

	got, err := m.Get(a.Token())
	if err != nil || got != a {
		t.Fatalf("Get=%v,%v", got, err)
	}
	if err := m.Close(a.Token()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Get(a.Token()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v, want ErrSessionNotFound", err)
	}
	if err := m.Close(a.Token()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Close err=%v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len=%d, want 1", m.Len())
	}
}
