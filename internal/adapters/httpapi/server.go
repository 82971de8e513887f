package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/headless"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/orchestrator"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/idempotency"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/telemetry"
)

const (
	maxBodyBytes  = 64 << 10
	tokenizeRoute = "/sessions/{token}/tokenize"
)

// Sessions is the registry of open headless forms.
type Sessions interface {
	Open(ctx context.Context) (*headless.Session, error)
	Get(token domain.SessionToken) (*headless.Session, error)
	Close(token domain.SessionToken) error
}

// forgetter is implemented by idempotency stores that can drop a session's records.
type forgetter interface {
	Forget(session string) int
}

type Server struct {
	Sessions Sessions
	Idem     idempotency.Store
	Clock    clockport.Clock
	Log      *zap.Logger
}

func NewServer(sessions Sessions, idem idempotency.Store, clk clockport.Clock, log *zap.Logger) *Server {
	return &Server{Sessions: sessions, Idem: idem, Clock: clk, Log: logging.OrNop(log)}
}

type sessionResponse struct {
	Token openapi_types.UUID `json:"token"`
	State headless.State     `json:"state"`
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Open(r.Context())
	switch {
	case errors.Is(err, headless.ErrTooManySessions):
		writeError(w, r, http.StatusTooManyRequests, "TOO_MANY_SESSIONS", err.Error(), nil)
		return
	case errors.Is(err, headless.ErrSessionStart):
		writeError(w, r, http.StatusBadGateway, "CLIENT_UNAVAILABLE", err.Error(), nil)
		return
	case err != nil:
		s.internal(w, r, "open session", err)
		return
	}
	st, err := sess.State(r.Context())
	if err != nil {
		s.internal(w, r, "read session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: tokenUUID(sess.Token()), State: st})
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	st, err := sess.State(r.Context())
	if err != nil {
		s.internal(w, r, "read session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: tokenUUID(sess.Token()), State: st})
}

func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	if err := s.Sessions.Close(sess.Token()); err != nil && !errors.Is(err, headless.ErrSessionNotFound) {
		s.internal(w, r, "close session", err)
		return
	}
	if f, ok := s.Idem.(forgetter); ok {
		f.Forget(string(sess.Token()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// fieldUpdateRequest leaves a member unspecified to keep it unchanged.
type fieldUpdateRequest struct {
	Value     nullable.Nullable[string] `json:"value"`
	IsFocused nullable.Nullable[bool]   `json:"isFocused"`
}

type fieldUpdateResponse struct {
	Field domain.Role       `json:"field"`
	State domain.FieldState `json:"state"`
}

func (s *Server) UpdateField(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	role, ok := domain.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_FIELD", "unknown field", map[string]any{"field": chi.URLParam(r, "role")})
		return
	}
	var req fieldUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Value.IsSpecified() && !req.IsFocused.IsSpecified() {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "one of value or isFocused is required", nil)
		return
	}
	if req.Value.IsNull() || req.IsFocused.IsNull() {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "value and isFocused cannot be null", nil)
		return
	}

	var (
		st  domain.FieldState
		err error
	)
	if v, gerr := req.Value.Get(); gerr == nil {
		st, err = sess.Type(r.Context(), role, v)
	}
	if f, gerr := req.IsFocused.Get(); err == nil && gerr == nil {
		st, err = sess.Focus(r.Context(), role, f)
	}
	if errors.Is(err, headless.ErrUnknownField) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_FIELD", err.Error(), map[string]any{"field": string(role)})
		return
	}
	if err != nil {
		s.internal(w, r, "update field", err)
		return
	}
	writeJSON(w, http.StatusOK, fieldUpdateResponse{Field: role, State: st})
}

type autofillRequest struct {
	Month string  `json:"month"`
	Year  string  `json:"year"`
	CVV   *string `json:"cvv,omitempty"`
}

func (s *Server) Autofill(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	var req autofillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := sess.Autofill(domain.AutofillPayload{Month: req.Month, Year: req.Year, CVV: req.CVV})
	if errors.Is(err, headless.ErrAutofillUnavailable) {
		writeError(w, r, http.StatusConflict, "AUTOFILL_UNAVAILABLE", err.Error(), nil)
		return
	}
	if err != nil {
		s.internal(w, r, "autofill", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type tokenizeResponse struct {
	Result domain.TokenizeResult `json:"result"`
}

// Tokenize submits the form. A request carrying an Idempotency-Key replays the
// stored success for the same key and body, and is rejected for a different body.
func (s *Server) Tokenize(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "could not read request body", nil)
		return
	}
	var req domain.TokenizationRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a tokenization request", nil)
			return
		}
	}
	bodyHash, err := hashTokenizeBody(req)
	if err != nil {
		s.internal(w, r, "hash request", err)
		return
	}

	key := idempotency.Key(r.Header.Get("Idempotency-Key"))
	metaFP := idempotency.Fingerprint{
		Key:     key,
		Session: sess.Token(),
		Method:  http.MethodPost,
		Route:   tokenizeRoute,
	}
	if key != "" && s.Idem != nil {
		if meta, ok, err := s.Idem.Get(r.Context(), metaFP); err != nil {
			s.internal(w, r, "idempotency lookup", err)
			return
		} else if ok {
			if string(meta.Body) != bodyHash {
				writeError(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE", "idempotency key reuse with different payload", nil)
				return
			}
		} else {
			_ = s.Idem.Put(r.Context(), metaFP, idempotency.Record{
				ContentType: "text/plain",
				Body:        []byte(bodyHash),
				CreatedAt:   s.now(),
			})
		}

		respFP := metaFP
		respFP.BodyHash = bodyHash
		if rec, ok, err := s.Idem.Get(r.Context(), respFP); err != nil {
			s.internal(w, r, "idempotency lookup", err)
			return
		} else if ok && rec.StatusCode == http.StatusOK {
			w.Header().Set("Content-Type", rec.ContentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	res, err := sess.Tokenize(r.Context(), req)
	if err != nil {
		var re *protocol.ReplyError
		if errors.As(err, &re) {
			details := map[string]any{"type": re.Type}
			for k, v := range re.Details {
				details[k] = v
			}
			writeError(w, r, statusForKind(gateway.Kind(re.Type)), re.Code, re.Message, details)
			return
		}
		s.internal(w, r, "tokenize", err)
		return
	}

	body, err := json.Marshal(tokenizeResponse{Result: res})
	if err != nil {
		s.internal(w, r, "encode result", err)
		return
	}
	if key != "" && s.Idem != nil {
		respFP := metaFP
		respFP.BodyHash = bodyHash
		_ = s.Idem.Put(r.Context(), respFP, idempotency.Record{
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			Body:        body,
			CreatedAt:   s.now(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

type diagnosticsResponse struct {
	Surfaces []orchestrator.InitResult `json:"surfaces"`
}

func (s *Server) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	out := diagnosticsResponse{Surfaces: sess.Diagnostics()}
	if out.Surfaces == nil {
		out.Surfaces = []orchestrator.InitResult{}
	}
	writeJSON(w, http.StatusOK, out)
}

type telemetryEvent struct {
	Kind        string    `json:"kind"`
	GatewayURL  string    `json:"gatewayUrl,omitempty"`
	MerchantID  string    `json:"merchantId,omitempty"`
	Integration string    `json:"integration"`
	Timestamp   time.Time `json:"timestamp"`
}

type telemetryResponse struct {
	Events []telemetryEvent `json:"events"`
}

func (s *Server) ListTelemetry(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	events, err := sess.Telemetry(r.Context())
	if err != nil {
		s.internal(w, r, "list telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, telemetryResponse{Events: telemetryFromPort(events)})
}

func telemetryFromPort(events []telemetry.Event) []telemetryEvent {
	out := make([]telemetryEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, telemetryEvent{
			Kind:        ev.Kind,
			GatewayURL:  ev.GatewayURL,
			MerchantID:  ev.MerchantID,
			Integration: ev.Integration,
			Timestamp:   ev.Timestamp,
		})
	}
	return out
}

func statusForKind(k gateway.Kind) int {
	switch k {
	case gateway.KindCustomer:
		return http.StatusUnprocessableEntity
	case gateway.KindMerchant:
		return http.StatusBadRequest
	case gateway.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body", map[string]any{"reason": err.Error()})
		return false
	}
	return true
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.OrNop(s.Log).Error(op+" failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func tokenUUID(t domain.SessionToken) openapi_types.UUID {
	id, err := uuid.Parse(string(t))
	if err != nil {
		return openapi_types.UUID{}
	}
	return id
}

func hashTokenizeBody(req domain.TokenizationRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
