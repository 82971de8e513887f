// Package stub is an in-process stand-in for the remote tokenization service.
// It issues authorization fingerprints and tokenizes cards, answering with the
// same error documents the real service uses.
package stub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Overland-East-Bay/hosted-fields/internal/app/cardform"
	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
	"github.com/Overland-East-Bay/hosted-fields/internal/platform/logging"
	clockport "github.com/Overland-East-Bay/hosted-fields/internal/ports/out/clock"
	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

// Field error codes returned by the tokenization endpoint.
const (
	CodeNumberInvalid          = "81715"
	CodeDuplicateCardExists    = "81724"
	CodeCVVVerificationFailed  = "81736"
	cvvVerificationFailureCode = "200"
	minNumberLength            = 12
)

type Config struct {
	Secret             []byte
	Issuer             string
	TTL                time.Duration
	SupportedCardTypes []string

	Clock  clockport.Clock
	Logger *zap.Logger
}

type Server struct {
	cfg Config
	clk clockport.Clock
	log *zap.Logger

	mu    sync.Mutex
	vault map[string]map[string]bool // merchant -> card number
}

func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("stub gateway secret is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("stub gateway clock is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "hosted-fields-gateway-stub"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if len(cfg.SupportedCardTypes) == 0 {
		cfg.SupportedCardTypes = []string{"Visa", "MasterCard", "American Express", "Discover"}
	}
	return &Server{
		cfg:   cfg,
		clk:   cfg.Clock,
		log:   logging.OrNop(cfg.Logger),
		vault: make(map[string]map[string]bool),
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/authorization_fingerprints", s.handleIssue)
		r.Post("/payment_methods/credit_cards", s.handleTokenize)
	})
	return r
}

type issueRequest struct {
	MerchantAccountID string `json:"merchantAccountId"`
}

type issueResponse struct {
	AuthorizationFingerprint string    `json:"authorizationFingerprint"`
	MerchantAccountID        string    `json:"merchantAccountId"`
	SupportedCardTypes       []string  `json:"supportedCardTypes"`
	ExpiresAt                time.Time `json:"expiresAt"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.MerchantAccountID) == "" {
		writeError(w, http.StatusBadRequest, "merchantAccountId is required", nil)
		return
	}
	token, exp, err := s.IssueFingerprint(req.MerchantAccountID)
	if err != nil {
		s.log.Error("issue fingerprint", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue fingerprint", nil)
		return
	}
	writeJSON(w, http.StatusCreated, issueResponse{
		AuthorizationFingerprint: token,
		MerchantAccountID:        req.MerchantAccountID,
		SupportedCardTypes:       s.cfg.SupportedCardTypes,
		ExpiresAt:                exp,
	})
}

type creditCardRequest struct {
	Meta struct {
		Source string `json:"source"`
	} `json:"_meta"`
	CreditCard struct {
		domain.CardData
		Options struct {
			Validate bool `json:"validate"`
		} `json:"options"`
	} `json:"creditCard"`
	AuthenticationInsight bool   `json:"authenticationInsight"`
	MerchantAccountID     string `json:"merchantAccountId"`
}

type creditCardsResponse struct {
	CreditCards []domain.TokenizeResult `json:"creditCards"`
}

func (s *Server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verify(r.Header.Get("Authorization"))
	if err != nil {
		s.log.Debug("rejected fingerprint", zap.Error(err))
		writeError(w, http.StatusForbidden, "Authorization fingerprint is invalid.", nil)
		return
	}

	var req creditCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON", nil)
		return
	}
	card := req.CreditCard.CardData
	number := domain.NormalizeDigits(card.Number)

	if len(number) < minNumberLength || !cardform.Luhn(number) {
		writeFieldError(w, "number", CodeNumberInvalid, "Credit card number is invalid.")
		return
	}
	if card.CVV == cvvVerificationFailureCode {
		writeFieldError(w, "cvv", CodeCVVVerificationFailed, "CVV verification failed.")
		return
	}
	if req.CreditCard.Options.Validate && !s.vaultCard(claims.MerchantAccountID, number) {
		writeFieldError(w, "number", CodeDuplicateCardExists, "Duplicate card exists in the vault.")
		return
	}

	writeJSON(w, http.StatusCreated, creditCardsResponse{
		CreditCards: []domain.TokenizeResult{describe(card, number, req.AuthenticationInsight)},
	})
}

// vaultCard stores number for merchant and reports false if it was already there.
func (s *Server) vaultCard(merchant, number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards, ok := s.vault[merchant]
	if !ok {
		cards = make(map[string]bool)
		s.vault[merchant] = cards
	}
	if cards[number] {
		return false
	}
	cards[number] = true
	return true
}

func describe(card domain.CardData, number string, insight bool) domain.TokenizeResult {
	cardType := "Unknown"
	if b, ok := cardform.DetectBrand(number); ok {
		cardType = b.DisplayName()
	}
	lastFour := number[len(number)-4:]
	res := domain.TokenizeResult{
		Nonce: domain.Nonce(uuid.NewString()),
		Details: domain.CardDetails{
			CardType:        cardType,
			Bin:             number[:6],
			LastFour:        lastFour,
			LastTwo:         lastFour[2:],
			ExpirationMonth: card.ExpirationMonth,
			ExpirationYear:  card.ExpirationYear,
			CardholderName:  card.CardholderName,
		},
		Description: "ending in " + lastFour[2:],
		Type:        "CreditCard",
		BinData: map[string]any{
			"prepaid":    "Unknown",
			"debit":      "Unknown",
			"commercial": "Unknown",
		},
	}
	if insight {
		res.AuthenticationInsight = map[string]any{"regulationEnvironment": "unregulated"}
	}
	return res
}

type errorBody struct {
	Message string `json:"message"`
}

type errorDocument struct {
	Error       errorBody            `json:"error"`
	FieldErrors []gateway.FieldError `json:"fieldErrors,omitempty"`
}

func writeFieldError(w http.ResponseWriter, field, code, message string) {
	writeError(w, http.StatusUnprocessableEntity, "Credit card is invalid", []gateway.FieldError{{
		Field: "creditCard",
		FieldErrors: []gateway.FieldError{{
			Field:   field,
			Code:    code,
			Message: message,
		}},
	}})
}

func writeError(w http.ResponseWriter, status int, message string, fieldErrors []gateway.FieldError) {
	writeJSON(w, status, errorDocument{Error: errorBody{Message: message}, FieldErrors: fieldErrors})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
