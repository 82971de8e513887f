package domain

// FieldState is the per-role slice of the card data model.
type FieldState struct {
	Value              string `json:"value"`
	IsValid            bool   `json:"isValid"`
	IsPotentiallyValid bool   `json:"isPotentiallyValid"`
	IsEmpty            bool   `json:"isEmpty"`
	IsFocused          bool   `json:"isFocused"`
}

// CardBrand is a supported-card identifier in its lowercase, hyphenated form
// (e.g. "visa", "american-express").
type CardBrand string

const (
	BrandVisa            CardBrand = "visa"
	BrandMastercard      CardBrand = "mastercard"
	BrandAmericanExpress CardBrand = "american-express"
	BrandDiscover        CardBrand = "discover"
	BrandJCB             CardBrand = "jcb"
	BrandDinersClub      CardBrand = "diners-club"
	BrandMaestro         CardBrand = "maestro"
	BrandUnionPay        CardBrand = "unionpay"
)

// AutofillPayload is what the number surface publishes when companion inputs change.
// CVV is nil when the platform did not fill it.
type AutofillPayload struct {
	Month string  `json:"month"`
	Year  string  `json:"year"`
	CVV   *string `json:"cvv,omitempty"`
}

// AuthenticationInsightOptions asks the gateway for regulation-environment insight.
type AuthenticationInsightOptions struct {
	MerchantAccountID string `json:"merchantAccountId"`
}

// TokenizationRequest is one submission attempt.
type TokenizationRequest struct {
	FieldsToTokenize      []Role                        `json:"fieldsToTokenize,omitempty"`
	BillingAddress        map[string]string             `json:"billingAddress,omitempty"`
	CardholderName        *string                       `json:"cardholderName,omitempty"`
	Vault                 bool                          `json:"vault,omitempty"`
	AuthenticationInsight *AuthenticationInsightOptions `json:"authenticationInsight,omitempty"`
}

// BillingAddressFields is the allow-list of caller-supplied billing address keys.
var BillingAddressFields = []string{
	"company",
	"countryCodeNumeric",
	"countryCodeAlpha2",
	"countryCodeAlpha3",
	"countryName",
	"extendedAddress",
	"locality",
	"region",
	"firstName",
	"lastName",
	"postalCode",
	"streetAddress",
}

// IsBillingAddressField reports whether key is on the billing address allow-list.
func IsBillingAddressField(key string) bool {
	for _, f := range BillingAddressFields {
		if f == key {
			return true
		}
	}
	return false
}

// CardData is the assembled card payload read from the model.
type CardData struct {
	Number          string            `json:"number,omitempty"`
	CVV             string            `json:"cvv,omitempty"`
	ExpirationMonth string            `json:"expirationMonth,omitempty"`
	ExpirationYear  string            `json:"expirationYear,omitempty"`
	CardholderName  string            `json:"cardholderName,omitempty"`
	BillingAddress  map[string]string `json:"billingAddress,omitempty"`
}

// CardDetails describes the tokenized card.
type CardDetails struct {
	CardType        string `json:"cardType"`
	Bin             string `json:"bin,omitempty"`
	LastFour        string `json:"lastFour"`
	LastTwo         string `json:"lastTwo"`
	ExpirationMonth string `json:"expirationMonth,omitempty"`
	ExpirationYear  string `json:"expirationYear,omitempty"`
	CardholderName  string `json:"cardholderName,omitempty"`
}

// TokenizeResult is the success payload handed back to the embedding page.
type TokenizeResult struct {
	Nonce                 Nonce          `json:"nonce"`
	Details               CardDetails    `json:"details"`
	Description           string         `json:"description"`
	Type                  string         `json:"type"`
	BinData               map[string]any `json:"binData,omitempty"`
	AuthenticationInsight map[string]any `json:"authenticationInsight,omitempty"`
}
