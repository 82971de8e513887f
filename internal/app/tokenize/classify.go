package tokenize

import (
	"errors"
	"net/http"

	"github.com/Overland-East-Bay/hosted-fields/internal/ports/out/gateway"
)

// Stable error codes exposed to the embedding page.
const (
	CodeFieldsEmpty           = "HOSTED_FIELDS_FIELDS_EMPTY"
	CodeFieldsInvalid         = "HOSTED_FIELDS_FIELDS_INVALID"
	CodeFailedTokenization    = "HOSTED_FIELDS_FAILED_TOKENIZATION"
	CodeNetworkError          = "HOSTED_FIELDS_TOKENIZATION_NETWORK_ERROR"
	CodeFailOnDuplicate       = "HOSTED_FIELDS_TOKENIZATION_FAIL_ON_DUPLICATE"
	CodeCVVVerificationFailed = "HOSTED_FIELDS_TOKENIZATION_CVV_VERIFICATION_FAILED"
)

// ClassifiedError is a tokenization failure mapped into the stable taxonomy.
type ClassifiedError struct {
	Kind    gateway.Kind
	Code    string
	Message string
	Details map[string]any
}

func (e *ClassifiedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Unwrap exposes the original failure, when one is attached.
func (e *ClassifiedError) Unwrap() error {
	if e == nil {
		return nil
	}
	if orig, ok := e.Details["originalError"].(error); ok {
		return orig
	}
	return nil
}

type entry struct {
	kind    gateway.Kind
	code    string
	message string
}

func (en entry) wrap(orig error) *ClassifiedError {
	ce := &ClassifiedError{Kind: en.kind, Code: en.code, Message: en.message}
	if orig != nil {
		ce.Details = map[string]any{"originalError": orig}
	}
	return ce
}

var (
	fieldsEmpty = entry{gateway.KindCustomer, CodeFieldsEmpty,
		"All fields are empty. Cannot tokenize empty card fields."}
	fieldsInvalid = entry{gateway.KindCustomer, CodeFieldsInvalid,
		"Some payment input fields are invalid. Cannot tokenize invalid card fields."}
	failedTokenization = entry{gateway.KindCustomer, CodeFailedTokenization,
		"The supplied card data failed tokenization."}
	networkError = entry{gateway.KindNetwork, CodeNetworkError,
		"A tokenization network error occurred."}
)

// fieldErrorCodes maps gateway field-error codes to taxonomy entries.
var fieldErrorCodes = map[string]entry{
	"81724": {gateway.KindCustomer, CodeFailOnDuplicate,
		"This credit card already exists in the merchant's vault."},
	"81736": {gateway.KindCustomer, CodeCVVVerificationFailed,
		"CVV verification failed during tokenization."},
}

// Classify maps a raw tokenization failure into the stable taxonomy.
//
//   - HTTP 403: returned unchanged.
//   - other 4xx: a known nested field-error code maps to its entry, anything
//     else is a generic failed tokenization carrying the original error.
//   - 5xx or no status: a network error carrying the original error.
//
// Errors that are already classified are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}

	status := httpStatus(err)
	switch {
	case status == http.StatusForbidden:
		return err
	case status > 0 && status < 500:
		if code, ok := fieldErrorCode(err); ok {
			if en, known := fieldErrorCodes[code]; known {
				return en.wrap(err)
			}
		}
		return failedTokenization.wrap(err)
	default:
		return networkError.wrap(err)
	}
}

func httpStatus(err error) int {
	var ge *gateway.Error
	if errors.As(err, &ge) && ge != nil {
		return ge.Status
	}
	return 0
}

// fieldErrorCode digs the first leaf code out of the deepest service error in
// err's chain: root.FieldErrors[0].FieldErrors[0].Code.
func fieldErrorCode(err error) (string, bool) {
	var root *gateway.ServiceError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if se, ok := e.(*gateway.ServiceError); ok && se != nil {
			root = se
		}
	}
	if root == nil || len(root.FieldErrors) == 0 || len(root.FieldErrors[0].FieldErrors) == 0 {
		return "", false
	}
	code := root.FieldErrors[0].FieldErrors[0].Code
	return code, code != ""
}
