package gateway

import "fmt"

// Kind groups errors by who can act on them.
type Kind string

const (
	KindCustomer Kind = "CUSTOMER"
	KindMerchant Kind = "MERCHANT"
	KindNetwork  Kind = "NETWORK"
	KindInternal Kind = "INTERNAL"
)

// Error is a failed gateway call.
//
// Status is the HTTP status of the response; zero means no response was received.
// Cause, when set, is usually a *ServiceError decoded from the response body.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// FieldError is one node of the gateway's nested field-error tree.
type FieldError struct {
	Field       string       `json:"field"`
	Code        string       `json:"code,omitempty"`
	Message     string       `json:"message,omitempty"`
	FieldErrors []FieldError `json:"fieldErrors,omitempty"`
}

// ServiceError is the error document returned in a non-2xx response body.
type ServiceError struct {
	Message     string       `json:"message"`
	FieldErrors []FieldError `json:"fieldErrors,omitempty"`
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

const (
	CodeAuthorizationInvalid = "CLIENT_AUTHORIZATION_INVALID"
	CodeRequestError         = "CLIENT_REQUEST_ERROR"
	CodeGatewayNetwork       = "CLIENT_GATEWAY_NETWORK"
	CodeRequestTimeout       = "CLIENT_REQUEST_TIMEOUT"
)
