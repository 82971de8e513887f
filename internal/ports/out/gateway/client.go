package gateway

import (
	"context"
	"encoding/json"
)

// Configuration is the merchant/session configuration a client is built from.
type Configuration struct {
	GatewayURL               string
	AuthorizationFingerprint string
	MerchantAccountID        string

	// SupportedCardTypes are the gateway's display names ("Visa", "American Express").
	SupportedCardTypes []string
}

// Request is one call to the remote tokenization service.
type Request struct {
	Method   string
	Endpoint string
	Data     any
}

// Client talks to the remote tokenization service.
type Client interface {
	// Request performs the call and returns the raw JSON response body.
	// Failures are returned as *Error.
	Request(ctx context.Context, req Request) (json.RawMessage, error)
	Configuration() Configuration
}

// Factory constructs a Client from configuration delivered by the host page.
type Factory func(cfg Configuration) (Client, error)
