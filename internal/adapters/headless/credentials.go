package headless

import (
	"context"
	"net/http"

	"github.com/Overland-East-Bay/hosted-fields/internal/adapters/gateway/httpclient"
	"github.com/Overland-East-Bay/hosted-fields/internal/app/protocol"
)

// Credentials supplies the host page's answer to READY_FOR_CLIENT.
type Credentials interface {
	ClientConfiguration(ctx context.Context) (protocol.ClientConfiguration, error)
}

// StaticCredentials hands every session the same configuration.
type StaticCredentials protocol.ClientConfiguration

func (c StaticCredentials) ClientConfiguration(context.Context) (protocol.ClientConfiguration, error) {
	cc := protocol.ClientConfiguration(c)
	cc.SupportedCardTypes = append([]string(nil), c.SupportedCardTypes...)
	return cc, nil
}

// FingerprintCredentials asks the gateway for a fresh fingerprint per session.
type FingerprintCredentials struct {
	HTTP              *http.Client
	GatewayURL        string
	MerchantAccountID string
	// SupportedCardTypes overrides what the gateway reports when non-empty.
	SupportedCardTypes []string
}

func (c FingerprintCredentials) ClientConfiguration(ctx context.Context) (protocol.ClientConfiguration, error) {
	fp, err := httpclient.FetchFingerprint(ctx, c.HTTP, c.GatewayURL, c.MerchantAccountID)
	if err != nil {
		return protocol.ClientConfiguration{}, err
	}
	types := fp.SupportedCardTypes
	if len(c.SupportedCardTypes) > 0 {
		types = append([]string(nil), c.SupportedCardTypes...)
	}
	merchant := fp.MerchantAccountID
	if merchant == "" {
		merchant = c.MerchantAccountID
	}
	return protocol.ClientConfiguration{
		GatewayURL:               c.GatewayURL,
		AuthorizationFingerprint: fp.AuthorizationFingerprint,
		MerchantAccountID:        merchant,
		SupportedCardTypes:       types,
	}, nil
}
