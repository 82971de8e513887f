package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// GatewayConfig locates the remote tokenization service and the credentials
// handed to every form.
type GatewayConfig struct {
	URL string
	// Authorization is a static fingerprint. When empty, a fingerprint is
	// requested from the gateway for MerchantAccountID per session.
	Authorization      string
	MerchantAccountID  string
	SupportedCardTypes []string

	HTTPTimeout time.Duration
}

func LoadGatewayConfigFromEnv() (GatewayConfig, error) {
	url := strings.TrimSpace(os.Getenv("GATEWAY_URL"))
	if url == "" {
		return GatewayConfig{}, fmt.Errorf("missing required env var: GATEWAY_URL")
	}
	cfg := GatewayConfig{
		URL:               url,
		Authorization:     strings.TrimSpace(os.Getenv("GATEWAY_AUTHORIZATION")),
		MerchantAccountID: strings.TrimSpace(os.Getenv("GATEWAY_MERCHANT_ACCOUNT_ID")),
		HTTPTimeout:       10 * time.Second,
	}
	if cfg.Authorization == "" && cfg.MerchantAccountID == "" {
		return GatewayConfig{}, fmt.Errorf("one of GATEWAY_AUTHORIZATION or GATEWAY_MERCHANT_ACCOUNT_ID is required")
	}
	cfg.SupportedCardTypes = splitList(os.Getenv("GATEWAY_SUPPORTED_CARD_TYPES"))

	if v := os.Getenv("GATEWAY_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("GATEWAY_HTTP_TIMEOUT must be a duration (e.g. 10s): %w", err)
		}
		cfg.HTTPTimeout = d
	}
	return cfg, nil
}

// StubConfig configures the in-process gateway stand-in.
type StubConfig struct {
	Secret             []byte
	Issuer             string
	TTL                time.Duration
	SupportedCardTypes []string
}

func LoadStubConfigFromEnv() (StubConfig, error) {
	secret := os.Getenv("STUB_SECRET")
	if secret == "" {
		return StubConfig{}, fmt.Errorf("missing required env var: STUB_SECRET")
	}
	cfg := StubConfig{
		Secret:             []byte(secret),
		Issuer:             os.Getenv("STUB_ISSUER"),
		TTL:                time.Hour,
		SupportedCardTypes: splitList(os.Getenv("STUB_SUPPORTED_CARD_TYPES")),
	}
	if v := os.Getenv("STUB_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return StubConfig{}, fmt.Errorf("STUB_TTL must be a duration (e.g. 1h): %w", err)
		}
		cfg.TTL = d
	}
	return cfg, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
