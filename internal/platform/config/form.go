package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Overland-East-Bay/hosted-fields/internal/domain"
)

// FieldOptions configures one field.
type FieldOptions struct {
	Placeholder            string `yaml:"placeholder"`
	Mask                   bool   `yaml:"mask"`
	RejectUnsupportedCards bool   `yaml:"rejectUnsupportedCards"`
}

type AutofillOptions struct {
	Disabled bool `yaml:"disabled"`
}

// FormConfig is the merchant's form definition.
type FormConfig struct {
	Fields              map[string]FieldOptions      `yaml:"fields"`
	SupportedCardBrands map[string]bool              `yaml:"supportedCardBrands"`
	Autofill            AutofillOptions              `yaml:"autofill"`
	Styles              map[string]map[string]string `yaml:"styles"`

	HandshakeTimeout     time.Duration `yaml:"handshakeTimeout"`
	AutofillPollInterval time.Duration `yaml:"autofillPollInterval"`
}

// DefaultFormConfig is used when no form file is configured.
func DefaultFormConfig() FormConfig {
	return FormConfig{
		Fields: map[string]FieldOptions{
			string(domain.RoleNumber):         {Placeholder: "4111 1111 1111 1111"},
			string(domain.RoleCVV):            {Placeholder: "123", Mask: true},
			string(domain.RoleExpirationDate): {Placeholder: "MM / YY"},
			string(domain.RolePostalCode):     {Placeholder: "11111"},
		},
		HandshakeTimeout:     10 * time.Second,
		AutofillPollInterval: 100 * time.Millisecond,
	}
}

// ParseFormConfig decodes YAML into a validated FormConfig. Unknown keys are rejected.
func ParseFormConfig(raw []byte) (FormConfig, error) {
	cfg := DefaultFormConfig()
	cfg.Fields = nil

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FormConfig{}, fmt.Errorf("decode form config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return FormConfig{}, err
	}
	return cfg, nil
}

func LoadFormConfig(path string) (FormConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FormConfig{}, fmt.Errorf("read form config: %w", err)
	}
	return ParseFormConfig(raw)
}

// LoadFormConfigFromEnv reads FORM_CONFIG (or the default form) and applies
// HANDSHAKE_TIMEOUT and AUTOFILL_POLL_INTERVAL overrides.
func LoadFormConfigFromEnv() (FormConfig, error) {
	cfg := DefaultFormConfig()
	if path := os.Getenv("FORM_CONFIG"); path != "" {
		loaded, err := LoadFormConfig(path)
		if err != nil {
			return FormConfig{}, err
		}
		cfg = loaded
	}

	if v := os.Getenv("HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return FormConfig{}, fmt.Errorf("HANDSHAKE_TIMEOUT must be a duration (e.g. 10s): %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if v := os.Getenv("AUTOFILL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return FormConfig{}, fmt.Errorf("AUTOFILL_POLL_INTERVAL must be a duration (e.g. 100ms): %w", err)
		}
		cfg.AutofillPollInterval = d
	}
	return cfg, cfg.Validate()
}

func (c FormConfig) Validate() error {
	if len(c.Fields) == 0 {
		return errors.New("form config must define at least one field")
	}
	for name := range c.Fields {
		if _, ok := domain.ParseRole(name); !ok {
			return fmt.Errorf("form config: unknown field %q", name)
		}
	}
	_, hasDate := c.Fields[string(domain.RoleExpirationDate)]
	_, hasMonth := c.Fields[string(domain.RoleExpirationMonth)]
	_, hasYear := c.Fields[string(domain.RoleExpirationYear)]
	if hasDate && (hasMonth || hasYear) {
		return errors.New("form config: expirationDate cannot be combined with expirationMonth or expirationYear")
	}
	if hasMonth != hasYear {
		return errors.New("form config: expirationMonth and expirationYear must be configured together")
	}
	for name := range c.SupportedCardBrands {
		if _, ok := domain.ParseCardBrand(name); !ok {
			return fmt.Errorf("form config: unknown card brand %q", name)
		}
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("form config: handshakeTimeout must be positive")
	}
	if c.AutofillPollInterval <= 0 {
		return errors.New("form config: autofillPollInterval must be positive")
	}
	return nil
}

// Roles returns the configured roles in canonical order.
func (c FormConfig) Roles() []domain.Role {
	var out []domain.Role
	for _, r := range domain.Roles {
		if _, ok := c.Fields[string(r)]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Brands returns the per-brand overrides keyed by CardBrand.
func (c FormConfig) Brands() map[domain.CardBrand]bool {
	if len(c.SupportedCardBrands) == 0 {
		return nil
	}
	out := make(map[domain.CardBrand]bool, len(c.SupportedCardBrands))
	for name, accepted := range c.SupportedCardBrands {
		if b, ok := domain.ParseCardBrand(name); ok {
			out[b] = accepted
		}
	}
	return out
}
