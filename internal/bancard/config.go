package bancard

import (
	"errors"
	"strings"
	"time"

	"github.com/frahmantamala/zenn-checkout/internal"
)

const (
	EnvironmentStaging    = "staging"
	EnvironmentProduction = "production"

	stagingBaseURL    = "https://vpos.infonet.com.py:8888"
	productionBaseURL = "https://vpos.infonet.com.py"

	apiPrefix        = "/vpos/api/0.3"
	checkoutScript   = "/checkout/javascript/dist/bancard-checkout-4.0.0.js"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "zenn-checkout/1.0"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	PublicKey       string
	PrivateKey      string
	Environment     string
	BaseURLOverride string
	ConfirmationURL string
	ReturnURL       string
	CancelURL       string
	CardReturnURL   string
	Timeout         time.Duration
	UserAgent       string
}

func ConfigFrom(c internal.BancardConfig) Config {
	cfg := Config{
		PublicKey:       c.PublicKey,
		PrivateKey:      c.PrivateKey,
		Environment:     c.Environment,
		BaseURLOverride: c.BaseURL,
		ConfirmationURL: c.ConfirmationURL,
		ReturnURL:       c.ReturnURL,
		CancelURL:       c.CancelURL,
		CardReturnURL:   c.CardReturnURL,
		Timeout:         c.Timeout,
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentStaging
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.CardReturnURL == "" {
		cfg.CardReturnURL = cfg.ReturnURL
	}
	return cfg
}

// Validate fails fast before any gateway call is attempted.
func (c Config) Validate() error {
	switch {
	case len(c.PublicKey) != 32:
		return internal.NewConfigurationError("bancard public key must be 32 characters", errors.New("invalid public key"))
	case len(c.PrivateKey) != 40:
		return internal.NewConfigurationError("bancard private key must be 40 characters", errors.New("invalid private key"))
	case strings.TrimSpace(c.ConfirmationURL) == "":
		return internal.NewConfigurationError("bancard confirmation url is not configured", errors.New("missing confirmation url"))
	}
	return nil
}

func (c Config) BaseURL() string {
	if c.BaseURLOverride != "" {
		return strings.TrimRight(c.BaseURLOverride, "/")
	}
	if c.Environment == EnvironmentProduction {
		return productionBaseURL
	}
	return stagingBaseURL
}

// CheckoutScriptURL is the iframe library the storefront loads to render the card form.
func (c Config) CheckoutScriptURL() string {
	return c.BaseURL() + checkoutScript
}

// CheckoutURL is where a customer is sent to finish a 3DS challenge or a card enrollment.
func (c Config) CheckoutURL(gatewayProcessID string) string {
	return c.BaseURL() + "/checkout/new/" + gatewayProcessID
}
