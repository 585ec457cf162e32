package clover

import (
	"errors"
	"strings"
	"time"
)

// Config holds configuration for the Clover REST API
type Config struct {
	// APIKey is the merchant's bearer token
	APIKey string
	// MerchantID keys every URL under /v3/merchants/{mid}
	MerchantID string
	// APIBaseURL is the API host (production or sandbox)
	APIBaseURL string
	// Timeout bounds each HTTP round trip
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing calls; zero disables the throttle
	RequestsPerSecond float64
	// Burst is the throttle's bucket size
	Burst int
}

// DefaultTimeout applies when Timeout is not positive
const DefaultTimeout = 30 * time.Second

const (
	// ProductionAPIURL is the production API host
	ProductionAPIURL = "https://api.clover.com"
	// SandboxAPIURL is the sandbox API host
	SandboxAPIURL = "https://apisandbox.dev.clover.com"
)

// Errors for Clover configuration
var (
	ErrConfigMissingAPIKey     = errors.New("clover: api key is required")
	ErrConfigMissingMerchantID = errors.New("clover: merchant id is required")
)

// NewConfig creates a Clover configuration with production defaults
func NewConfig(apiKey, merchantID string) *Config {
	return &Config{
		APIKey:            apiKey,
		MerchantID:        merchantID,
		APIBaseURL:        ProductionAPIURL,
		Timeout:           DefaultTimeout,
		RequestsPerSecond: 8,
		Burst:             4,
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}
	if c.MerchantID == "" {
		return ErrConfigMissingMerchantID
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = ProductionAPIURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return nil
}

// merchantURL returns the base URL for merchant-scoped endpoints
func (c *Config) merchantURL() string {
	return c.APIBaseURL + "/v3/merchants/" + c.MerchantID
}
