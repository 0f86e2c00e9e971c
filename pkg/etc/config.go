package etc

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds the hub configuration resolved from SCANHUB_* environment
// variables.
type Config struct {
	Hub      Hub
	API      API
	Scanners Scanners
}

type Hub struct {
	DatabasePath         string        `env:"SCANHUB_DATABASE_PATH" envDefault:"scanhub.db"`
	ComplianceWindowDays int           `env:"SCANHUB_COMPLIANCE_WINDOW_DAYS" envDefault:"30"`
	RemediationSLADays   int           `env:"SCANHUB_REMEDIATION_SLA_DAYS" envDefault:"14"`
	AlertPolicyFile      string        `env:"SCANHUB_ALERT_POLICY_FILE"`
	ScanTimeout          time.Duration `env:"SCANHUB_SCAN_TIMEOUT" envDefault:"5m"`
	LogDevMode           bool          `env:"SCANHUB_LOG_DEV_MODE" envDefault:"false"`
}

type API struct {
	BindAddress          string        `env:"SCANHUB_API_BIND_ADDRESS" envDefault:":8080"`
	APIKey               string        `env:"SCANHUB_API_KEY"`
	ReadTimeout          time.Duration `env:"SCANHUB_API_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout         time.Duration `env:"SCANHUB_API_WRITE_TIMEOUT" envDefault:"30s"`
	RateLimitEnabled     bool          `env:"SCANHUB_API_RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRequests    int           `env:"SCANHUB_API_RATE_LIMIT_REQUESTS" envDefault:"120"`
	RateLimitWindow      time.Duration `env:"SCANHUB_API_RATE_LIMIT_WINDOW" envDefault:"1m"`
	TrustProxyHeaders    bool          `env:"SCANHUB_API_TRUST_PROXY_HEADERS" envDefault:"false"`
	MaxIngestPayloadSize int64         `env:"SCANHUB_API_MAX_INGEST_PAYLOAD" envDefault:"4194304"`
}

type Scanners struct {
	CatalogFile    string        `env:"SCANHUB_SCANNER_CATALOG_FILE"`
	AdapterTimeout time.Duration `env:"SCANHUB_ADAPTER_TIMEOUT" envDefault:"2m"`
}

// GetConfig resolves Config from the environment.
func GetConfig() (Config, error) {
	var config Config
	err := env.Parse(&config)
	return config, err
}

// GetAPIKey returns the configured ingestion API key or an error if it is
// not set. The API refuses to start without one.
func (c API) GetAPIKey() (string, error) {
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	return "", fmt.Errorf("%s must be set", "SCANHUB_API_KEY")
}
