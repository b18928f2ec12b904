package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// DateLayout is the calendar date format used by the Reports API
const DateLayout = "2006-01-02"

const (
	// DefaultTokenURL is the Intuit OAuth2 token endpoint
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	// ProductionBaseURL is the QuickBooks Online API host
	ProductionBaseURL = "https://quickbooks.api.intuit.com"
	// SandboxBaseURL is the QuickBooks Online sandbox API host
	SandboxBaseURL = "https://sandbox-quickbooks.api.intuit.com"
	// DefaultSecretName holds the Firestore service account in Secret Manager
	DefaultSecretName = "FIREBASE_CONFIG_PRODUCTION"
)

// Slice periods
const (
	SliceNone    = "none"
	SliceMonth   = "month"
	SliceQuarter = "quarter"
	SliceYear    = "year"
)

var slicePeriods = []string{SliceNone, SliceMonth, SliceQuarter, SliceYear}

var summarizeColumns = []string{
	"Total", "Month", "Week", "Days", "Quarter", "Year",
	"Customers", "Vendors", "Classes", "Departments", "Employees", "ProductsAndServices",
}

//go:embed spec.json
var connectionSpec []byte

// ConnectionSpecification returns the JSON schema of SourceConfig
func ConnectionSpecification() []byte {
	return slices.Clone(connectionSpec)
}

// SourceConfig is the configuration accepted by every command
type SourceConfig struct {
	// RealmID is the QuickBooks company id
	RealmID   string `yaml:"realm_id" json:"realm_id"`
	StartDate string `yaml:"start_date" json:"start_date,omitempty"`
	EndDate   string `yaml:"end_date" json:"end_date,omitempty"`
	Sandbox   bool   `yaml:"sandbox" json:"sandbox,omitempty"`

	Credentials Credentials     `yaml:"credentials" json:"credentials"`
	Firebase    *FirebaseConfig `yaml:"firebase" json:"firebase,omitempty"`

	// Reports restricts the exposed streams; empty means all
	Reports           []string `yaml:"reports" json:"reports,omitempty"`
	SummarizeColumnBy string   `yaml:"summarize_column_by" json:"summarize_column_by"`
	SlicePeriod       string   `yaml:"slice_period" json:"slice_period"`
	MinorVersion      string   `yaml:"minor_version" json:"minor_version"`
	ArchiveURI        string   `yaml:"archive_uri" json:"archive_uri,omitempty"`

	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// raw keeps the document as supplied so it can be re-emitted with
	// rotated credentials without adding defaults to it
	raw map[string]interface{}
}

// Credentials are the OAuth2 application credentials
type Credentials struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token,omitempty"`
	TokenURL     string `yaml:"token_url" json:"token_url,omitempty"`
}

// FirebaseConfig locates the company document holding realm and token
type FirebaseConfig struct {
	CompanyID      string `yaml:"company_id" json:"company_id"`
	ProjectID      string `yaml:"project_id" json:"project_id"`
	ServiceAccount string `yaml:"service_account" json:"service_account,omitempty"`
	SecretName     string `yaml:"secret_name" json:"secret_name,omitempty"`
}

// ReliabilityConfig contains retry, rate limit and concurrency settings
type ReliabilityConfig struct {
	// MaxRetries sets maximum retry attempts for failed requests
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the backoff
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RequestTimeout bounds a single HTTP exchange
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// MaxConcurrency bounds parallel slice requests per stream
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// CircuitBreaker enables the circuit breaker in front of the API
	CircuitBreaker *bool `yaml:"circuit_breaker" json:"circuit_breaker,omitempty"`
}

// NewSourceConfig returns a config with defaults applied
func NewSourceConfig() *SourceConfig {
	cfg := &SourceConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset optional fields
func (c *SourceConfig) ApplyDefaults() {
	if c.SummarizeColumnBy == "" {
		c.SummarizeColumnBy = "Total"
	}
	if c.SlicePeriod == "" {
		c.SlicePeriod = SliceNone
	}
	if c.MinorVersion == "" {
		c.MinorVersion = "75"
	}
	if c.Credentials.TokenURL == "" {
		c.Credentials.TokenURL = DefaultTokenURL
	}
	if c.Firebase != nil && c.Firebase.SecretName == "" {
		c.Firebase.SecretName = DefaultSecretName
	}

	r := &c.Reliability
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.RetryDelay == 0 {
		r.RetryDelay = time.Second
	}
	if r.MaxRetryDelay == 0 {
		r.MaxRetryDelay = 60 * time.Second
	}
	if r.RateLimitPerSec == 0 {
		// Intuit allows 500 requests per minute per realm
		r.RateLimitPerSec = 8
	}
	if r.RequestTimeout == 0 {
		r.RequestTimeout = 60 * time.Second
	}
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = 4
	}
	if r.CircuitBreaker == nil {
		enabled := true
		r.CircuitBreaker = &enabled
	}
}

// Validate validates the configuration for correctness.
// Credentials that come from Firestore are checked after resolution.
func (c *SourceConfig) Validate() error {
	if c.Credentials.ClientID == "" {
		return configError("credentials.client_id", "client_id is required")
	}
	if c.Credentials.ClientSecret == "" {
		return configError("credentials.client_secret", "client_secret is required")
	}
	if !c.UsesFirebase() {
		if c.RealmID == "" {
			return configError("realm_id", "realm_id is required")
		}
		if c.Credentials.RefreshToken == "" {
			return configError("credentials.refresh_token", "refresh_token is required")
		}
	} else if c.Firebase.ProjectID == "" {
		return configError("firebase.project_id", "project_id is required with firebase.company_id")
	}

	start, hasStart, err := parseDate(c.StartDate)
	if err != nil {
		return configError("start_date", err.Error())
	}
	end, hasEnd, err := parseDate(c.EndDate)
	if err != nil {
		return configError("end_date", err.Error())
	}
	if hasStart && hasEnd && start.After(end) {
		return configError("start_date", "start_date must not be after end_date")
	}

	if !slices.Contains(slicePeriods, c.SlicePeriod) {
		return configError("slice_period", fmt.Sprintf("slice_period must be one of %v", slicePeriods))
	}
	if c.SlicePeriod != SliceNone && !hasStart {
		return configError("start_date", "start_date is required when slice_period is set")
	}
	if !slices.Contains(summarizeColumns, c.SummarizeColumnBy) {
		return configError("summarize_column_by", fmt.Sprintf("unsupported summarize_column_by %q", c.SummarizeColumnBy))
	}

	if c.ArchiveURI != "" {
		u, err := url.Parse(c.ArchiveURI)
		if err != nil {
			return configError("archive_uri", err.Error())
		}
		switch u.Scheme {
		case "gs", "s3":
			if u.Host == "" {
				return configError("archive_uri", "archive_uri must name a bucket")
			}
		case "file":
		default:
			return configError("archive_uri", fmt.Sprintf("unsupported archive scheme %q", u.Scheme))
		}
	}

	r := c.Reliability
	if r.MaxRetries < 0 {
		return configError("reliability.max_retries", "max_retries cannot be negative")
	}
	if r.RateLimitPerSec < 0 {
		return configError("reliability.rate_limit_per_sec", "rate_limit_per_sec cannot be negative")
	}
	if r.MaxConcurrency < 1 {
		return configError("reliability.max_concurrency", "max_concurrency must be positive")
	}
	return nil
}

// UsesFirebase reports whether realm and token come from Firestore
func (c *SourceConfig) UsesFirebase() bool {
	return c.Firebase != nil && c.Firebase.CompanyID != ""
}

// BaseURL returns the API host for the configured environment
func (c *SourceConfig) BaseURL() string {
	if c.Sandbox {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

// Start returns the configured start date
func (c *SourceConfig) Start() (time.Time, bool) {
	t, ok, _ := parseDate(c.StartDate)
	return t, ok
}

// End returns the configured end date, or the day of now when unset
func (c *SourceConfig) End(now time.Time) time.Time {
	if t, ok, _ := parseDate(c.EndDate); ok {
		return t
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CircuitBreakerEnabled reports whether the breaker should wrap requests
func (r *ReliabilityConfig) CircuitBreakerEnabled() bool {
	return r.CircuitBreaker == nil || *r.CircuitBreaker
}

// WithRefreshToken returns the supplied document with the refresh token
// replaced. It is what the platform should store after a rotation.
func (c *SourceConfig) WithRefreshToken(token string) map[string]interface{} {
	out := make(map[string]interface{}, len(c.raw)+1)
	for k, v := range c.raw {
		out[k] = v
	}
	creds := map[string]interface{}{}
	if existing, ok := out["credentials"].(map[string]interface{}); ok {
		for k, v := range existing {
			creds[k] = v
		}
	}
	if len(creds) == 0 {
		creds["client_id"] = c.Credentials.ClientID
		creds["client_secret"] = c.Credentials.ClientSecret
	}
	creds["refresh_token"] = token
	out["credentials"] = creds
	return out
}

func parseDate(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is not a YYYY-MM-DD date", s)
	}
	return t, true, nil
}

func configError(field, msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg).WithDetail("field", field)
}
