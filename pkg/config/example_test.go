package config_test

import (
	"fmt"

	"github.com/drivepoint/source-quickbooks/pkg/config"
)

// ExampleNewSourceConfig demonstrates the defaults applied to a new
// configuration.
func ExampleNewSourceConfig() {
	cfg := config.NewSourceConfig()

	fmt.Printf("Summarize: %s\n", cfg.SummarizeColumnBy)
	fmt.Printf("Slice: %s\n", cfg.SlicePeriod)
	fmt.Printf("Retries: %d\n", cfg.Reliability.MaxRetries)
	fmt.Printf("Request Timeout: %s\n", cfg.Reliability.RequestTimeout)
	fmt.Printf("Token URL: %s\n", cfg.Credentials.TokenURL)

	// Output:
	// Summarize: Total
	// Slice: none
	// Retries: 3
	// Request Timeout: 1m0s
	// Token URL: https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer
}

// ExampleParseSource shows parsing and validating a platform config.
func ExampleParseSource() {
	cfg, err := config.ParseSource([]byte(`{
		"realm_id": "123456789",
		"start_date": "2024-01-01",
		"end_date": "2024-12-31",
		"credentials": {
			"client_id": "test_client_id",
			"client_secret": "test_client_secret",
			"refresh_token": "test_refresh_token"
		}
	}`))
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("Realm:", cfg.RealmID)
	fmt.Println("Valid:", cfg.Validate() == nil)
	fmt.Println("Host:", cfg.BaseURL())

	// Output:
	// Realm: 123456789
	// Valid: true
	// Host: https://quickbooks.api.intuit.com
}

// ExampleSourceConfig_Validate shows a validation failure.
func ExampleSourceConfig_Validate() {
	cfg := config.NewSourceConfig()
	cfg.Credentials.ClientID = "id"
	cfg.Credentials.ClientSecret = "secret"
	cfg.Credentials.RefreshToken = "token"

	fmt.Println(cfg.Validate())

	// Output:
	// config: realm_id is required
}
