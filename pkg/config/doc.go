// Package config loads and validates the QuickBooks source configuration.
//
// A configuration is a single YAML or JSON document (JSON is valid YAML) with
// the QuickBooks company, the OAuth2 application credentials and optional
// sections for Firestore-backed credential resolution, report slicing, raw
// response archiving and client reliability settings.
//
// # Usage
//
//	cfg, err := config.LoadSource("config.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Variable Substitution
//
// References of the form ${VAR_NAME} are replaced with the value of the
// environment variable before the document is parsed:
//
//	credentials:
//	  client_id: ${QBO_CLIENT_ID}
//	  client_secret: ${QBO_CLIENT_SECRET}
//
// # Connection Specification
//
// The JSON schema advertised by the spec command is embedded in the binary
// and returned by ConnectionSpecification.
package config
