// Package connector implements the QuickBooks reports source behind the four
// protocol commands: specification, connection check, discovery and read.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/archive"
	"github.com/drivepoint/source-quickbooks/pkg/clients"
	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/connector/registry"
	"github.com/drivepoint/source-quickbooks/pkg/credentials"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
	"github.com/drivepoint/source-quickbooks/pkg/metrics"
	"github.com/drivepoint/source-quickbooks/pkg/observability"
	"github.com/drivepoint/source-quickbooks/pkg/protocol"
	"github.com/drivepoint/source-quickbooks/pkg/quickbooks"
)

// DocumentationURL is advertised in the connector specification
const DocumentationURL = "https://developer.intuit.com/app/developer/qbo/docs/api/accounting/all-entities/balancesheet"

// Check failure messages
const (
	MsgAuthenticationFailed = "Authentication failed. Please verify your credentials."
	MsgAuthorizationFailed  = "Authorization failed. Please ensure you have the correct permissions."
	msgConnectFailed        = "Unable to connect to QuickBooks API: "
)

// Options configures a Source
type Options struct {
	Emitter *protocol.Emitter
	Logger  *zap.Logger
	// Metrics is optional
	Metrics *metrics.Collector
	// Resolver defaults to a Firestore and Secret Manager backed resolver
	Resolver *credentials.Resolver
	// Registry defaults to the global stream registry
	Registry *registry.Registry
	// HTTPConfig overrides the transport settings derived from the
	// reliability section of the configuration
	HTTPConfig *clients.HTTPConfig
	// BaseURL overrides the QuickBooks API host
	BaseURL string
	// OpenArchive defaults to archive.Open
	OpenArchive func(ctx context.Context, uri string) (archive.Archiver, error)
	// Now defaults to time.Now
	Now   func() time.Time
	RunID string
}

// Source implements the connector operations
type Source struct {
	emitter     *protocol.Emitter
	logger      *zap.Logger
	metrics     *metrics.Collector
	resolver    *credentials.Resolver
	registry    *registry.Registry
	httpConfig  *clients.HTTPConfig
	baseURL     string
	openArchive func(ctx context.Context, uri string) (archive.Archiver, error)
	now         func() time.Time
	runID       string
}

// New creates a Source
func New(opts Options) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		emitter:    opts.Emitter,
		logger:     logger,
		metrics:    opts.Metrics,
		resolver:   opts.Resolver,
		registry:   opts.Registry,
		httpConfig: opts.HTTPConfig,
		baseURL:    opts.BaseURL,
		now:        opts.Now,
		runID:      opts.RunID,
	}
	if s.resolver == nil {
		s.resolver = credentials.NewResolver(logger)
	}
	if s.registry == nil {
		s.registry = registry.GetRegistry()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.openArchive = opts.OpenArchive
	if s.openArchive == nil {
		s.openArchive = func(ctx context.Context, uri string) (archive.Archiver, error) {
			return archive.Open(ctx, uri, archive.Options{Logger: logger})
		}
	}
	return s
}

// Spec emits the connector specification
func (s *Source) Spec(ctx context.Context) error {
	return s.emitter.Spec(&protocol.ConnectorSpecification{
		DocumentationURL:        DocumentationURL,
		ConnectionSpecification: config.ConnectionSpecification(),
		SupportsIncremental:     true,
		SupportedDestinationSyncModes: []protocol.DestinationSyncMode{
			protocol.DestinationSyncModeOverwrite,
			protocol.DestinationSyncModeAppend,
			protocol.DestinationSyncModeAppendDedup,
		},
	})
}

// Discover emits the catalog of enabled streams
func (s *Source) Discover(ctx context.Context, cfg *config.SourceConfig) error {
	if err := s.validate(cfg); err != nil {
		return err
	}
	defs := s.enabledStreams(cfg)
	catalog := &protocol.Catalog{Streams: make([]protocol.Stream, 0, len(defs))}
	for _, def := range defs {
		catalog.Streams = append(catalog.Streams, catalogStream(def))
	}
	s.logger.Info("catalog discovered", zap.Int("streams", len(catalog.Streams)))
	return s.emitter.Catalog(catalog)
}

// Check verifies the credentials by requesting a one day Balance Sheet and
// emits the outcome. It only returns an error when the status cannot be
// written.
func (s *Source) Check(ctx context.Context, cfg *config.SourceConfig) error {
	tracer := observability.NewConnectorTracer("source-quickbooks", "check")
	err := tracer.Trace(ctx, "balance_sheet", nil, func(ctx context.Context) error {
		if err := s.validate(cfg); err != nil {
			return err
		}
		sess, err := s.connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer sess.Close()

		day := cfg.End(s.now()).Format(config.DateLayout)
		_, err = sess.reports.FetchReport(ctx, quickbooks.ReportRequest{
			Report:            quickbooks.ReportBalanceSheet,
			StartDate:         day,
			EndDate:           day,
			SummarizeColumnBy: "Total",
		})
		return err
	})

	if err != nil {
		s.logger.Warn("connection check failed", zap.Error(err))
		return s.emitter.ConnectionStatus(false, CheckMessage(err))
	}
	s.logger.Info("connection check succeeded")
	return s.emitter.ConnectionStatus(true, "")
}

// CheckMessage turns a check failure into the message shown to users
func CheckMessage(err error) string {
	status := quickbooks.StatusCode(err)
	switch {
	case status == http.StatusUnauthorized || errors.HasType(err, errors.ErrorTypeAuthentication):
		return MsgAuthenticationFailed
	case status == http.StatusForbidden || errors.HasType(err, errors.ErrorTypePermission):
		return MsgAuthorizationFailed
	default:
		return msgConnectFailed + err.Error()
	}
}

func (s *Source) validate(cfg *config.SourceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, name := range cfg.Reports {
		if !s.registry.Has(name) {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown report %q", name)).
				WithDetail("field", "reports")
		}
	}
	return nil
}

// session is an authorized connection to one company
type session struct {
	realmID string
	reports *quickbooks.Client
	tokens  *clients.RotatingTokenSource
	http    *clients.HTTPClient
	creds   *credentials.Resolved
}

func (s *session) Close() {
	_ = s.http.Close()
	_ = s.creds.Close()
}

func (s *Source) connect(ctx context.Context, cfg *config.SourceConfig) (*session, error) {
	creds, err := s.resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store := creds.Store
	if store == nil {
		// the platform persists the configuration carried by the control message
		store = clients.TokenStoreFunc(func(ctx context.Context, token string) error {
			return s.emitter.ControlConfig(cfg.WithRefreshToken(token))
		})
	}
	store = s.instrumentStore(store)

	httpClient := clients.NewHTTPClient(s.transportConfig(cfg), s.logger)
	if s.metrics != nil {
		httpClient.SetObserver(s.metrics)
	}

	tokens := clients.NewRotatingTokenSource(ctx, clients.OAuth2Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		TokenURL:     cfg.Credentials.TokenURL,
		RefreshToken: creds.RefreshToken,
	}, httpClient.StandardClient(), store, s.logger)

	baseURL := s.baseURL
	if baseURL == "" {
		baseURL = cfg.BaseURL()
	}
	r := cfg.Reliability
	reports := quickbooks.NewClient(httpClient.WithTokenSource(tokens), quickbooks.ClientConfig{
		BaseURL:      baseURL,
		RealmID:      creds.RealmID,
		MinorVersion: cfg.MinorVersion,
		Retry:        quickbooks.NewRetryPolicy(r.MaxRetries, r.RetryDelay, r.MaxRetryDelay),
	}, s.logger)

	return &session{
		realmID: creds.RealmID,
		reports: reports,
		tokens:  tokens,
		http:    httpClient,
		creds:   creds,
	}, nil
}

func (s *Source) transportConfig(cfg *config.SourceConfig) *clients.HTTPConfig {
	if s.httpConfig != nil {
		c := *s.httpConfig
		return &c
	}
	c := clients.DefaultHTTPConfig()
	r := cfg.Reliability
	c.RequestTimeout = r.RequestTimeout
	c.ResponseHeaderTimeout = r.RequestTimeout
	c.RateLimit = r.RateLimitPerSec
	c.CircuitBreakerEnabled = r.CircuitBreakerEnabled()
	if r.MaxConcurrency > c.MaxIdleConnsPerHost {
		c.MaxIdleConnsPerHost = r.MaxConcurrency
	}
	return c
}

func (s *Source) instrumentStore(store clients.TokenStore) clients.TokenStore {
	return clients.TokenStoreFunc(func(ctx context.Context, token string) error {
		err := store.SaveRefreshToken(ctx, token)
		if s.metrics != nil {
			s.metrics.TokenEvent("rotated")
			if err != nil {
				s.metrics.TokenEvent("store_failed")
			}
		}
		return err
	})
}
