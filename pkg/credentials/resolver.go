package credentials

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drivepoint/source-quickbooks/pkg/clients"
	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// CompanySource loads a company and stores its rotated tokens
type CompanySource interface {
	clients.TokenStore
	Company(ctx context.Context) (*Company, error)
	Close() error
}

// SecretSource returns secret payloads by name
type SecretSource interface {
	Access(ctx context.Context, secret string) ([]byte, error)
	Close() error
}

// Resolved holds the realm and refresh token to use for a run
type Resolved struct {
	RealmID      string
	RefreshToken string
	// Store receives rotated refresh tokens; nil when the configuration
	// file is the only source of credentials
	Store clients.TokenStore

	closers []func() error
}

// Close releases the clients opened during resolution
func (r *Resolved) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// Resolver resolves credentials from the configuration and Firestore
type Resolver struct {
	logger *zap.Logger

	// NewSecrets and NewCompanies open the backing clients
	NewSecrets   func(ctx context.Context, projectID string) (SecretSource, error)
	NewCompanies func(ctx context.Context, projectID, companyID string, opts ...option.ClientOption) (CompanySource, error)
}

// NewResolver creates a resolver backed by Secret Manager and Firestore
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{logger: logger.With(zap.String("component", "credentials"))}
	r.NewSecrets = func(ctx context.Context, projectID string) (SecretSource, error) {
		c, err := NewSecretClient(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	r.NewCompanies = func(ctx context.Context, projectID, companyID string, opts ...option.ClientOption) (CompanySource, error) {
		s, err := NewCompanyStore(ctx, projectID, companyID, r.logger, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return r
}

// Resolve returns the realm and refresh token for cfg. With a firebase
// company the refresh token always comes from Firestore; an explicit
// realm_id in the configuration takes precedence over the stored one.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.SourceConfig) (*Resolved, error) {
	if !cfg.UsesFirebase() {
		return &Resolved{
			RealmID:      cfg.RealmID,
			RefreshToken: cfg.Credentials.RefreshToken,
		}, nil
	}

	fb := cfg.Firebase
	res := &Resolved{}

	opt, err := r.serviceAccount(ctx, fb, res)
	if err != nil {
		_ = res.Close()
		return nil, err
	}

	store, err := r.NewCompanies(ctx, fb.ProjectID, fb.CompanyID, opt)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	res.closers = append(res.closers, store.Close)

	company, err := store.Company(ctx)
	if err != nil {
		_ = res.Close()
		return nil, err
	}

	res.RealmID = cfg.RealmID
	if res.RealmID == "" {
		res.RealmID = company.RealmID
	}
	res.RefreshToken = company.RefreshToken
	res.Store = store

	if res.RealmID == "" {
		_ = res.Close()
		return nil, errors.New(errors.ErrorTypeConfig, "company has no QuickBooks realm_id").
			WithDetail("company_id", fb.CompanyID)
	}
	if res.RefreshToken == "" {
		_ = res.Close()
		return nil, errors.New(errors.ErrorTypeAuthentication, "company has no QuickBooks refresh token").
			WithDetail("company_id", fb.CompanyID)
	}

	r.logger.Info("credentials resolved from Firestore",
		zap.String("company_id", fb.CompanyID),
		zap.String("realm_id", res.RealmID))
	return res, nil
}

// serviceAccount returns the client option carrying the Firestore service
// account: inline JSON, a file path, or the payload of a secret
func (r *Resolver) serviceAccount(ctx context.Context, fb *config.FirebaseConfig, res *Resolved) (option.ClientOption, error) {
	sa := strings.TrimSpace(fb.ServiceAccount)
	switch {
	case strings.HasPrefix(sa, "{"):
		return option.WithCredentialsJSON([]byte(sa)), nil
	case sa != "":
		if _, err := os.Stat(sa); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "service account file not readable").
				WithDetail("path", sa)
		}
		return option.WithCredentialsFile(sa), nil
	}

	secrets, err := r.NewSecrets(ctx, fb.ProjectID)
	if err != nil {
		return nil, err
	}
	res.closers = append(res.closers, secrets.Close)

	payload, err := secrets.Access(ctx, fb.SecretName)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("service account loaded from Secret Manager", zap.String("secret", fb.SecretName))
	return option.WithCredentialsJSON(payload), nil
}
