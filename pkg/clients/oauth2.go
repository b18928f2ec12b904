package clients

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// OAuth2Config configures the refresh-token grant
type OAuth2Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	RefreshToken string   `json:"refresh_token"`
	Scopes       []string `json:"scopes,omitempty"`
}

// TokenStore persists refresh tokens that the authorization server rotated
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, refreshToken string) error
}

// TokenStoreFunc adapts a function to TokenStore
type TokenStoreFunc func(ctx context.Context, refreshToken string) error

// SaveRefreshToken calls f
func (f TokenStoreFunc) SaveRefreshToken(ctx context.Context, refreshToken string) error {
	return f(ctx, refreshToken)
}

// RotatingTokenSource refreshes access tokens with the refresh-token grant
// and hands every new refresh token to a TokenStore. Intuit rotates refresh
// tokens periodically; a rotated token that is not persisted is lost.
type RotatingTokenSource struct {
	ctx    context.Context
	conf   *oauth2.Config
	store  TokenStore
	logger *zap.Logger

	mu      sync.Mutex
	current *oauth2.Token

	refreshes   int64
	rotations   int64
	storeErrors int64
}

// NewRotatingTokenSource creates a token source. Token requests are sent
// with httpClient; store may be nil.
func NewRotatingTokenSource(ctx context.Context, cfg OAuth2Config, httpClient *http.Client, store TokenStore, logger *zap.Logger) *RotatingTokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return &RotatingTokenSource{
		ctx: ctx,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:   store,
		logger:  logger.With(zap.String("component", "oauth2")),
		current: &oauth2.Token{RefreshToken: cfg.RefreshToken},
	}
}

// Token returns a valid access token, refreshing when needed
func (s *RotatingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Valid() {
		return s.current, nil
	}

	previous := s.current.RefreshToken
	if previous == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "no refresh token available")
	}

	tok, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: previous}).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}
	atomic.AddInt64(&s.refreshes, 1)

	// Preserve refresh token if not returned
	if tok.RefreshToken == "" {
		tok.RefreshToken = previous
	}
	s.current = tok

	s.logger.Debug("access token refreshed", zap.Time("expires_at", tok.Expiry))

	if tok.RefreshToken != previous {
		atomic.AddInt64(&s.rotations, 1)
		s.logger.Info("refresh token rotated")
		if s.store != nil {
			if err := s.store.SaveRefreshToken(s.ctx, tok.RefreshToken); err != nil {
				// The old token is already invalidated upstream; keep
				// serving requests with the new one.
				atomic.AddInt64(&s.storeErrors, 1)
				s.logger.Error("failed to persist rotated refresh token", zap.Error(err))
			}
		}
	}

	return tok, nil
}

// RefreshToken returns the most recent refresh token
func (s *RotatingTokenSource) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.RefreshToken
}

// GetStats returns token source statistics
func (s *RotatingTokenSource) GetStats() OAuth2Stats {
	s.mu.Lock()
	valid := s.current.Valid()
	s.mu.Unlock()
	return OAuth2Stats{
		TokenRefreshes:    atomic.LoadInt64(&s.refreshes),
		TokenRotations:    atomic.LoadInt64(&s.rotations),
		StoreFailures:     atomic.LoadInt64(&s.storeErrors),
		CurrentTokenValid: valid,
	}
}

// OAuth2Stats represents token source statistics
type OAuth2Stats struct {
	TokenRefreshes    int64 `json:"token_refreshes"`
	TokenRotations    int64 `json:"token_rotations"`
	StoreFailures     int64 `json:"store_failures"`
	CurrentTokenValid bool  `json:"current_token_valid"`
}

// OAuth2Error represents an OAuth2 error response
type OAuth2Error struct {
	StatusCode       int    `json:"-"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e *OAuth2Error) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorDescription)
	}
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return fmt.Sprintf("token endpoint returned status %d", e.StatusCode)
}

// classifyTokenError maps token endpoint failures onto error types. Rejected
// grants are authentication failures; 5xx and transport errors are retryable.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !stderrors.As(err, &re) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "token request failed")
	}

	oerr := &OAuth2Error{ErrorCode: re.ErrorCode, ErrorDescription: re.ErrorDescription}
	if re.Response != nil {
		oerr.StatusCode = re.Response.StatusCode
	}

	errType := errors.FromHTTPStatus(oerr.StatusCode)
	switch {
	case oerr.StatusCode == http.StatusBadRequest, oerr.StatusCode == http.StatusUnauthorized:
		errType = errors.ErrorTypeAuthentication
	case oerr.StatusCode == 0:
		errType = errors.ErrorTypeConnection
	}
	return errors.Wrap(oerr, errType, "token refresh failed").WithDetail("status", oerr.StatusCode)
}
