// Package credentials resolves the QuickBooks realm and refresh token for a
// company. They come from the configuration file or from the company's
// Firestore document, whose service account may itself live in Secret Manager.
package credentials

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

const (
	// CompaniesCollection holds one document per company
	CompaniesCollection = "excelCompanies"
	// RefreshTokenPath is the field path of the QuickBooks refresh token
	RefreshTokenPath = "intuit.token.refresh_token"
)

// Company is the QuickBooks connection of one company
type Company struct {
	ID           string
	RealmID      string
	RefreshToken string
}

type companyDoc struct {
	Intuit struct {
		RealmID string `firestore:"realm_id"`
		Token   struct {
			RefreshToken string `firestore:"refresh_token"`
		} `firestore:"token"`
	} `firestore:"intuit"`
}

// CompanyStore reads and updates a company document in Firestore. It
// implements clients.TokenStore.
type CompanyStore struct {
	client    *firestore.Client
	companyID string
	logger    *zap.Logger
}

// NewCompanyStore connects to Firestore in projectID
func NewCompanyStore(ctx context.Context, projectID, companyID string, logger *zap.Logger, opts ...option.ClientOption) (*CompanyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Firestore client").
			WithDetail("project_id", projectID)
	}
	return &CompanyStore{
		client:    client,
		companyID: companyID,
		logger:    logger.With(zap.String("component", "company_store"), zap.String("company_id", companyID)),
	}, nil
}

func (s *CompanyStore) doc() *firestore.DocumentRef {
	return s.client.Collection(CompaniesCollection).Doc(s.companyID)
}

// Company loads the company document
func (s *CompanyStore) Company(ctx context.Context) (*Company, error) {
	snap, err := s.doc().Get(ctx)
	if err != nil {
		return nil, grpcError(err, fmt.Sprintf("failed to load company %s", s.companyID))
	}

	var doc companyDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed company document").
			WithDetail("company_id", s.companyID)
	}

	s.logger.Debug("company document loaded", zap.Bool("has_refresh_token", doc.Intuit.Token.RefreshToken != ""))
	return &Company{
		ID:           s.companyID,
		RealmID:      doc.Intuit.RealmID,
		RefreshToken: doc.Intuit.Token.RefreshToken,
	}, nil
}

// SaveRefreshToken writes a rotated refresh token. The document must exist.
func (s *CompanyStore) SaveRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := s.doc().Update(ctx, []firestore.Update{
		{Path: RefreshTokenPath, Value: refreshToken},
	})
	if err != nil {
		return grpcError(err, fmt.Sprintf("failed to update refresh token of company %s", s.companyID))
	}
	s.logger.Info("refresh token saved")
	return nil
}

// Close closes the Firestore client
func (s *CompanyStore) Close() error {
	return s.client.Close()
}

func grpcError(err error, msg string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.Wrap(err, errors.ErrorTypeNotFound, msg)
	case codes.PermissionDenied:
		return errors.Wrap(err, errors.ErrorTypePermission, msg)
	case codes.Unauthenticated:
		return errors.Wrap(err, errors.ErrorTypeAuthentication, msg)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errors.Wrap(err, errors.ErrorTypeConnection, msg)
	default:
		return errors.Wrap(err, errors.ErrorTypeInternal, msg)
	}
}
