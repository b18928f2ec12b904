package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

type fakeAccessor struct {
	secrets map[string][]byte
	names   []string
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.names = append(f.names, req.GetName())
	data, ok := f.secrets[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	}, nil
}

type fakeCompanies struct {
	company *Company
	err     error
	saved   []string
	opts    []option.ClientOption
	closed  bool
}

func (f *fakeCompanies) Company(context.Context) (*Company, error) {
	return f.company, f.err
}

func (f *fakeCompanies) SaveRefreshToken(_ context.Context, token string) error {
	f.saved = append(f.saved, token)
	return nil
}

func (f *fakeCompanies) Close() error {
	f.closed = true
	return nil
}

func newFakeResolver(t *testing.T, accessor *fakeAccessor, companies *fakeCompanies) *Resolver {
	r := NewResolver(zaptest.NewLogger(t))
	r.NewSecrets = func(ctx context.Context, projectID string) (SecretSource, error) {
		return NewSecretClientWithAccessor(accessor, projectID), nil
	}
	r.NewCompanies = func(ctx context.Context, projectID, companyID string, opts ...option.ClientOption) (CompanySource, error) {
		companies.opts = opts
		return companies, nil
	}
	return r
}

func firebaseConfig(serviceAccount string) *config.SourceConfig {
	cfg := config.NewSourceConfig()
	cfg.Credentials.ClientID = "test_client_id"
	cfg.Credentials.ClientSecret = "test_client_secret"
	cfg.Firebase = &config.FirebaseConfig{
		CompanyID:      "acme",
		ProjectID:      "drivepoint-prod",
		ServiceAccount: serviceAccount,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestSecretClientVersionName(t *testing.T) {
	c := NewSecretClientWithAccessor(&fakeAccessor{}, "drivepoint-prod")

	assert.Equal(t, "projects/drivepoint-prod/secrets/FIREBASE_CONFIG_PRODUCTION/versions/latest",
		c.VersionName("FIREBASE_CONFIG_PRODUCTION"))
	assert.Equal(t, "projects/other/secrets/x/versions/latest", c.VersionName("projects/other/secrets/x"))
	assert.Equal(t, "projects/other/secrets/x/versions/3", c.VersionName("projects/other/secrets/x/versions/3"))
}

func TestSecretClientAccess(t *testing.T) {
	accessor := &fakeAccessor{secrets: map[string][]byte{
		"projects/p/secrets/sa/versions/latest":    []byte(`{"type":"service_account"}`),
		"projects/p/secrets/empty/versions/latest": {},
	}}
	c := NewSecretClientWithAccessor(accessor, "p")

	data, err := c.Access(context.Background(), "sa")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(data))

	_, err = c.Access(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = c.Access(context.Background(), "empty")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.NoError(t, c.Close())
}

func TestResolveWithoutFirebase(t *testing.T) {
	cfg := config.NewSourceConfig()
	cfg.RealmID = "123456789"
	cfg.Credentials.RefreshToken = "test_refresh_token"

	res, err := NewResolver(nil).Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "123456789", res.RealmID)
	assert.Equal(t, "test_refresh_token", res.RefreshToken)
	assert.Nil(t, res.Store)
	assert.NoError(t, res.Close())
}

func TestResolveFromSecretManager(t *testing.T) {
	accessor := &fakeAccessor{secrets: map[string][]byte{
		"projects/drivepoint-prod/secrets/FIREBASE_CONFIG_PRODUCTION/versions/latest": []byte(`{"type":"service_account"}`),
	}}
	companies := &fakeCompanies{company: &Company{ID: "acme", RealmID: "4620816365", RefreshToken: "stored-token"}}

	res, err := newFakeResolver(t, accessor, companies).Resolve(context.Background(), firebaseConfig(""))
	require.NoError(t, err)
	assert.Equal(t, "4620816365", res.RealmID)
	assert.Equal(t, "stored-token", res.RefreshToken)
	assert.Len(t, companies.opts, 1)
	assert.Len(t, accessor.names, 1)

	require.NotNil(t, res.Store)
	require.NoError(t, res.Store.SaveRefreshToken(context.Background(), "rotated"))
	assert.Equal(t, []string{"rotated"}, companies.saved)

	require.NoError(t, res.Close())
	assert.True(t, companies.closed)
}

func TestResolveInlineAndFileServiceAccount(t *testing.T) {
	accessor := &fakeAccessor{}
	companies := &fakeCompanies{company: &Company{RealmID: "1", RefreshToken: "t"}}
	r := newFakeResolver(t, accessor, companies)

	_, err := r.Resolve(context.Background(), firebaseConfig(`{"type":"service_account"}`))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))
	_, err = r.Resolve(context.Background(), firebaseConfig(path))
	require.NoError(t, err)

	assert.Empty(t, accessor.names, "secret manager must not be used")

	_, err = r.Resolve(context.Background(), firebaseConfig(filepath.Join(t.TempDir(), "missing.json")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestResolveRealmOverrideAndMissingToken(t *testing.T) {
	companies := &fakeCompanies{company: &Company{RealmID: "stored", RefreshToken: "t"}}
	r := newFakeResolver(t, &fakeAccessor{}, companies)

	cfg := firebaseConfig(`{}`)
	cfg.RealmID = "explicit"
	res, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "explicit", res.RealmID)

	companies.company = &Company{RealmID: "stored"}
	companies.closed = false
	_, err = r.Resolve(context.Background(), firebaseConfig(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.True(t, companies.closed)
}

func TestResolveCompanyNotFound(t *testing.T) {
	companies := &fakeCompanies{err: errors.New(errors.ErrorTypeNotFound, "company acme not found")}
	_, err := newFakeResolver(t, &fakeAccessor{}, companies).Resolve(context.Background(), firebaseConfig(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.True(t, companies.closed)
}

// TestCompanyStoreEmulator runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set
func TestCompanyStoreEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()

	store, err := NewCompanyStore(ctx, "demo-test", "acme", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.client.Collection(CompaniesCollection).Doc("acme").Set(ctx, map[string]interface{}{
		"name": "Acme",
		"intuit": map[string]interface{}{
			"realm_id": "123456789",
			"token":    map[string]interface{}{"refresh_token": "first"},
		},
	})
	require.NoError(t, err)

	company, err := store.Company(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123456789", company.RealmID)
	assert.Equal(t, "first", company.RefreshToken)

	require.NoError(t, store.SaveRefreshToken(ctx, "second"))
	company, err = store.Company(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", company.RefreshToken)

	snap, err := store.doc().Get(ctx)
	require.NoError(t, err)
	name, err := snap.DataAt("name")
	require.NoError(t, err)
	assert.Equal(t, "Acme", name, "update must only touch the token field")

	missing, err := NewCompanyStore(ctx, "demo-test", "missing", nil)
	require.NoError(t, err)
	defer missing.Close()
	err = missing.SaveRefreshToken(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = missing.Company(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
