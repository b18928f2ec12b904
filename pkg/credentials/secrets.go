package credentials

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// SecretAccessor is the subset of the Secret Manager client used here
type SecretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretClient reads the latest version of secrets in one project
type SecretClient struct {
	accessor  SecretAccessor
	projectID string
	close     func() error
}

// NewSecretClient connects to Secret Manager with application default
// credentials unless opts say otherwise
func NewSecretClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretClient, error) {
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Secret Manager client")
	}
	return &SecretClient{accessor: c, projectID: projectID, close: c.Close}, nil
}

// NewSecretClientWithAccessor wraps an existing accessor
func NewSecretClientWithAccessor(accessor SecretAccessor, projectID string) *SecretClient {
	return &SecretClient{accessor: accessor, projectID: projectID}
}

// VersionName returns the resource name of the latest version of a secret.
// Fully qualified names are returned unchanged.
func (c *SecretClient) VersionName(secret string) string {
	if strings.HasPrefix(secret, "projects/") {
		if strings.Contains(secret, "/versions/") {
			return secret
		}
		return secret + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.projectID, secret)
}

// Access returns the payload of the latest version of secret
func (c *SecretClient) Access(ctx context.Context, secret string) ([]byte, error) {
	name := c.VersionName(secret)
	resp, err := c.accessor.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, grpcError(err, fmt.Sprintf("failed to access secret %s", name))
	}
	if resp.GetPayload() == nil || len(resp.GetPayload().GetData()) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("secret %s is empty", name))
	}
	return resp.GetPayload().GetData(), nil
}

// Close closes the underlying client
func (c *SecretClient) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
