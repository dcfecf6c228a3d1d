package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// Parameter names under the configured prefix.
const (
	ssmValkeyPassword = "valkey-password"
	ssmAdminSecret    = "admin-secret"
	ssmIngestSecret   = "ingest-secret"
)

// SSMAPI defines SSM operations required by SSMStore.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads credentials from AWS SSM Parameter Store as SecureStrings
// under a path prefix, e.g. /arb-relay/valkey-password.
type SSMStore struct {
	client SSMAPI
	prefix string
}

// NewSSMStore creates an SSM-backed credentials store.
func NewSSMStore(awsCfg aws.Config, prefix string) *SSMStore {
	return NewSSMStoreWithClient(ssm.NewFromConfig(awsCfg), prefix)
}

// NewSSMStoreWithClient creates an SSM store with a custom client (for testing).
func NewSSMStoreWithClient(client SSMAPI, prefix string) *SSMStore {
	if prefix == "" {
		prefix = "/arb-relay"
	}
	return &SSMStore{
		client: client,
		prefix: prefix,
	}
}

// Fetch reads each credential parameter with decryption. A parameter that
// does not exist yields an empty field; any other SSM error fails the fetch.
func (s *SSMStore) Fetch(ctx context.Context) (*Credentials, error) {
	creds := &Credentials{}

	fields := []struct {
		name string
		dst  *string
	}{
		{ssmValkeyPassword, &creds.ValkeyPassword},
		{ssmAdminSecret, &creds.AdminSecret},
		{ssmIngestSecret, &creds.IngestSecret},
	}

	for _, f := range fields {
		value, err := s.getParameter(ctx, s.prefix+"/"+f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = value
	}
	return creds, nil
}

func (s *SSMStore) getParameter(ctx context.Context, name string) (string, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", nil
	}
	return *output.Parameter.Value, nil
}

// Ensure SSMStore implements Store.
var _ Store = (*SSMStore)(nil)
