package credentials

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"exgateway/pkg/binance"
)

// SSMStore reads decrypted key pairs from AWS Parameter Store. Parameters
// live under <prefix>/<user>/api_key and <prefix>/<user>/api_secret.
type SSMStore struct {
	client *ssm.Client
	prefix string
}

func NewSSMStore(prefix string) (*SSMStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SSMStore{
		client: ssm.NewFromConfig(cfg),
		prefix: strings.TrimRight(prefix, "/"),
	}, nil
}

func (s *SSMStore) Get(ctx context.Context, userID string) (binance.Credentials, error) {
	apiKey, err := s.parameter(ctx, userID, "api_key")
	if err != nil {
		return binance.Credentials{}, err
	}
	apiSecret, err := s.parameter(ctx, userID, "api_secret")
	if err != nil {
		return binance.Credentials{}, err
	}

	return binance.Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}, nil
}

func (s *SSMStore) parameter(ctx context.Context, userID, name string) (string, error) {
	full := fmt.Sprintf("%s/%s/%s", s.prefix, userID, name)
	decrypt := true

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &full,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("fetch parameter %s: %w", full, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s is empty", full)
	}

	return *result.Parameter.Value, nil
}
