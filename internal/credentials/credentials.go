// Package credentials resolves decrypted API key pairs per user. The gateway
// never persists keys itself; it asks this store on every signed call.
package credentials

import (
	"context"
	"fmt"

	"exgateway/config"
	"exgateway/pkg/binance"
)

// Store looks up the API key pair for a user.
type Store interface {
	Get(ctx context.Context, userID string) (binance.Credentials, error)
}

// StaticStore serves keys from the config file. Dev and test use only.
type StaticStore struct {
	keys map[string]config.StaticAPIKey
}

func NewStaticStore(keys map[string]config.StaticAPIKey) *StaticStore {
	return &StaticStore{keys: keys}
}

func (s *StaticStore) Get(_ context.Context, userID string) (binance.Credentials, error) {
	key, ok := s.keys[userID]
	if !ok {
		return binance.Credentials{}, fmt.Errorf("no credentials configured for user %s", userID)
	}
	return binance.Credentials{
		APIKey:    key.APIKey,
		APISecret: key.APISecret,
	}, nil
}

// FromConfig builds the store the config selects.
func FromConfig(cfg config.CredentialsConfig) (Store, error) {
	switch cfg.Source {
	case "static":
		return NewStaticStore(cfg.Static), nil
	case "ssm":
		return NewSSMStore(cfg.SSMPrefix)
	default:
		return nil, fmt.Errorf("unknown credentials source: %s", cfg.Source)
	}
}
