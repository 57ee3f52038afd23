package secret

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

const providerVault = "vault"

type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*vault.Secret, error)
}

// VaultConfig describes how to connect to a Vault cluster.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string
	CACertPath    string
	TLSSkipVerify bool
}

// VaultResolver reads secrets from Vault logical paths. KV v2 payloads nested
// under "data" are unwrapped.
type VaultResolver struct {
	logical vaultLogical
}

func NewVaultResolver(cfg VaultConfig) (*VaultResolver, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}

	clientConfig := &vault.Config{Address: address}
	if cfg.CACertPath != "" || cfg.TLSSkipVerify {
		tls := &vault.TLSConfig{CACert: cfg.CACertPath, Insecure: cfg.TLSSkipVerify}
		if err := clientConfig.ConfigureTLS(tls); err != nil {
			return nil, errors.Wrap(err, "configure vault tls")
		}
	}

	client, err := vault.NewClient(clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "create vault client")
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		client.SetToken(token)
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}

	return &VaultResolver{logical: client.Logical()}, nil
}

func newVaultResolverWithLogical(logical vaultLogical) *VaultResolver {
	return &VaultResolver{logical: logical}
}

func (r *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.Provider != providerVault {
		return "", errors.Errorf("vault resolver cannot handle provider %q", parsed.Provider)
	}

	field := strings.TrimSpace(parsed.Query.Get("field"))
	segments := append([]string(nil), parsed.Segments...)
	if field == "" && len(segments) >= 2 {
		field = segments[len(segments)-1]
		segments = segments[:len(segments)-1]
	}

	path := strings.Join(segments, "/")
	if path == "" {
		return "", errors.Errorf("vault secret %q missing path", ref)
	}
	if field == "" {
		return "", errors.Errorf("vault secret %q missing field", ref)
	}

	s, err := r.logical.ReadWithContext(ctx, path)
	if err != nil {
		return "", errors.Wrapf(err, "read vault secret %s", path)
	}
	if s == nil || s.Data == nil {
		return "", errors.Wrapf(ErrNotFound, "vault path %s", path)
	}

	data := s.Data
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	if val, ok := data[field]; ok {
		return fmt.Sprint(val), nil
	}

	return "", errors.Wrapf(ErrNotFound, "vault path %s field %s", path, field)
}
