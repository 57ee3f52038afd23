// Package secret resolves secret:// credential references such as
// secret://env/REMOTE_TOKEN or secret://vault/kv/data/targets/eu?field=token.
package secret

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const scheme = "secret"

// ErrNotFound is returned when a reference is well formed but names
// nothing the provider knows about.
var ErrNotFound = errors.New("secret not found")

// Resolver resolves a secret reference into a concrete value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Reference is a parsed secret:// URI.
type Reference struct {
	Raw      string
	Provider string
	Path     string
	Segments []string
	Query    url.Values
}

// Parse converts a secret:// URI into a Reference.
func Parse(ref string) (*Reference, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, errors.Wrapf(err, "parse secret reference %q", ref)
	}
	if u.Scheme != scheme {
		return nil, errors.Errorf("invalid secret scheme %q", u.Scheme)
	}

	provider := strings.ToLower(strings.TrimSpace(u.Host))
	if provider == "" {
		return nil, errors.Errorf("secret reference %q missing provider", ref)
	}

	path := strings.Trim(u.Path, "/")
	var segments []string
	if path != "" {
		segments = strings.Split(path, "/")
	}

	return &Reference{
		Raw:      ref,
		Provider: provider,
		Path:     path,
		Segments: segments,
		Query:    u.Query(),
	}, nil
}

// MultiResolver dispatches references to the resolver registered for their
// provider.
type MultiResolver struct {
	providers map[string]Resolver
}

func NewMultiResolver(providers map[string]Resolver) *MultiResolver {
	m := &MultiResolver{providers: make(map[string]Resolver, len(providers))}
	for name, r := range providers {
		m.Register(name, r)
	}
	return m
}

// Register associates a provider name with a resolver, replacing any
// previous one.
func (m *MultiResolver) Register(provider string, r Resolver) {
	if m.providers == nil {
		m.providers = make(map[string]Resolver)
	}
	m.providers[strings.ToLower(strings.TrimSpace(provider))] = r
}

// Providers returns the sorted registered provider names.
func (m *MultiResolver) Providers() []string {
	keys := make([]string, 0, len(m.providers))
	for k := range m.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MultiResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("secret reference is empty")
	}

	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	r, ok := m.providers[parsed.Provider]
	if !ok || r == nil {
		return "", errors.Errorf("secret provider %q not configured", parsed.Provider)
	}

	return r.Resolve(ctx, ref)
}

// Config selects the providers NewConfiguredResolver wires up.
type Config struct {
	EnableEnv bool
	Vault     *VaultConfig
}

// NewConfiguredResolver builds a MultiResolver from cfg.
func NewConfiguredResolver(cfg Config) (*MultiResolver, error) {
	m := NewMultiResolver(nil)

	if cfg.EnableEnv {
		m.Register(providerEnv, NewEnvResolver())
	}

	if cfg.Vault != nil {
		v, err := NewVaultResolver(*cfg.Vault)
		if err != nil {
			return nil, err
		}
		m.Register(providerVault, v)
	}

	return m, nil
}
