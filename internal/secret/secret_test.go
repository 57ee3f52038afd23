package secret

import (
	"context"
	"errors"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestParse(t *testing.T) {
	ref, err := Parse("secret://VAULT/kv/data/targets/eu?field=token")
	require.NoError(t, err)
	require.Equal(t, "vault", ref.Provider)
	require.Equal(t, "kv/data/targets/eu", ref.Path)
	require.Equal(t, []string{"kv", "data", "targets", "eu"}, ref.Segments)
	require.Equal(t, "token", ref.Query.Get("field"))

	_, err = Parse("https://vault/kv")
	require.Error(t, err)

	_, err = Parse("secret:///kv")
	require.Error(t, err)
}

func TestEnvResolver(t *testing.T) {
	r := &EnvResolver{lookup: func(name string) (string, bool) {
		if name == "REMOTE_TOKEN" {
			return "s3cr3t", true
		}
		return "", false
	}}

	v, err := r.Resolve(context.Background(), "secret://env/REMOTE/TOKEN")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)

	v, err = r.Resolve(context.Background(), "secret://env?name=REMOTE_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)

	_, err = r.Resolve(context.Background(), "secret://env/MISSING")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "secret://vault/MISSING")
	require.Error(t, err)
}

func TestMultiResolverDispatches(t *testing.T) {
	t.Setenv("FANOUT_TEST_SECRET", "from-env")

	m, err := NewConfiguredResolver(Config{EnableEnv: true})
	require.NoError(t, err)
	require.Equal(t, []string{"env"}, m.Providers())

	v, err := m.Resolve(context.Background(), "secret://env/FANOUT_TEST_SECRET")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)

	_, err = m.Resolve(context.Background(), "secret://vault/kv/x/y")
	require.Error(t, err)

	_, err = m.Resolve(context.Background(), " ")
	require.Error(t, err)
}

type fakeLogical struct {
	response *vault.Secret
	err      error
	lastPath string
}

func (f *fakeLogical) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.lastPath = path
	return f.response, f.err
}

type VaultResolverSuite struct {
	suite.Suite
}

func TestVaultResolverSuite(t *testing.T) {
	suite.Run(t, new(VaultResolverSuite))
}

func (s *VaultResolverSuite) TestResolveKVv2() {
	logical := &fakeLogical{response: &vault.Secret{Data: map[string]any{
		"data": map[string]any{"token": "abc"},
	}}}
	v, err := newVaultResolverWithLogical(logical).Resolve(context.Background(), "secret://vault/kv/data/targets/eu?field=token")
	s.Require().NoError(err)
	s.Equal("abc", v)
	s.Equal("kv/data/targets/eu", logical.lastPath)
}

func (s *VaultResolverSuite) TestResolveFieldAsSegment() {
	logical := &fakeLogical{response: &vault.Secret{Data: map[string]any{"token": "xyz"}}}
	v, err := newVaultResolverWithLogical(logical).Resolve(context.Background(), "secret://vault/kv/legacy/token")
	s.Require().NoError(err)
	s.Equal("xyz", v)
	s.Equal("kv/legacy", logical.lastPath)
}

func (s *VaultResolverSuite) TestMissingFieldIsNotFound() {
	logical := &fakeLogical{response: &vault.Secret{Data: map[string]any{"data": map[string]any{}}}}
	_, err := newVaultResolverWithLogical(logical).Resolve(context.Background(), "secret://vault/kv/data/x?field=token")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *VaultResolverSuite) TestReadErrorIsNotNotFound() {
	logical := &fakeLogical{err: errors.New("connection refused")}
	_, err := newVaultResolverWithLogical(logical).Resolve(context.Background(), "secret://vault/kv/data/x?field=token")
	s.Require().Error(err)
	s.NotErrorIs(err, ErrNotFound)
}

func (s *VaultResolverSuite) TestRequiresAddress() {
	_, err := NewVaultResolver(VaultConfig{})
	s.Require().Error(err)
}
