package secret

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const providerEnv = "env"

// EnvResolver reads secrets from process environment variables.
// secret://env/REMOTE/TOKEN reads REMOTE_TOKEN; ?name= overrides the path.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.Provider != providerEnv {
		return "", errors.Errorf("env resolver cannot handle provider %q", parsed.Provider)
	}

	name := strings.TrimSpace(parsed.Query.Get("name"))
	if name == "" {
		name = strings.Join(parsed.Segments, "_")
	}
	if name == "" {
		return "", errors.Errorf("env secret %q requires a name", ref)
	}

	value, ok := r.lookup(name)
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "environment variable %s", name)
	}
	return value, nil
}
