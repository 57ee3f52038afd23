// Package target turns a local target record into a remote address.
package target

import (
	"context"
	"strings"

	"github.com/caesium-cloud/fanout/internal/access"
	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/remote"
	"github.com/caesium-cloud/fanout/internal/secret"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Resolved is a target ready to be called.
type Resolved struct {
	ID      uuid.UUID
	Name    string
	Address remote.Address
}

type Resolver struct {
	db              *gorm.DB
	access          *access.Checker
	secrets         secret.Resolver
	defaultEndpoint string
}

// Option tunes a Resolver.
type Option func(*Resolver)

// WithSecrets resolves credential references through r.
func WithSecrets(r secret.Resolver) Option {
	return func(res *Resolver) {
		res.secrets = r
	}
}

// WithDefaultEndpoint is used for targets that carry no endpoint of their own.
func WithDefaultEndpoint(endpoint string) Option {
	return func(res *Resolver) {
		res.defaultEndpoint = strings.TrimSpace(endpoint)
	}
}

func New(db *gorm.DB, checker *access.Checker, opts ...Option) *Resolver {
	r := &Resolver{db: db, access: checker}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the target, confirms principal may still use it and
// resolves its credential. Failures carry permanent execerr kinds.
func (r *Resolver) Resolve(ctx context.Context, principal string, id uuid.UUID) (*Resolved, error) {
	var t models.Target
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, execerr.Newf(execerr.KindNotFound, "target %s no longer exists", id)
		}
		return nil, execerr.Wrap(execerr.KindInternal, err, "load target")
	}

	if r.access != nil {
		ok, err := r.access.Allowed(ctx, principal, models.ResourceTypeTarget, access.Resource{ID: t.ID, Owner: t.Owner})
		if err != nil {
			return nil, execerr.Wrap(execerr.KindInternal, err, "check target access")
		}
		if !ok {
			return nil, execerr.Newf(execerr.KindAccessDenied, "access to target %s was revoked", t.ID)
		}
	}

	endpoint := strings.TrimSpace(t.Endpoint)
	if endpoint == "" {
		endpoint = r.defaultEndpoint
	}
	if endpoint == "" {
		return nil, execerr.Newf(execerr.KindInvalidInput, "target %s has no endpoint", t.ID)
	}

	token, err := r.credential(ctx, t)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		ID:   t.ID,
		Name: t.Name,
		Address: remote.Address{
			ExternalID: t.ExternalID,
			Endpoint:   endpoint,
			Token:      token,
		},
	}, nil
}

func (r *Resolver) credential(ctx context.Context, t models.Target) (string, error) {
	ref := strings.TrimSpace(t.CredentialRef)
	if ref == "" {
		return "", nil
	}
	if r.secrets == nil {
		return "", execerr.Newf(execerr.KindInvalidInput, "target %s needs a credential but no secret providers are configured", t.ID)
	}

	token, err := r.secrets.Resolve(ctx, ref)
	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, secret.ErrNotFound):
		return "", execerr.Wrap(execerr.KindAccessDenied, err, "target credential not found")
	case ctx.Err() != nil:
		return "", execerr.Wrap(execerr.KindOf(ctx.Err()), err, "resolve target credential")
	default:
		return "", execerr.Wrap(execerr.KindUnavailable, err, "resolve target credential")
	}
}
