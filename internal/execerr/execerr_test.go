package execerr

import (
	"context"
	"errors"
	"net"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"declared", New(KindRateLimited, "slow down"), KindRateLimited},
		{"wrapped declared", pkgerrors.Wrap(New(KindNotFound, "no such run"), "poll"), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", context.Canceled, KindCancelled},
		{"net timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, KindTimeout},
		{"net other", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindUnavailable},
		{"plain", errors.New("timeout while talking to the database"), KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestTransientKinds(t *testing.T) {
	for _, k := range []Kind{KindTimeout, KindUnavailable, KindRateLimited} {
		require.True(t, k.Transient(), k)
	}
	for _, k := range []Kind{KindNotFound, KindAccessDenied, KindInvalidInput, KindRunFailed, KindCancelled, KindInternal} {
		require.False(t, k.Transient(), k)
	}
	require.False(t, IsTransient(nil))
}

func TestPublicHidesInternalDetail(t *testing.T) {
	kind, msg := Public(errors.New("pq: password authentication failed for user fanout"))
	require.Equal(t, KindInternal, kind)
	require.Equal(t, "internal error", msg)

	kind, msg = Public(Wrap(KindAccessDenied, errors.New("403"), "target rejected credential"))
	require.Equal(t, KindAccessDenied, kind)
	require.Equal(t, "target rejected credential", msg)
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(KindTimeout, nil, "ignored"))
}
