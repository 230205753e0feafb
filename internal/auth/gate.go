package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gate resolves the caller behind an Authorization header and enforces
// role requirements. Every protected operation goes through it before
// touching domain data.
type Gate struct {
	verifier      *Verifier
	store         PrincipalStore
	lookupTimeout time.Duration
}

func NewGate(verifier *Verifier, store PrincipalStore, lookupTimeout time.Duration) *Gate {
	return &Gate{verifier: verifier, store: store, lookupTimeout: lookupTimeout}
}

func (g *Gate) Authenticate(ctx context.Context, authorizationHeader string) (Principal, error) {
	token := BearerToken(authorizationHeader)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrMissingToken)
	}

	claims, err := g.verifier.Verify(token, KindAccess)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	lookupCtx := ctx
	if g.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, g.lookupTimeout)
		defer cancel()
	}

	principal, err := g.store.FindPrincipal(lookupCtx, claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if principal == nil {
		return Principal{}, ErrPrincipalNotFound
	}

	return *principal, nil
}

func (g *Gate) RequireAdmin(principal Principal) error {
	if !principal.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// FailureReason names the sub-cause of an authentication failure for
// internal logs. Clients never see it.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "signature_invalid"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPrincipalNotFound):
		return "principal_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrStoreUnavailable  = errors.New("principal store unavailable")
)
