package auth

import "fmt"

// Refresher exchanges a refresh token for a new access token. The refresh
// token is echoed back unchanged unless rotation is enabled.
type Refresher struct {
	verifier *Verifier
	issuer   *Issuer
	rotate   bool
}

func NewRefresher(verifier *Verifier, issuer *Issuer, rotate bool) *Refresher {
	return &Refresher{verifier: verifier, issuer: issuer, rotate: rotate}
}

func (r *Refresher) Refresh(refreshHeader string) (TokenPair, error) {
	presented := BearerToken(refreshHeader)

	claims, err := r.verifier.Verify(presented, KindRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	access, err := r.issuer.IssueAccess(claims.Subject, claims.Username)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := presented
	if r.rotate {
		refresh, err = r.issuer.issueRefresh(claims.Subject, claims.Username)
		if err != nil {
			return TokenPair{}, err
		}
	}

	return r.issuer.pair(access, refresh), nil
}
