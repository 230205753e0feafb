package auth

import (
	"errors"
	"fmt"
	"time"
)

const tokenTypeBearer = "Bearer"

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Issuer mints token pairs. It writes nothing anywhere; tokens are stateless.
type Issuer struct {
	codec      *Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(codec *Codec, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}
	return &Issuer{codec: codec, accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (i *Issuer) Issue(principal Principal) (TokenPair, error) {
	access, err := i.IssueAccess(principal.ID, principal.Username)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := i.issueRefresh(principal.ID, principal.Username)
	if err != nil {
		return TokenPair{}, err
	}

	return i.pair(access, refresh), nil
}

func (i *Issuer) IssueAccess(subject, username string) (string, error) {
	token, err := i.codec.Encode(newClaims(subject, username, KindAccess), i.accessTTL)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return token, nil
}

func (i *Issuer) issueRefresh(subject, username string) (string, error) {
	token, err := i.codec.Encode(newClaims(subject, username, KindRefresh), i.refreshTTL)
	if err != nil {
		return "", fmt.Errorf("issue refresh token: %w", err)
	}
	return token, nil
}

func (i *Issuer) pair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}
}

func newClaims(subject, username string, kind Kind) Claims {
	claims := Claims{Username: username, Kind: kind}
	claims.Subject = subject
	return claims
}
