package auth

import "strings"

type Verifier struct {
	codec *Codec
}

func NewVerifier(codec *Codec) *Verifier {
	return &Verifier{codec: codec}
}

// Verify decodes token and enforces its kind. Pass KindAny to accept both
// access and refresh tokens.
func (v *Verifier) Verify(token string, expected Kind) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	claims, err := v.codec.Decode(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" || !claims.Kind.valid() {
		return Claims{}, ErrMalformedToken
	}
	if expected != KindAny && claims.Kind != expected {
		return Claims{}, ErrWrongKind
	}

	return claims, nil
}

// BearerToken strips an optional "Bearer " prefix, case-insensitively.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	scheme, rest, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	if strings.EqualFold(header, "Bearer") {
		return ""
	}
	return header
}
