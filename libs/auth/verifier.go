package auth

import (
	"context"
	"strings"
)

// Verifier accepts HS256 tokens signed with Secret and, when JWKS is set,
// RS256 tokens signed by a key the JWKS endpoint publishes.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	switch header.Alg {
	case "HS256":
		if v.Secret == "" {
			return nil, ErrInvalidToken
		}
		return ParseAndVerifyHS256(token, v.Secret)
	case "RS256":
		if v.JWKS == nil || header.Kid == "" {
			return nil, ErrInvalidToken
		}
		key, err := v.JWKS.Get(ctx, header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, key)
	default:
		return nil, ErrInvalidToken
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(headerValue string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(headerValue), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
