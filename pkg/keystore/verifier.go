package keystore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
)

// tokenClaims is the claim set Hephaestus tokens carry.
type tokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Verifier checks HS256 bearer tokens against the keystore. Every defect
// surfaces as an auth.AuthenticationError; the caller never needs to
// distinguish jwt library errors.
type Verifier struct {
	keystore *Keystore
	now      func() time.Time
	parser   *jwt.Parser
}

// NewVerifier creates a Verifier over the given keystore.
func NewVerifier(ks *Keystore) *Verifier {
	return &Verifier{
		keystore: ks,
		now:      time.Now,
		// Claims are validated by hand below so every failure maps to a
		// precise reason; the parser only enforces structure and signature.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify parses and verifies a bearer token, returning the authenticated
// principal on success.
func (v *Verifier) Verify(tokenStr string) (*auth.Principal, error) {
	if tokenStr == "" {
		return nil, auth.NewAuthenticationError("empty token")
	}

	var signingKey *Key
	claims := &tokenClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing kid in header")
		}
		key, found := v.keystore.Get(kid)
		if !found {
			return nil, fmt.Errorf("unknown key %q", kid)
		}
		if key.Expired(v.now().UTC()) {
			return nil, fmt.Errorf("key %q is expired", kid)
		}
		signingKey = key
		return key.Secret, nil
	})
	if err != nil {
		return nil, auth.NewAuthenticationError("%v", err)
	}
	if !token.Valid || signingKey == nil {
		return nil, auth.NewAuthenticationError("invalid token")
	}

	return v.principalFromClaims(signingKey, claims)
}

func (v *Verifier) principalFromClaims(key *Key, claims *tokenClaims) (*auth.Principal, error) {
	if claims.Subject == "" {
		return nil, auth.NewAuthenticationError("token missing sub claim")
	}
	if claims.IssuedAt == nil {
		return nil, auth.NewAuthenticationError("token missing iat claim")
	}
	if claims.ExpiresAt == nil {
		return nil, auth.NewAuthenticationError("token missing exp claim")
	}
	if len(claims.Roles) == 0 {
		return nil, auth.NewAuthenticationError("token missing roles claim")
	}

	now := v.now().UTC()
	// exp == now counts as expired.
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, auth.NewAuthenticationError("token is expired")
	}

	roles := auth.RolesFromStrings(claims.Roles)
	if !auth.SubsetOf(roles, key.Roles) {
		return nil, auth.NewAuthenticationError(
			"token roles %v exceed grants of key %q", claims.Roles, key.KeyID)
	}

	return &auth.Principal{
		Name:      claims.Subject,
		Roles:     roles,
		KeyID:     key.KeyID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
