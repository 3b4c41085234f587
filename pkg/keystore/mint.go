package keystore

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
)

// MintToken signs an HS256 bearer token for a key in the keystore. It is
// the bootstrap and test path; production clients bring their own tokens.
// The requested role set must be non-empty and a subset of the key's
// grants, and the lifetime must be positive.
func (ks *Keystore) MintToken(keyID string, roles []auth.Role, ttl time.Duration) (string, error) {
	key, ok := ks.Get(keyID)
	if !ok {
		return "", fmt.Errorf("unknown key %q", keyID)
	}
	if len(roles) == 0 {
		return "", fmt.Errorf("requested role set is empty")
	}
	if !auth.SubsetOf(roles, key.Roles) {
		return "", fmt.Errorf("requested roles exceed grants of key %q", keyID)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token lifetime must be positive")
	}

	now := time.Now().UTC()
	roleStrs := make([]string, len(roles))
	for i, r := range roles {
		roleStrs[i] = string(r)
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.Principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roleStrs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = key.KeyID
	return token.SignedString(key.Secret)
}
