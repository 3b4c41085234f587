package keystore_test

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
)

// Any token with a flipped byte in any segment must fail verification.
func TestVerifyRejectsTamperedTokens(t *testing.T) {
	path := writeKeystore(t, []map[string]any{
		testKey(t, "key-1", []string{"guard-rails", "cleanup", "analytics"}),
	})
	ks, err := keystore.Load(path)
	require.NoError(t, err)
	verifier := keystore.NewVerifier(ks)

	token, err := ks.MintToken("key-1", []auth.Role{auth.RoleGuardRails}, time.Hour)
	require.NoError(t, err)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("flipping any byte breaks verification", prop.ForAll(
		func(pos int, replacement rune) bool {
			index := pos % len(token)
			if rune(token[index]) == replacement || token[index] == '.' || replacement == '.' {
				return true // skip no-ops and structural separators
			}
			tampered := token[:index] + string(replacement) + token[index+1:]
			_, err := verifier.Verify(tampered)
			return err != nil
		},
		gen.IntRange(0, len(token)-1),
		gen.RuneRange('A', 'z'),
	))

	properties.Property("verified roles equal requested subsets", prop.ForAll(
		func(pick []bool) bool {
			all := []auth.Role{auth.RoleGuardRails, auth.RoleCleanup, auth.RoleAnalytics}
			var roles []auth.Role
			for i, keep := range pick {
				if i < len(all) && keep {
					roles = append(roles, all[i])
				}
			}
			if len(roles) == 0 {
				return true
			}
			minted, err := ks.MintToken("key-1", roles, time.Hour)
			if err != nil {
				return false
			}
			principal, err := verifier.Verify(minted)
			if err != nil {
				return false
			}
			return strings.Join(principal.RoleStrings(), ",") == joinRoles(roles)
		},
		gen.SliceOfN(3, gen.Bool()),
	))

	properties.TestingRun(t)
}

func joinRoles(roles []auth.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
