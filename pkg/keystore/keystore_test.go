package keystore_test

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
)

func writeKeystore(t *testing.T, keys []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service-accounts.json")
	raw, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func testKey(t *testing.T, keyID string, roles []string) map[string]any {
	t.Helper()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	return map[string]any{
		"key_id":    keyID,
		"principal": "svc-" + keyID + "@example.com",
		"roles":     roles,
		"secret":    base64.RawURLEncoding.EncodeToString(secret),
	}
}

func TestLoad(t *testing.T) {
	path := writeKeystore(t, []map[string]any{
		testKey(t, "key-1", []string{"guard-rails", "cleanup"}),
		testKey(t, "key-2", []string{"analytics"}),
	})

	ks, err := keystore.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, ks.Len())

	key, ok := ks.Get("key-1")
	require.True(t, ok)
	assert.Equal(t, "svc-key-1@example.com", key.Principal)
	assert.ElementsMatch(t, []auth.Role{auth.RoleGuardRails, auth.RoleCleanup}, key.Roles)
}

func TestLoadRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"empty roles", func(k map[string]any) { k["roles"] = []string{} }},
		{"unknown role", func(k map[string]any) { k["roles"] = []string{"superuser"} }},
		{"short secret", func(k map[string]any) {
			k["secret"] = base64.RawURLEncoding.EncodeToString([]byte("too short"))
		}},
		{"bad secret encoding", func(k map[string]any) { k["secret"] = "!!not base64!!" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key := testKey(t, "key-1", []string{"cleanup"})
			tc.mutate(key)
			_, err := keystore.Load(writeKeystore(t, []map[string]any{key}))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsDuplicateKeyIDs(t *testing.T) {
	_, err := keystore.Load(writeKeystore(t, []map[string]any{
		testKey(t, "key-1", []string{"cleanup"}),
		testKey(t, "key-1", []string{"analytics"}),
	}))
	assert.Error(t, err)
}

func TestReloadSwapsAtomically(t *testing.T) {
	path := writeKeystore(t, []map[string]any{testKey(t, "key-1", []string{"cleanup"})})
	ks, err := keystore.Load(path)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{"keys": []map[string]any{
		testKey(t, "key-2", []string{"analytics"}),
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	require.NoError(t, ks.Reload())

	_, ok := ks.Get("key-1")
	assert.False(t, ok, "reload omitting a key destroys it")
	_, ok = ks.Get("key-2")
	assert.True(t, ok)
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	path := writeKeystore(t, []map[string]any{
		testKey(t, "key-1", []string{"guard-rails", "cleanup"}),
	})
	ks, err := keystore.Load(path)
	require.NoError(t, err)

	token, err := ks.MintToken("key-1", []auth.Role{auth.RoleGuardRails}, time.Hour)
	require.NoError(t, err)

	principal, err := keystore.NewVerifier(ks).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-key-1@example.com", principal.Name)
	assert.Equal(t, "key-1", principal.KeyID)
	assert.Equal(t, []auth.Role{auth.RoleGuardRails}, principal.Roles)
}

func TestMintRejectsBadRequests(t *testing.T) {
	path := writeKeystore(t, []map[string]any{testKey(t, "key-1", []string{"cleanup"})})
	ks, err := keystore.Load(path)
	require.NoError(t, err)

	_, err = ks.MintToken("missing", []auth.Role{auth.RoleCleanup}, time.Hour)
	assert.Error(t, err, "unknown key")

	_, err = ks.MintToken("key-1", nil, time.Hour)
	assert.Error(t, err, "empty role set")

	_, err = ks.MintToken("key-1", []auth.Role{auth.RoleAnalytics}, time.Hour)
	assert.Error(t, err, "roles exceeding the key's grants")

	_, err = ks.MintToken("key-1", []auth.Role{auth.RoleCleanup}, 0)
	assert.Error(t, err, "non-positive lifetime")
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	path := writeKeystore(t, []map[string]any{testKey(t, "key-1", []string{"cleanup"})})
	ks, err := keystore.Load(path)
	require.NoError(t, err)

	token, err := ks.MintToken("key-1", []auth.Role{auth.RoleCleanup}, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond) // numeric dates have second granularity

	_, err = keystore.NewVerifier(ks).Verify(token)
	require.Error(t, err)
	var authErr *auth.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestVerifyRejectsExpiredKey(t *testing.T) {
	key := testKey(t, "key-1", []string{"cleanup"})
	key["expires_at"] = time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	path := writeKeystore(t, []map[string]any{key})
	ks, err := keystore.Load(path)
	require.NoError(t, err)

	token, err := ks.MintToken("key-1", []auth.Role{auth.RoleCleanup}, time.Hour)
	require.NoError(t, err)

	// Reload with the key now expired.
	key["expires_at"] = time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	raw, err := json.Marshal(map[string]any{"keys": []map[string]any{key}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	require.NoError(t, ks.Reload())

	_, err = keystore.NewVerifier(ks).Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	path := writeKeystore(t, []map[string]any{testKey(t, "key-1", []string{"cleanup"})})
	ks, err := keystore.Load(path)
	require.NoError(t, err)
	verifier := keystore.NewVerifier(ks)

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		_, err := verifier.Verify(token)
		assert.Error(t, err, "token %q", token)
	}
}
