// Package keystore loads service-account keys and verifies bearer tokens
// against them. The keystore file is the trust root of the service.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
)

// MinSecretLen is the minimum decoded secret size in bytes.
const MinSecretLen = 32

// Key is one service-account record from the keystore file. The secret is
// held decoded.
type Key struct {
	KeyID     string
	Principal string
	Roles     []auth.Role
	Secret    []byte
	ExpiresAt *time.Time
}

// Expired reports whether the key is past its expiry at the given instant.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

type keyRecord struct {
	KeyID     string   `json:"key_id"`
	Principal string   `json:"principal"`
	Roles     []string `json:"roles"`
	Secret    string   `json:"secret"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

type keystoreFile struct {
	Keys []keyRecord `json:"keys"`
}

// Keystore holds the loaded keys and supports atomic reload. Readers see
// either the old or the new key set, never a mix.
type Keystore struct {
	mu   sync.Mutex
	path string
	keys map[string]*Key
}

// Load reads and validates the keystore file at path.
func Load(path string) (*Keystore, error) {
	ks := &Keystore{path: path}
	if err := ks.Reload(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Reload re-reads the keystore file and atomically swaps the key set.
// Keys present before but absent from the new file are dropped.
func (ks *Keystore) Reload() error {
	raw, err := os.ReadFile(ks.path)
	if err != nil {
		return fmt.Errorf("failed to read keystore %s: %w", ks.path, err)
	}

	var doc keystoreFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("keystore %s is not valid JSON: %w", ks.path, err)
	}

	keys := make(map[string]*Key, len(doc.Keys))
	for _, rec := range doc.Keys {
		key, err := parseKeyRecord(rec)
		if err != nil {
			return fmt.Errorf("keystore %s: %w", ks.path, err)
		}
		if _, dup := keys[key.KeyID]; dup {
			return fmt.Errorf("keystore %s: duplicate key_id %q", ks.path, key.KeyID)
		}
		keys[key.KeyID] = key
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()
	return nil
}

// Get looks up a key by id.
func (ks *Keystore) Get(keyID string) (*Key, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	key, ok := ks.keys[keyID]
	return key, ok
}

// Len returns the number of loaded keys.
func (ks *Keystore) Len() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.keys)
}

func parseKeyRecord(rec keyRecord) (*Key, error) {
	if rec.KeyID == "" {
		return nil, fmt.Errorf("key record missing key_id")
	}
	if rec.Principal == "" {
		return nil, fmt.Errorf("key %q missing principal", rec.KeyID)
	}
	if len(rec.Roles) == 0 {
		return nil, fmt.Errorf("key %q has no roles", rec.KeyID)
	}

	roles := make([]auth.Role, 0, len(rec.Roles))
	for _, r := range rec.Roles {
		role := auth.Role(r)
		if _, ok := auth.KnownRoles[role]; !ok {
			return nil, fmt.Errorf("key %q grants unknown role %q", rec.KeyID, r)
		}
		roles = append(roles, role)
	}

	secret, err := base64.RawURLEncoding.DecodeString(rec.Secret)
	if err != nil {
		// Padded secrets are accepted too.
		secret, err = base64.URLEncoding.DecodeString(rec.Secret)
		if err != nil {
			return nil, fmt.Errorf("key %q secret is not base64url: %w", rec.KeyID, err)
		}
	}
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("key %q secret is %d bytes, need at least %d", rec.KeyID, len(secret), MinSecretLen)
	}

	key := &Key{
		KeyID:     rec.KeyID,
		Principal: rec.Principal,
		Roles:     roles,
		Secret:    secret,
	}
	if rec.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339, rec.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("key %q expires_at is not RFC 3339: %w", rec.KeyID, err)
		}
		utc := ts.UTC()
		key.ExpiresAt = &utc
	}
	return key, nil
}
