package plugins

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TrustPolicy decides which marketplace artifacts may load. Identities
// are signer identities from the signature bundle certificate.
type TrustPolicy struct {
	RequireSignature bool
	// DefaultIdentities accepts signers for any plugin lacking an override.
	DefaultIdentities []string
	// PluginIdentities overrides the accepted set per plugin name.
	PluginIdentities map[string][]string
}

// AcceptedIdentities returns the signer identities valid for a plugin.
func (p *TrustPolicy) AcceptedIdentities(plugin string) []string {
	if ids, ok := p.PluginIdentities[plugin]; ok {
		return ids
	}
	return p.DefaultIdentities
}

// signatureBundle is the on-disk *.sigstore JSON shape.
type signatureBundle struct {
	MessageSignature struct {
		MessageDigest struct {
			Algorithm string `json:"algorithm"`
			Digest    string `json:"digest"`
		} `json:"messageDigest"`
		Signature string `json:"signature"`
	} `json:"messageSignature"`
	VerificationMaterial struct {
		Certificate struct {
			Identity string `json:"identity"`
			Issuer   string `json:"issuer"`
		} `json:"certificate"`
	} `json:"verificationMaterial"`
}

// VerifyArtifact enforces the trust policy for one marketplace artifact:
// the bundle must exist and parse, carry a SHA-256 digest matching the
// artifact, and present an identity inside the accepted set. The artifact
// itself must be a regular file.
func (p *TrustPolicy) VerifyArtifact(plugin, artifactPath, bundlePath string) (identity string, err error) {
	if !p.RequireSignature {
		return "", nil
	}
	if bundlePath == "" {
		return "", &IntegrityError{Plugin: plugin, Reason: "signature required but manifest references no bundle"}
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("artifact unreadable: %v", err)}
	}
	if !info.Mode().IsRegular() {
		return "", &IntegrityError{Plugin: plugin, Reason: "artifact is not a regular file"}
	}

	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("signature bundle unreadable: %v", err)}
	}
	var bundle signatureBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("signature bundle is not valid JSON: %v", err)}
	}

	algo := bundle.MessageSignature.MessageDigest.Algorithm
	if algo != "SHA2_256" && algo != "sha256" {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("unsupported digest algorithm %q", algo)}
	}

	declared, err := decodeDigest(bundle.MessageSignature.MessageDigest.Digest)
	if err != nil {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("undecodable digest: %v", err)}
	}

	content, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("artifact unreadable: %v", err)}
	}
	computed := sha256.Sum256(content)
	if !digestEqual(declared, computed[:]) {
		return "", &IntegrityError{Plugin: plugin, Reason: "artifact digest does not match signature bundle"}
	}

	identity = bundle.VerificationMaterial.Certificate.Identity
	accepted := p.AcceptedIdentities(plugin)
	for _, id := range accepted {
		if id == identity {
			return identity, nil
		}
	}
	return "", &IntegrityError{Plugin: plugin, Reason: fmt.Sprintf("signer identity %q is not in the accepted set", identity)}
}

// decodeDigest accepts base64 (sigstore bundles) or hex encodings.
func decodeDigest(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == sha256.Size {
		return b, nil
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == sha256.Size {
		return b, nil
	}
	return nil, fmt.Errorf("digest %q is neither base64 nor hex SHA-256", s)
}

func digestEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
