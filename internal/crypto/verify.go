package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// identityKeys is the decoded shape of a signed identity keys payload. Only
// the Ed25519 signing key is needed for verification.
type identityKeys struct {
	Ed25519    string `json:"ed25519"`
	Curve25519 string `json:"curve25519"`
}

// VerifySignedIdentityKeysBlob checks that the blob's signature was produced
// by the Ed25519 key the payload itself declares.
func VerifySignedIdentityKeysBlob(payload, signatureB64 string) (bool, error) {
	var keys identityKeys
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		return false, fmt.Errorf("failed to decode identity keys payload: %w", err)
	}
	if keys.Ed25519 == "" {
		return false, fmt.Errorf("payload missing ed25519 key")
	}

	publicKey, err := base64.StdEncoding.DecodeString(keys.Ed25519)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey), []byte(payload), signature), nil
}

// Base64ToBytes decodes a base64 string to bytes
func Base64ToBytes(b64 string) ([]byte, error) {
	bytes, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	return bytes, nil
}

// BytesToBase64 encodes bytes to a base64 string
func BytesToBase64(bytes []byte) string {
	return base64.StdEncoding.EncodeToString(bytes)
}
