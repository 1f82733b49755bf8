// JWK (JSON Web Key) handling for the shared secret
//
// The secret is distributed as a symmetric ("oct") JWK so that the server and its clients
// can load it from a file instead of an environment variable.
// Reference: https://datatracker.ietf.org/doc/html/rfc7517 (JSON Web Key standard)
//
// The "k" member holds the secret's bytes (base64url encoded by the library), so the
// HMAC key and the derived cipher key are identical whichever way the secret is supplied.

package crypto

import (
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// SecretToJWK converts a shared secret to an oct JWK.
// If keyID is empty a random key ID is assigned (the RFC 7638 thumbprint of a
// symmetric key is a hash of the secret and is not used).
func SecretToJWK(secret string, keyID string) (jwk.Key, error) {
	if secret == "" {
		return nil, NewKeyManagementError("secret is empty")
	}
	if keyID == "" {
		keyID = uuid.NewString()
	}

	key, err := jwk.Import([]byte(secret))
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to create JWK from secret")
	}

	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, WrapKeyManagementError(err, "failed to set key ID")
	}

	if err := key.Set(jwk.KeyUsageKey, jwk.ForEncryption); err != nil {
		return nil, WrapKeyManagementError(err, "failed to set key usage")
	}

	return key, nil
}

// JWKToSecret extracts the shared secret from an oct JWK.
func JWKToSecret(key jwk.Key) (string, error) {
	if key == nil {
		return "", NewKeyManagementError("key is nil")
	}

	symmetric, ok := key.(jwk.SymmetricKey)
	if !ok {
		return "", NewKeyManagementError("key is not a symmetric (oct) key")
	}

	octets, ok := symmetric.Octets()
	if !ok || len(octets) == 0 {
		return "", NewKeyManagementError("symmetric key has no key material")
	}

	return string(octets), nil
}

// ParseSecretJWK parses a JWK (or a JWK set containing exactly one key) and returns the secret and key ID.
func ParseSecretJWK(data []byte) (secret string, keyID string, err error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return "", "", WrapKeyManagementError(err, "failed to parse JWK")
	}
	if set.Len() != 1 {
		return "", "", NewKeyManagementError("expected exactly one key in JWK set")
	}

	key, ok := set.Key(0)
	if !ok {
		return "", "", NewKeyManagementError("failed to get key from JWK set")
	}

	secret, err = JWKToSecret(key)
	if err != nil {
		return "", "", err
	}

	keyID, _ = key.KeyID()
	return secret, keyID, nil
}
