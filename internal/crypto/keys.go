// this file contains functions to generate, save and load the shared secret
//
// The secret is never persisted by the codec itself. These helpers exist for the CLI (keygen)
// and for deployments that prefer a key file (SECRET_KEY_PATH) to an environment variable.
//
// key files are single-key JWK sets with kty "oct".

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// MinSecretBytes is the entropy of secrets produced by GenerateSecret.
const MinSecretBytes = 32

// GenerateSecret returns a new random secret: 32 bytes from crypto/rand, base64url encoded
// so it can be passed in an environment variable.
func GenerateSecret() (string, error) {
	b := make([]byte, MinSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", WrapInternalError(err, "failed to generate secret")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SaveSecretToJWKFile saves the secret to a JWK file.
// note the key is not encrypted; the file is created with 0600 permissions
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "secret.jwk")
func SaveSecretToJWKFile(secret, keyID, baseDir, filename string) error {
	key, err := SecretToJWK(secret, keyID)
	if err != nil {
		return err
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return WrapKeyManagementError(err, "failed to add key to JWK set")
	}

	jsonBytes, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return WrapKeyManagementError(err, "failed to marshal JWK set")
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return fmt.Errorf("failed to open root directory %s: %w", baseDir, err)
	}
	defer root.Close()

	if err := root.WriteFile(filename, jsonBytes, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// ReadSecretFromJWKFile loads the secret from a JWK file.
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "secret.jwk")
func ReadSecretFromJWKFile(baseDir, filename string) (string, error) {
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to open root directory %s: %w", baseDir, err)
	}
	defer root.Close()

	jsonBytes, err := root.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	secret, _, err := ParseSecretJWK(jsonBytes)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// ResolveSecret returns the secret from exactly one of a literal value or a JWK file path.
func ResolveSecret(secret, keyPath string) (string, error) {
	switch {
	case secret != "" && keyPath != "":
		return "", NewKeyManagementError("provide either a secret or a key file, not both")
	case secret != "":
		return secret, nil
	case keyPath != "":
		return ReadSecretFromJWKFile(filepath.Dir(keyPath), filepath.Base(keyPath))
	default:
		return "", NewKeyManagementError("no secret configured")
	}
}
