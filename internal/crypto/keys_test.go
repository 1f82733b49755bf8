package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	s2, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}

	if s1 == s2 {
		t.Error("GenerateSecret() returned the same secret twice")
	}

	raw, err := base64.RawURLEncoding.DecodeString(s1)
	if err != nil {
		t.Fatalf("secret is not base64url: %v", err)
	}
	if len(raw) != MinSecretBytes {
		t.Errorf("secret has %d bytes of entropy, want %d", len(raw), MinSecretBytes)
	}
}

// generate a secret, save it to a JWK file, read it back and compare
func TestSaveAndReadSecretJWK(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("failed to generate secret: %v", err)
	}

	tmpDir := t.TempDir()
	if err := SaveSecretToJWKFile(secret, "test-kid", tmpDir, "secret.jwk"); err != nil {
		t.Fatalf("failed to save secret: %v", err)
	}

	loaded, err := ReadSecretFromJWKFile(tmpDir, "secret.jwk")
	if err != nil {
		t.Fatalf("failed to load secret: %v", err)
	}
	if loaded != secret {
		t.Error("loaded secret does not match original")
	}

	// Verify file permissions
	info, err := os.Stat(filepath.Join(tmpDir, "secret.jwk"))
	if err != nil {
		t.Fatalf("failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file permissions = %o, want 0600", info.Mode().Perm())
	}

	// a secret loaded from file seals envelopes the literal secret can open
	env, err := Seal(loaded, "x")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if _, err := Open(secret, env); err != nil {
		t.Errorf("Open() with literal secret error: %v", err)
	}
}

func TestReadSecretFromJWKFile_PathTraversal(t *testing.T) {
	tmpDir := t.TempDir()
	if _, err := ReadSecretFromJWKFile(tmpDir, "../secret.jwk"); err == nil {
		t.Error("expected error reading outside the base directory, got nil")
	}
}

func TestResolveSecret(t *testing.T) {
	tmpDir := t.TempDir()
	if err := SaveSecretToJWKFile("file-secret", "", tmpDir, "secret.jwk"); err != nil {
		t.Fatalf("failed to save secret: %v", err)
	}
	keyPath := filepath.Join(tmpDir, "secret.jwk")

	tests := []struct {
		name     string
		secret   string
		keyPath  string
		want     string
		wantCode ErrorCode
	}{
		{name: "literal", secret: "literal-secret", want: "literal-secret"},
		{name: "file", keyPath: keyPath, want: "file-secret"},
		{name: "both", secret: "literal-secret", keyPath: keyPath, wantCode: ErrCodeKeyManagement},
		{name: "neither", wantCode: ErrCodeKeyManagement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSecret(tt.secret, tt.keyPath)
			if tt.wantCode != "" {
				assertCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("ResolveSecret() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveSecret() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := ResolveSecret("", filepath.Join(tmpDir, "missing.jwk")); err == nil {
		t.Error("expected error for a missing key file, got nil")
	}
}
