package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

func TestSecretToJWK(t *testing.T) {
	key, err := SecretToJWK(testSecret, "kid-1")
	if err != nil {
		t.Fatalf("SecretToJWK() error: %v", err)
	}

	if kid, _ := key.KeyID(); kid != "kid-1" {
		t.Errorf("KeyID() = %q, want kid-1", kid)
	}
	if usage, _ := key.KeyUsage(); usage != string(jwk.ForEncryption) {
		t.Errorf("KeyUsage() = %q, want enc", usage)
	}

	raw, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if fields["kty"] != "oct" {
		t.Errorf("kty = %v, want oct", fields["kty"])
	}

	secret, err := JWKToSecret(key)
	if err != nil {
		t.Fatalf("JWKToSecret() error: %v", err)
	}
	if secret != testSecret {
		t.Errorf("JWKToSecret() = %q, want %q", secret, testSecret)
	}
}

func TestSecretToJWK_GeneratedKeyID(t *testing.T) {
	k1, err := SecretToJWK(testSecret, "")
	if err != nil {
		t.Fatalf("SecretToJWK() error: %v", err)
	}
	k2, err := SecretToJWK(testSecret, "")
	if err != nil {
		t.Fatalf("SecretToJWK() error: %v", err)
	}

	kid1, ok := k1.KeyID()
	if !ok || kid1 == "" {
		t.Fatal("no key ID assigned")
	}
	// key IDs must not be derived from the secret
	if kid2, _ := k2.KeyID(); kid1 == kid2 {
		t.Error("same secret produced the same generated key ID")
	}

	if _, err := SecretToJWK("", ""); err == nil {
		t.Error("SecretToJWK(\"\") expected error, got nil")
	}
}

func TestJWKToSecret_WrongKeyType(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	key, err := jwk.Import(priv)
	if err != nil {
		t.Fatalf("jwk.Import() error: %v", err)
	}

	_, err = JWKToSecret(key)
	assertCode(t, err, ErrCodeKeyManagement)

	_, err = JWKToSecret(nil)
	assertCode(t, err, ErrCodeKeyManagement)
}

func TestParseSecretJWK(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantKid string
		wantErr bool
	}{
		{
			name:    "single key",
			input:   `{"kty":"oct","kid":"a","k":"c2VjcmV0"}`,
			want:    "secret",
			wantKid: "a",
		},
		{
			name:    "set with one key",
			input:   `{"keys":[{"kty":"oct","kid":"b","k":"c2VjcmV0"}]}`,
			want:    "secret",
			wantKid: "b",
		},
		{
			name:    "set with two keys",
			input:   `{"keys":[{"kty":"oct","k":"c2VjcmV0"},{"kty":"oct","k":"b3RoZXI"}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `secret`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, kid, err := ParseSecretJWK([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSecretJWK() error: %v", err)
			}
			if secret != tt.want || kid != tt.wantKid {
				t.Errorf("ParseSecretJWK() = %q, %q, want %q, %q", secret, kid, tt.want, tt.wantKid)
			}
		})
	}
}
