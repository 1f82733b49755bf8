package crypto

import "testing"

// test that cannonical rejects invalid json

func TestCanonicalizeJSON(t *testing.T) {
	// invalid json
	jsonData := []byte(`{"test": "value"`)
	_, err := CanonicalizeJSON(jsonData)
	if err == nil {
		t.Fatalf("CanonicalizeJSON() expected error, got nil")
	}
	t.Logf("CanonicalizeJSON() correctly rejected invalid JSON: %v", err)
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"null", nil, `null`},
		{"number", 42, `42`},
		{"sorted keys", map[string]any{"b": 1, "a": true}, `{"a":true,"b":1}`},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"float formatting", 1.50, `1.5`},
		{"nested", map[string]any{"z": []any{1, "x"}, "m": map[string]any{"k": nil}}, `{"m":{"k":null},"z":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.value)
			if err != nil {
				t.Fatalf("MarshalCanonical() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalCanonical() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshalCanonical_Unserializable(t *testing.T) {
	if _, err := MarshalCanonical(make(chan int)); err == nil {
		t.Fatal("MarshalCanonical() expected error for a channel, got nil")
	}
}
