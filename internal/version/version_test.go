package version

import "testing"

func TestGet_Override(t *testing.T) {
	orig := Version
	Version = "v9.9.9"
	t.Cleanup(func() { Version = orig })

	info := Get()
	if info.Version != "v9.9.9" {
		t.Errorf("Get().Version = %q, want v9.9.9", info.Version)
	}
	if Short() != "v9.9.9" {
		t.Errorf("Short() = %q, want v9.9.9", Short())
	}
	if info.BuildDate == "" {
		t.Error("Get().BuildDate is empty")
	}
}
