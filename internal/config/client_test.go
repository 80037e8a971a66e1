package config

import (
	"path/filepath"
	"testing"
)

func TestLoadClientMissingFileReturnsZeroValue(t *testing.T) {
	cf, err := LoadClient(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cf != (ClientFile{}) {
		t.Fatalf("expected zero value, got %+v", cf)
	}
}

func TestSaveThenLoadClientRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.ini")

	want := ClientFile{Endpoint: "tunnel.example.test:4443", Token: "s3cr3t"}
	if err := SaveClient(path, want); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	got, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if got != want {
		t.Fatalf("LoadClient() = %+v, want %+v", got, want)
	}
}
