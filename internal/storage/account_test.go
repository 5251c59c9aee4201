package storage

import (
	"testing"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
)

func TestLoadAccountBundleMissingIsNilNotError(t *testing.T) {
	dir := t.TempDir()
	b, err := LoadAccountBundle(dir, "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Fatalf("expected nil bundle for a missing file, got %+v", b)
	}
}

func TestSaveAndLoadAccountBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bundle := &AccountBundle{
		Name:          "default",
		Contacts:      []string{"mailto:admin@example.test"},
		KeyPEM:        []byte("pem-bytes"),
		KeyType:       acmecrypto.P256,
		KeyHistory:    [][]byte{[]byte("old-key-pem")},
		URLByEndpoint: map[string]string{"letsencrypt": "https://example.test/acct/1"},
	}
	if err := SaveAccountBundle(dir, bundle); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadAccountBundle(dir, "default")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded bundle")
	}
	if loaded.Name != bundle.Name || string(loaded.KeyPEM) != string(bundle.KeyPEM) {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.URLByEndpoint["letsencrypt"] != "https://example.test/acct/1" {
		t.Fatalf("unexpected URLByEndpoint: %+v", loaded.URLByEndpoint)
	}
	if loaded.Version != accountBundleVersion {
		t.Fatalf("expected version %d, got %d", accountBundleVersion, loaded.Version)
	}
}

func TestSaveAccountBundlePreservesOtherEndpointURLsOnOverwrite(t *testing.T) {
	dir := t.TempDir()
	first := &AccountBundle{
		Name:          "default",
		URLByEndpoint: map[string]string{"letsencrypt": "https://le.example.test/acct/1"},
	}
	if err := SaveAccountBundle(dir, first); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadAccountBundle(dir, "default")
	if err != nil {
		t.Fatal(err)
	}
	loaded.URLByEndpoint["staging"] = "https://staging.example.test/acct/1"
	if err := SaveAccountBundle(dir, loaded); err != nil {
		t.Fatal(err)
	}

	final, err := LoadAccountBundle(dir, "default")
	if err != nil {
		t.Fatal(err)
	}
	if final.URLByEndpoint["letsencrypt"] != "https://le.example.test/acct/1" {
		t.Fatalf("lost original endpoint URL: %+v", final.URLByEndpoint)
	}
	if final.URLByEndpoint["staging"] != "https://staging.example.test/acct/1" {
		t.Fatalf("missing new endpoint URL: %+v", final.URLByEndpoint)
	}
}
