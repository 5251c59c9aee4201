package main

import (
	"testing"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
)

func TestRunPrintsVersionAndExits(t *testing.T) {
	if code := run([]string{"--version"}); code != exitOK {
		t.Fatalf("code = %d, want exitOK", code)
	}
}

func TestRunShowsHelpAndExits(t *testing.T) {
	if code := run([]string{"--help"}); code != exitOK {
		t.Fatalf("code = %d, want exitOK", code)
	}
}

func TestRunRejectsMutuallyExclusiveExtFlags(t *testing.T) {
	code := run([]string{"--acme-ext", "abcd", "--acme-ext-file", "/tmp/whatever", "--domain", "example.com"})
	if code != exitConfig {
		t.Fatalf("code = %d, want exitConfig", code)
	}
}

func TestRunRejectsMutuallyExclusiveDomainFlags(t *testing.T) {
	code := run([]string{"--domain", "example.com", "--domain-file", "/tmp/whatever", "--acme-ext", "abcd"})
	if code != exitConfig {
		t.Fatalf("code = %d, want exitConfig", code)
	}
}

func TestRunRejectsUnknownSignatureAlgorithm(t *testing.T) {
	code := run([]string{
		"--domain", "example.com",
		"--acme-ext", "aa",
		"--crt-signature-alg", "not-a-real-alg",
		"--log-stderr",
	})
	if code != exitConfig {
		t.Fatalf("code = %d, want exitConfig", code)
	}
}

func TestRunFailsToSynthesizeOnBadDigestHex(t *testing.T) {
	code := run([]string{
		"--domain", "example.com",
		"--acme-ext", "not-valid-hex",
		"--log-stderr",
	})
	if code != exitRuntime {
		t.Fatalf("code = %d, want exitRuntime", code)
	}
}

func TestParseSigAlgRecognizesAliases(t *testing.T) {
	cases := map[string]acmecrypto.KeyType{
		"ecdsa-p256": acmecrypto.P256,
		"p256":       acmecrypto.P256,
		"p384":       acmecrypto.P384,
		"p521":       acmecrypto.P521,
		"rsa2048":    acmecrypto.RSA2048,
		"rsa4096":    acmecrypto.RSA4096,
		"ed25519":    acmecrypto.Ed25519,
		"ed448":      acmecrypto.Ed448,
	}
	for in, want := range cases {
		got, err := parseSigAlg(in)
		if err != nil {
			t.Fatalf("parseSigAlg(%q): %s", in, err)
		}
		if got != want {
			t.Fatalf("parseSigAlg(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseSigAlgRejectsUnknown(t *testing.T) {
	if _, err := parseSigAlg("not-a-real-alg"); err == nil {
		t.Fatal("expected an error for an unrecognized signature algorithm")
	}
}
