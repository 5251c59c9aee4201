package acmecrypto

import (
	"testing"

	"github.com/go-jose/go-jose/v4"
)

type staticNonceSource struct{ n int }

func (s *staticNonceSource) Nonce() (string, error) {
	s.n++
	return "nonce-value", nil
}

func TestSignJWSEmbedsJWKWithoutAccount(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	serialized, err := SignJWS(kp, "", "https://example.test/new-account", &staticNonceSource{}, []byte(`{"foo":"bar"}`))
	if err != nil {
		t.Fatal(err)
	}
	obj, err := jose.ParseSigned(serialized, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		t.Fatalf("parse signed jws: %s", err)
	}
	payload, err := obj.Verify(kp.Public())
	if err != nil {
		t.Fatalf("verify jws: %s", err)
	}
	if string(payload) != `{"foo":"bar"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
	header := obj.Signatures[0].Header
	if header.JSONWebKey == nil {
		t.Fatal("expected jwk header for account-less request")
	}
	if header.KeyID != "" {
		t.Fatalf("expected no kid header, got %q", header.KeyID)
	}
}

func TestSignJWSUsesKidWithAccount(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	acctURL := "https://example.test/acct/1"
	serialized, err := SignJWS(kp, acctURL, "https://example.test/new-order", &staticNonceSource{}, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	obj, err := jose.ParseSigned(serialized, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := obj.Verify(kp.Public()); err != nil {
		t.Fatalf("verify jws: %s", err)
	}
	header := obj.Signatures[0].Header
	if header.KeyID != acctURL {
		t.Fatalf("kid = %q, want %q", header.KeyID, acctURL)
	}
	if header.JSONWebKey != nil {
		t.Fatal("expected no embedded jwk when kid is set")
	}
}

func TestSignJWSEd448ReturnsNonEmptyJWS(t *testing.T) {
	kp, err := Generate(Ed448)
	if err != nil {
		t.Fatal(err)
	}
	serialized, err := SignJWS(kp, "", "https://example.test/new-account", &staticNonceSource{}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if serialized == "" {
		t.Fatal("expected non-empty serialized jws")
	}
}
