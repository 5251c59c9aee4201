package acmecrypto

import (
	"crypto/x509"
	"testing"

	"github.com/letsencrypt/acmed/internal/identifier"
)

func TestBuildCSRDeduplicatesAndSeparatesSANTypes(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	ids := []identifier.ACMEIdentifier{
		{Type: identifier.TypeDNS, Value: "foo.test"},
		{Type: identifier.TypeDNS, Value: "foo.test"},
		{Type: identifier.TypeDNS, Value: "bar.test"},
		{Type: identifier.TypeIP, Value: "203.0.113.5"},
	}
	der, err := BuildCSR(ids, kp, SHA256, SubjectAttributes{CommonName: "foo.test"})
	if err != nil {
		t.Fatal(err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		t.Fatal(err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Fatalf("CSR signature invalid: %s", err)
	}
	if len(csr.DNSNames) != 2 {
		t.Fatalf("expected 2 deduplicated DNS SANs, got %v", csr.DNSNames)
	}
	if len(csr.IPAddresses) != 1 || csr.IPAddresses[0].String() != "203.0.113.5" {
		t.Fatalf("unexpected IP SANs: %v", csr.IPAddresses)
	}
	if csr.Subject.CommonName != "foo.test" {
		t.Fatalf("unexpected CN: %q", csr.Subject.CommonName)
	}
}

func TestBuildCSRRejectsEmptyIdentifiers(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := BuildCSR(nil, kp, SHA256, SubjectAttributes{}); err == nil {
		t.Fatal("expected error for empty identifier list")
	}
}

func TestBuildCSRRejectsInvalidIP(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	ids := []identifier.ACMEIdentifier{{Type: identifier.TypeIP, Value: "not-an-ip"}}
	if _, err := BuildCSR(ids, kp, SHA256, SubjectAttributes{}); err == nil {
		t.Fatal("expected error for invalid IP identifier")
	}
}
