package acmecrypto

import (
	"strings"
	"testing"
)

func TestThumbprintIsStableAndURLSafe(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Thumbprint(kp)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Thumbprint(kp)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("thumbprint not stable across calls: %q != %q", a, b)
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("thumbprint %q is not unpadded base64url", a)
	}
}

func TestThumbprintDiffersAcrossKeys(t *testing.T) {
	kp1, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	kp2, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	tp1, err := Thumbprint(kp1)
	if err != nil {
		t.Fatal(err)
	}
	tp2, err := Thumbprint(kp2)
	if err != nil {
		t.Fatal(err)
	}
	if tp1 == tp2 {
		t.Fatal("two distinct keys produced the same thumbprint")
	}
}

func TestKeyAuthorizationFormat(t *testing.T) {
	kp, err := Generate(P256)
	if err != nil {
		t.Fatal(err)
	}
	ka, err := KeyAuthorization("token123", kp)
	if err != nil {
		t.Fatal(err)
	}
	tp, err := Thumbprint(kp)
	if err != nil {
		t.Fatal(err)
	}
	want := "token123." + tp
	if ka != want {
		t.Fatalf("KeyAuthorization = %q, want %q", ka, want)
	}
}
