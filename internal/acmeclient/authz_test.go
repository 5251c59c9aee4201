package acmeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/identifier"
)

func TestSelectChallengeFindsMatchingType(t *testing.T) {
	authz := &AuthorizationResponse{
		URL: "http://example.com/authz/1",
		Challenges: []ChallengeObject{
			{Type: "http-01", URL: "http://example.com/chal/1", Token: "tok1"},
			{Type: "tls-alpn-01", URL: "http://example.com/chal/2", Token: "tok2"},
		},
	}
	chall, err := SelectChallenge(authz, identifier.ChallengeTLSALPN01)
	if err != nil {
		t.Fatalf("SelectChallenge: %s", err)
	}
	if chall.Token != "tok2" {
		t.Fatalf("Token = %q, want tok2", chall.Token)
	}
}

func TestSelectChallengeMissingType(t *testing.T) {
	authz := &AuthorizationResponse{
		URL:        "http://example.com/authz/1",
		Challenges: []ChallengeObject{{Type: "http-01", Token: "tok1"}},
	}
	if _, err := SelectChallenge(authz, identifier.ChallengeDNS01); err == nil {
		t.Fatal("expected UnsupportedChallengeType error")
	}
}

func testAccountKey(t *testing.T) *acmecrypto.KeyPair {
	t.Helper()
	kp, err := acmecrypto.Generate(acmecrypto.P256)
	if err != nil {
		t.Fatalf("Generate: %s", err)
	}
	return kp
}

func TestBuildProofHTTP01(t *testing.T) {
	kp := testAccountKey(t)
	chall := &ChallengeObject{Type: "http-01", Token: "the-token", URL: "http://example.com/chal/1"}
	id := identifier.DNSIdentifier("example.com", identifier.ChallengeHTTP01)

	proof, err := BuildProof(chall, id, kp)
	if err != nil {
		t.Fatalf("BuildProof: %s", err)
	}
	if proof.FileName != "the-token" {
		t.Fatalf("FileName = %q, want the-token", proof.FileName)
	}
	if proof.Proof != proof.KeyAuthorization {
		t.Fatal("http-01 proof should equal the raw key authorization")
	}
	if proof.KeyAuthorization == "" {
		t.Fatal("expected a non-empty key authorization")
	}
}

func TestBuildProofDNS01(t *testing.T) {
	kp := testAccountKey(t)
	chall := &ChallengeObject{Type: "dns-01", Token: "the-token", URL: "http://example.com/chal/1"}
	id := identifier.DNSIdentifier("example.com", identifier.ChallengeDNS01)

	proof, err := BuildProof(chall, id, kp)
	if err != nil {
		t.Fatalf("BuildProof: %s", err)
	}
	if proof.Proof == "" || proof.Proof == proof.KeyAuthorization {
		t.Fatalf("dns-01 proof should be a base64url digest, got %q", proof.Proof)
	}
	if proof.FileName != "" {
		t.Fatalf("dns-01 should not set FileName, got %q", proof.FileName)
	}
}

func TestBuildProofTLSALPN01(t *testing.T) {
	kp := testAccountKey(t)
	chall := &ChallengeObject{Type: "tls-alpn-01", Token: "the-token", URL: "http://example.com/chal/1"}
	id := identifier.DNSIdentifier("example.com", identifier.ChallengeTLSALPN01)

	proof, err := BuildProof(chall, id, kp)
	if err != nil {
		t.Fatalf("BuildProof: %s", err)
	}
	if len(proof.Proof) != 64 {
		t.Fatalf("tls-alpn-01 proof should be a 64-char hex digest, got %q", proof.Proof)
	}
	if proof.IdentifierTLSALPN != "example.com" {
		t.Fatalf("IdentifierTLSALPN = %q, want example.com", proof.IdentifierTLSALPN)
	}
}

func TestBuildProofUnsupportedType(t *testing.T) {
	kp := testAccountKey(t)
	chall := &ChallengeObject{Type: "unknown-01", Token: "the-token"}
	id := identifier.DNSIdentifier("example.com", identifier.ChallengeHTTP01)

	if _, err := BuildProof(chall, id, kp); err == nil {
		t.Fatal("expected an UnsupportedChallengeType error")
	}
}

func TestFetchAuthorizationSuccess(t *testing.T) {
	srv, mux, addr := newOrderTestServer(t)
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthorizationResponse{Status: "pending"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	authz, _, err := FetchAuthorization(context.Background(), ep, acct, "http://"+*addr+"/authz/1")
	if err != nil {
		t.Fatalf("FetchAuthorization: %s", err)
	}
	if authz.URL != "http://"+*addr+"/authz/1" {
		t.Fatalf("URL = %q", authz.URL)
	}
}

func TestRespondToChallengePostsEmptyObject(t *testing.T) {
	srv, mux, _ := newOrderTestServer(t)
	mux.HandleFunc("/chal/1", func(w http.ResponseWriter, r *http.Request) {
		body := readAll(t, r)
		payload := jwsPayload(t, body)
		if len(payload) != 0 {
			t.Fatalf("expected an empty JSON object payload, got %v", payload)
		}
		json.NewEncoder(w).Encode(ChallengeObject{Type: "http-01", Status: "processing"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	if err := RespondToChallenge(context.Background(), ep, acct, srv.URL+"/chal/1"); err != nil {
		t.Fatalf("RespondToChallenge: %s", err)
	}
}

func TestPollAuthorizationBecomesValid(t *testing.T) {
	srv, mux, addr := newOrderTestServer(t)
	var polls int32
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n < 2 {
			json.NewEncoder(w).Encode(AuthorizationResponse{Status: "pending"})
			return
		}
		json.NewEncoder(w).Encode(AuthorizationResponse{Status: "valid"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	authz, err := PollAuthorization(context.Background(), ep, acct, "http://"+*addr+"/authz/1", clock.NewFake(), DefaultPollBackoff)
	if err != nil {
		t.Fatalf("PollAuthorization: %s", err)
	}
	if authz.Status != "valid" {
		t.Fatalf("Status = %q", authz.Status)
	}
	if atomic.LoadInt32(&polls) < 2 {
		t.Fatalf("expected at least 2 polls, got %d", polls)
	}
}

func TestPollAuthorizationHonorsRetryAfterOverDefaultBackoff(t *testing.T) {
	srv, mux, addr := newOrderTestServer(t)
	var polls int32
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n < 2 {
			w.Header().Set("Retry-After", "5")
			json.NewEncoder(w).Encode(AuthorizationResponse{Status: "pending"})
			return
		}
		json.NewEncoder(w).Encode(AuthorizationResponse{Status: "valid"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	clk := clock.NewFake()
	start := clk.Now()
	if _, err := PollAuthorization(context.Background(), ep, acct, "http://"+*addr+"/authz/1", clk, DefaultPollBackoff); err != nil {
		t.Fatalf("PollAuthorization: %s", err)
	}
	if elapsed := clk.Now().Sub(start); elapsed != 5*time.Second {
		t.Fatalf("clock advanced by %s, want the server's Retry-After of 5s instead of the %s default backoff", elapsed, DefaultPollBackoff.Start)
	}
}

func TestPollAuthorizationTimesOut(t *testing.T) {
	srv, mux, addr := newOrderTestServer(t)
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthorizationResponse{Status: "pending"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	if _, err := PollAuthorization(context.Background(), ep, acct, "http://"+*addr+"/authz/1", clock.NewFake(), DefaultPollBackoff); err == nil {
		t.Fatal("expected a ChallengeTimeout error for an authorization stuck pending")
	}
}

func TestPollAuthorizationStopsOnInvalid(t *testing.T) {
	srv, mux, addr := newOrderTestServer(t)
	mux.HandleFunc("/authz/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthorizationResponse{Status: "invalid"})
	})
	ep := newTestEndpoint(t, srv)
	acct := newOrderTestAccount(t)

	authz, err := PollAuthorization(context.Background(), ep, acct, "http://"+*addr+"/authz/1", clock.NewFake(), DefaultPollBackoff)
	if err != nil {
		t.Fatalf("PollAuthorization: %s", err)
	}
	if authz.Status != "invalid" {
		t.Fatalf("Status = %q, want invalid", authz.Status)
	}
}
