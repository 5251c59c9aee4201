package acmeclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/identifier"
)

// ChallengeProof carries the challenge-type-dependent proof material spec
// §4.4 step 4 computes, handed to the hook engine's provisioning context.
type ChallengeProof struct {
	Type               identifier.ChallengeType
	Token              string
	KeyAuthorization   string
	Proof              string
	FileName           string // http-01: the token, used as the well-known file name
	IdentifierTLSALPN  string // tls-alpn-01: the domain being validated
	ChallengeURL       string
}

// SelectChallenge implements spec §4.4 step 2: pick the challenge object
// matching the identifier's configured challenge type. Absent match fails
// with UnsupportedChallengeType.
func SelectChallenge(authz *AuthorizationResponse, want identifier.ChallengeType) (*ChallengeObject, error) {
	for i := range authz.Challenges {
		if authz.Challenges[i].Type == string(want) {
			return &authz.Challenges[i], nil
		}
	}
	return nil, acmeerrors.New(acmeerrors.ChallengeError, "UnsupportedChallengeType: authz %s has no %s challenge", authz.URL, want)
}

// BuildProof implements spec §4.4 steps 3-4.
func BuildProof(chall *ChallengeObject, id identifier.ACMEIdentifier, accountKey *acmecrypto.KeyPair) (*ChallengeProof, error) {
	ka, err := acmecrypto.KeyAuthorization(chall.Token, accountKey)
	if err != nil {
		return nil, err
	}
	p := &ChallengeProof{
		Type:             identifier.ChallengeType(chall.Type),
		Token:            chall.Token,
		KeyAuthorization: ka,
		ChallengeURL:     chall.URL,
	}
	switch p.Type {
	case identifier.ChallengeHTTP01:
		p.Proof = ka
		p.FileName = chall.Token
	case identifier.ChallengeDNS01:
		sum := sha256.Sum256([]byte(ka))
		p.Proof = base64.RawURLEncoding.EncodeToString(sum[:])
	case identifier.ChallengeTLSALPN01:
		sum := sha256.Sum256([]byte(ka))
		p.Proof = hex.EncodeToString(sum[:])
		p.IdentifierTLSALPN = id.Value
	default:
		return nil, acmeerrors.New(acmeerrors.ChallengeError, "UnsupportedChallengeType: %s", p.Type)
	}
	return p, nil
}

// FetchAuthorization POST-as-GETs an authorization object, spec §4.4 step 1.
// The response header is returned alongside so a poll loop can honor a
// Retry-After the CA attaches to it.
func FetchAuthorization(ctx context.Context, ep *Endpoint, acct *AccountState, url string) (*AuthorizationResponse, http.Header, error) {
	body, hdr, err := ep.Transport.PostAsGet(ctx, acct.Key, acct.URL, url)
	if err != nil {
		return nil, nil, err
	}
	var authz AuthorizationResponse
	if err := json.Unmarshal(body, &authz); err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse authorization")
	}
	authz.URL = url
	return &authz, hdr, nil
}

// RespondToChallenge POSTs `{}` to the challenge URL, spec §4.4 step 6,
// telling the server to begin validation.
func RespondToChallenge(ctx context.Context, ep *Endpoint, acct *AccountState, challengeURL string) error {
	_, _, err := ep.Transport.PostJSON(ctx, acct.Key, acct.URL, challengeURL, struct{}{})
	return err
}

// PollAuthorization implements spec §4.4 step 7: poll until the
// authorization reaches a terminal status, exponential backoff capped at
// 8s, honoring a Retry-After the CA attaches to the authorization response
// in place of the computed delay for that cycle, timeout after 30 cycles.
func PollAuthorization(ctx context.Context, ep *Endpoint, acct *AccountState, authzURL string, clk clock.Clock, backoff PollBackoff) (*AuthorizationResponse, error) {
	delay := backoff.Start
	for i := 0; i < maxPollCycles; i++ {
		authz, hdr, err := FetchAuthorization(ctx, ep, acct, authzURL)
		if err != nil {
			return nil, err
		}
		switch authz.Status {
		case "valid", "invalid":
			return authz, nil
		}
		wait := delay
		if d, ok := retryAfterFromHeader(hdr); ok {
			wait = d
		}
		clk.Sleep(wait)
		delay *= 2
		if delay > backoff.Cap {
			delay = backoff.Cap
		}
	}
	return nil, acmeerrors.New(acmeerrors.ChallengeError, "ChallengeTimeout: authorization %s never reached a terminal status", authzURL)
}
