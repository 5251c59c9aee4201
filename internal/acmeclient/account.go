package acmeclient

import (
	"context"
	"encoding/json"

	"github.com/go-jose/go-jose/v4"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// ExternalAccountBinding is spec §3's Account "optional external-account-
// binding (kid, key, mac algorithm)".
type ExternalAccountBinding struct {
	KeyID     string
	MACKey    []byte
	Algorithm jose.SignatureAlgorithm
}

// AccountState is the in-memory + persisted account record (spec §3
// "Account"): the URL is populated after the first successful create.
type AccountState struct {
	Name     string
	Contacts []string
	Key      *acmecrypto.KeyPair
	// KeyHistory records prior keys after a rotation, oldest first; Key is
	// always the authoritative/current one (spec §3's Account invariant).
	KeyHistory []*acmecrypto.KeyPair
	URL        string
	EAB        *ExternalAccountBinding
}

// EnsureAccount implements spec §4.4's "Account discovery/creation": first
// try onlyReturnExisting against the current key; on accountDoesNotExist,
// register with ToS agreement, contacts, and EAB if configured. tosAgreed
// must be true (the endpoint's configured tos_agreed) for the registration
// POST to proceed; a configuration that hasn't agreed to terms cannot
// create an account.
func EnsureAccount(ctx context.Context, ep *Endpoint, acct *AccountState, tosAgreed bool) error {
	if acct.URL != "" {
		return nil
	}
	if ep.Directory.Meta.ExternalAccountRequired && acct.EAB == nil {
		return acmeerrors.New(acmeerrors.ConfigError, "endpoint %s requires external account binding", ep.Name)
	}

	lookup := AccountRequest{OnlyReturnExisting: true}
	body, hdr, err := ep.Transport.PostJSON(ctx, acct.Key, "", ep.Directory.NewAccount, lookup)
	if err == nil {
		acct.URL = hdr.Get("Location")
		return decodeAccountResponse(body, acct)
	}
	ae, ok := err.(*acmeerrors.AcmedError)
	if !ok || ae.Problem == nil || ae.Problem.Type != "urn:ietf:params:acme:error:accountDoesNotExist" {
		return err
	}
	if !tosAgreed {
		return acmeerrors.New(acmeerrors.ConfigError, "endpoint %s: account %s does not exist and tos_agreed is not set", ep.Name, acct.Name)
	}

	req := AccountRequest{
		Contact:              acct.Contacts,
		TermsOfServiceAgreed: true,
	}
	if acct.EAB != nil {
		jwk := acmecrypto.JWK(acct.Key)
		eabJWS, err := acmecrypto.SignEAB(acct.EAB.KeyID, acct.EAB.MACKey, acct.EAB.Algorithm, ep.Directory.NewAccount, jwk)
		if err != nil {
			return err
		}
		req.ExternalAccountBinding = json.RawMessage(eabJWS)
	}
	body, hdr, err = ep.Transport.PostJSON(ctx, acct.Key, "", ep.Directory.NewAccount, req)
	if err != nil {
		return err
	}
	acct.URL = hdr.Get("Location")
	if acct.URL == "" {
		return acmeerrors.New(acmeerrors.ProtocolError, "newAccount response missing Location")
	}
	return decodeAccountResponse(body, acct)
}

func decodeAccountResponse(body []byte, acct *AccountState) error {
	var resp AccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse account response")
	}
	return nil
}

// RotateContacts POSTs an updated contact list to the account URL, per
// original_source's account.rs update path (SPEC_FULL.md §5).
func RotateContacts(ctx context.Context, ep *Endpoint, acct *AccountState, contacts []string) error {
	if acct.URL == "" {
		return acmeerrors.New(acmeerrors.ProtocolError, "account has no URL yet")
	}
	_, _, err := ep.Transport.PostJSON(ctx, acct.Key, acct.URL, acct.URL, AccountRequest{Contact: contacts})
	if err != nil {
		return err
	}
	acct.Contacts = contacts
	return nil
}

// RotateKey performs RFC 8555 §7.3.5 key rollover: signs an inner JWS with
// the new key (payload: {account, oldKey}) nested inside an outer JWS
// signed by the current key, then appends the old key to KeyHistory per
// spec §3's Account invariant "rotations are recorded but the latest key
// is authoritative."
func RotateKey(ctx context.Context, ep *Endpoint, acct *AccountState, newKey *acmecrypto.KeyPair) error {
	if acct.URL == "" {
		return acmeerrors.New(acmeerrors.ProtocolError, "account has no URL yet")
	}
	inner := struct {
		Account string          `json:"account"`
		OldKey  *jose.JSONWebKey `json:"oldKey"`
	}{Account: acct.URL, OldKey: acmecrypto.JWK(acct.Key)}
	payload, err := json.Marshal(inner)
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal key-rollover inner payload")
	}
	innerJWS, err := acmecrypto.SignJWS(newKey, "", ep.Directory.KeyChange, nil, payload)
	if err != nil {
		return err
	}
	_, _, err = ep.Transport.PostJSON(ctx, acct.Key, acct.URL, ep.Directory.KeyChange, json.RawMessage(innerJWS))
	if err != nil {
		return err
	}
	acct.KeyHistory = append(acct.KeyHistory, acct.Key)
	acct.Key = newKey
	return nil
}
