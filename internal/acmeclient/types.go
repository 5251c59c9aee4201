// Package acmeclient implements spec §4.4's ACME protocol engine: directory
// discovery, nonce management, account lifecycle, order/authorization/
// challenge orchestration, finalization, and certificate download. Wire
// type field layout follows github.com/eggsampler/acme/v3's Directory/
// Order/Authorization/Challenge shapes (vendored under boulder's own test
// tooling) and github.com/mholt/acmez's challenge-solver polling loop
// (vendored under kgretzky-evilginx2), per DESIGN.md.
package acmeclient

import "encoding/json"

// Directory is RFC 8555 §7.1.1's directory object.
type Directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewAuthz   string `json:"newAuthz,omitempty"`
	RevokeCert string `json:"revokeCert"`
	KeyChange  string `json:"keyChange"`
	Meta       struct {
		TermsOfService          string   `json:"termsOfService,omitempty"`
		Website                 string   `json:"website,omitempty"`
		CAAIdentities           []string `json:"caaIdentities,omitempty"`
		ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
	} `json:"meta,omitempty"`
}

// AccountRequest is the payload for newAccount / account POSTs, RFC 8555
// §7.3.
type AccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// AccountResponse is the server's account object.
type AccountResponse struct {
	Status  string   `json:"status"`
	Contact []string `json:"contact,omitempty"`
	Orders  string   `json:"orders,omitempty"`
}

// WireIdentifier is RFC 8555 §7.1.4's identifier object: type is "dns" or
// "ip" (RFC 8738 extension).
type WireIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewOrderRequest is the newOrder payload. NotBefore/NotAfter are the
// order-hint fields original_source's acme_proto.rs exposes per
// certificate (spec §4.4 "New order"), kept per SPEC_FULL.md §5.
type NewOrderRequest struct {
	Identifiers []WireIdentifier `json:"identifiers"`
	NotBefore   string           `json:"notBefore,omitempty"`
	NotAfter    string           `json:"notAfter,omitempty"`
}

// OrderResponse is RFC 8555 §7.1.3's order object.
type OrderResponse struct {
	Status         string           `json:"status"`
	Expires        string           `json:"expires,omitempty"`
	Identifiers    []WireIdentifier `json:"identifiers"`
	NotBefore      string           `json:"notBefore,omitempty"`
	NotAfter       string           `json:"notAfter,omitempty"`
	Error          *json.RawMessage `json:"error,omitempty"`
	Authorizations []string         `json:"authorizations"`
	Finalize       string           `json:"finalize"`
	Certificate    string           `json:"certificate,omitempty"`

	// URL is not part of the wire object; it is filled in from the
	// response's Location header by the caller.
	URL string `json:"-"`
}

// AuthorizationResponse is RFC 8555 §7.1.4's authorization object.
type AuthorizationResponse struct {
	Identifier WireIdentifier    `json:"identifier"`
	Status     string            `json:"status"`
	Expires    string            `json:"expires,omitempty"`
	Challenges []ChallengeObject `json:"challenges"`
	Wildcard   bool              `json:"wildcard,omitempty"`

	URL string `json:"-"`
}

// ChallengeObject is RFC 8555 §8's challenge object.
type ChallengeObject struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Error  *json.RawMessage `json:"error,omitempty"`
}

// FinalizeRequest is the finalize payload: a base64url DER CSR.
type FinalizeRequest struct {
	CSR string `json:"csr"`
}
