// Package identifier defines the RFC 8555 / RFC 8738 identifier types that
// name what a certificate covers.
package identifier

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Type is a registered ACME identifier type, RFC 8555 §9.7.7.
type Type string

const (
	// TypeDNS covers domain names, including wildcards.
	TypeDNS = Type("dns")
	// TypeIP covers IP literals, RFC 8738.
	TypeIP = Type("ip")
)

// ChallengeType names one of the three challenge methods spec §1/§3
// supports for proving control of an identifier.
type ChallengeType string

const (
	ChallengeHTTP01    = ChallengeType("http-01")
	ChallengeDNS01     = ChallengeType("dns-01")
	ChallengeTLSALPN01 = ChallengeType("tls-alpn-01")
)

// ACMEIdentifier is a single identifier (with the challenge type configured
// for it) as carried on a certificate request record, spec §3 "CRR".
type ACMEIdentifier struct {
	Type      Type          `json:"type"`
	Value     string        `json:"value"`
	Challenge ChallengeType `json:"-"`
}

// DNSIdentifier builds a DNS-type identifier.
func DNSIdentifier(name string, chall ChallengeType) ACMEIdentifier {
	return ACMEIdentifier{Type: TypeDNS, Value: name, Challenge: chall}
}

// IPIdentifier builds an IP-type identifier.
func IPIdentifier(ip string, chall ChallengeType) ACMEIdentifier {
	return ACMEIdentifier{Type: TypeIP, Value: ip, Challenge: chall}
}

// IsWildcard reports whether a DNS identifier is a wildcard name
// (e.g. "*.example.com").
func (id ACMEIdentifier) IsWildcard() bool {
	return id.Type == TypeDNS && strings.HasPrefix(id.Value, "*.")
}

// Recreate infers the identifier Type from the string form, the way the
// teacher's identifier.RecreateIdentifier does: parseable as an IP means IP,
// otherwise DNS.
func Recreate(value string, chall ChallengeType) ACMEIdentifier {
	if net.ParseIP(value) != nil {
		return IPIdentifier(value, chall)
	}
	return DNSIdentifier(value, chall)
}

// Validate enforces spec §3's CRR invariant and the boundary tests in §8:
// wildcard identifiers may only use dns-01, and IP identifiers may not use
// dns-01.
func (id ACMEIdentifier) Validate() error {
	if id.IsWildcard() && id.Challenge != ChallengeDNS01 {
		return fmt.Errorf("wildcard identifier %q may only use dns-01, got %s", id.Value, id.Challenge)
	}
	if id.Type == TypeIP && id.Challenge == ChallengeDNS01 {
		return fmt.Errorf("IP identifier %q may not use dns-01", id.Value)
	}
	if id.Type == TypeDNS {
		name := id.Value
		if id.IsWildcard() {
			name = strings.TrimPrefix(name, "*.")
		}
		if err := validateIDNLabels(name); err != nil {
			return fmt.Errorf("identifier %q: %w", id.Value, err)
		}
	}
	return nil
}

// validateIDNLabels rejects a DNS name carrying a malformed punycode label,
// following the teacher's policy authority's IDN check: any label starting
// with the ACE prefix must decode to NFKC-normalized Unicode.
func validateIDNLabels(name string) error {
	for _, label := range strings.Split(name, ".") {
		if !strings.HasPrefix(label, "xn--") {
			continue
		}
		ulabel, err := idna.ToUnicode(label)
		if err != nil {
			return fmt.Errorf("malformed IDN label %q: %w", label, err)
		}
		if !norm.NFKC.IsNormalString(ulabel) {
			return fmt.Errorf("IDN label %q is not NFKC-normalized", label)
		}
	}
	return nil
}

// String renders the identifier as "type:value" for logging.
func (id ACMEIdentifier) String() string {
	return fmt.Sprintf("%s:%s", id.Type, id.Value)
}
