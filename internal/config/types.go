package config

import "time"

// Config is the root of spec §6.3's configuration surface.
type Config struct {
	Global      Global        `toml:"global"`
	Endpoints   []Endpoint    `toml:"endpoint"`
	Accounts    []Account     `toml:"account"`
	Certificates []Certificate `toml:"certificate"`
	Hooks       []Hook        `toml:"hook"`
	Groups      []Group       `toml:"group"`
	Includes    []Include     `toml:"include"`
}

// Global carries the default values spec §6.3's table lists for the
// global section.
type Global struct {
	RateLimit       RateLimit         `toml:"rate_limit"`
	RenewDelay      Duration          `toml:"renew_delay"`
	CertFileMode    uint32            `toml:"cert_file_mode"`
	PKFileMode      uint32            `toml:"pk_file_mode"`
	RootCertificates []string         `toml:"root_certificates"`
	Env             map[string]string `toml:"env"`
}

// DefaultGlobal returns the global defaults: rate limit 20 requests per
// second, renew_delay 21 days, cert files 0644, key files 0600. The retry
// count is not part of Global; it comes from acmeclient.DefaultRetryPolicy.
func DefaultGlobal() Global {
	return Global{
		RateLimit:    RateLimit{Number: 20, TimeUnit: "second"},
		RenewDelay:   Duration{21 * 24 * time.Hour},
		CertFileMode: 0644,
		PKFileMode:   0600,
	}
}

// RateLimit is spec §3's Endpoint "HTTPS rate-limit policy", spec §6.3's
// endpoint "rate_limits(number, time_unit)".
type RateLimit struct {
	Number   int    `toml:"number"`
	TimeUnit string `toml:"time_unit"` // "second" | "minute" | "hour"
}

// Endpoint is spec §3's Endpoint entity.
type Endpoint struct {
	Name             string     `toml:"name"`
	URL              string     `toml:"url"`
	TOSAgreed        bool       `toml:"tos_agreed"`
	RateLimits       *RateLimit `toml:"rate_limits"`
	RootCertificates []string   `toml:"root_certificates"`
}

// ExternalAccount is spec §6.3's account.external_account table.
type ExternalAccount struct {
	Identifier         string `toml:"identifier"`
	Key                string `toml:"key"` // base64url-encoded MAC key
	SignatureAlgorithm string `toml:"signature_algorithm"`
}

// Account is spec §3's Account entity.
type Account struct {
	Name               string            `toml:"name"`
	Contacts           []string          `toml:"contacts"`
	KeyType            string            `toml:"key_type"`
	SignatureAlgorithm string            `toml:"signature_algorithm"`
	ExternalAccount    *ExternalAccount  `toml:"external_account"`
	Hooks              []string          `toml:"hooks"`
	Env                map[string]string `toml:"env"`
}

// CertIdentifier is spec §6.3's certificate.identifiers[] entry.
type CertIdentifier struct {
	Type      string `toml:"type"`  // "dns" | "ip"
	Value     string `toml:"value"`
	Challenge string `toml:"challenge"`
}

// SubjectAttributes mirrors spec §4.1's configurable DN fields.
type SubjectAttributes struct {
	CommonName         string `toml:"common_name"`
	Organization       string `toml:"organization"`
	OrganizationalUnit string `toml:"organizational_unit"`
	Country            string `toml:"country"`
	Locality           string `toml:"locality"`
	Province           string `toml:"province"`
	StreetAddress      string `toml:"street_address"`
	PostalCode         string `toml:"postal_code"`
	SerialNumber       string `toml:"serial_number"`
	EmailAddress       string `toml:"pkcs9_emailaddress"`
	GivenName          string `toml:"given_name"`
	Surname            string `toml:"surname"`
	Initials           string `toml:"initials"`
	Title              string `toml:"title"`
	GenerationQualifier string `toml:"generation_qualifier"`
	DNQualifier        string `toml:"dn_qualifier"`
	UserID             string `toml:"user_id"`
	Name               string `toml:"name"`
}

// Certificate is spec §3's CRR entity.
type Certificate struct {
	Name                 string            `toml:"name"`
	Endpoint             string            `toml:"endpoint"`
	Account              string            `toml:"account"`
	Identifiers          []CertIdentifier  `toml:"identifiers"`
	KeyType              string            `toml:"key_type"`
	CSRDigest            string            `toml:"csr_digest"`
	RenewDelay           *Duration         `toml:"renew_delay"`
	KPReuse              bool              `toml:"kp_reuse"`
	SubjectAttributes    SubjectAttributes `toml:"subject_attributes"`
	SubjectAttributeDigest string          `toml:"subject_attribute_digest"`
	Directory            string            `toml:"directory"`
	NameFormat           string            `toml:"name_format"`
	KeyFileNameFormat    string            `toml:"key_file_name_format"`
	PreferredChain       string            `toml:"preferred_chain"`
	Hooks                []string          `toml:"hooks"`
	Env                  map[string]string `toml:"env"`
}

// Hook is spec §3's Hook entity / §6.3's hook[] section.
type Hook struct {
	Name         string            `toml:"name"`
	Type         []string          `toml:"type"`
	Cmd          string            `toml:"cmd"`
	Args         []string          `toml:"args"`
	Stdin        string            `toml:"stdin"`
	StdinStr     string            `toml:"stdin_str"`
	Stdout       string            `toml:"stdout"`
	AllowFailure bool              `toml:"allow_failure"`
	Env          map[string]string `toml:"env"`
}

// Group is spec §3's Hook group / §6.3's group[] section.
type Group struct {
	Name  string   `toml:"name"`
	Hooks []string `toml:"hooks"`
}

// Include is spec §6.3's include[] section: bounded-recursion glob
// expansion, duplicate inclusion a no-op.
type Include struct {
	Globs []string `toml:"globs"`
}

