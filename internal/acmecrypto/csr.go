package acmecrypto

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/identifier"
)

// Digest names the CSR/certificate signature digest, spec §3's
// "csr_digest" / "subject_attribute_digest".
type Digest string

const (
	SHA256 Digest = "sha256"
	SHA384 Digest = "sha384"
	SHA512 Digest = "sha512"
)

func (d Digest) sigAlgoFor(kt KeyType) x509.SignatureAlgorithm {
	switch kt {
	case RSA2048, RSA4096:
		switch d {
		case SHA384:
			return x509.SHA384WithRSA
		case SHA512:
			return x509.SHA512WithRSA
		default:
			return x509.SHA256WithRSA
		}
	case P256:
		return x509.ECDSAWithSHA256
	case P384:
		return x509.ECDSAWithSHA384
	case P521:
		return x509.ECDSAWithSHA512
	case Ed25519, Ed448:
		return x509.PureEd25519
	default:
		return x509.UnknownSignatureAlgorithm
	}
}

// SubjectAttributes carries the optional DN fields spec §4.1 lists as
// configurable on a certificate request: CN, O, OU, C, L, ST, street,
// postalCode, etc. Only the fields that map onto pkix.Name's structured
// members or ExtraNames are represented; anything else (pkcs9_emailAddress,
// userId) is carried in ExtraNames by OID the way the teacher's
// cert_request CSR builder does for non-standard attributes.
type SubjectAttributes struct {
	CommonName         string
	Organization       []string
	OrganizationalUnit []string
	Country            []string
	Locality           []string
	Province           []string
	StreetAddress      []string
	PostalCode         []string
	SerialNumber       string
	ExtraNames         []pkix.AttributeTypeAndValue
}

func (s SubjectAttributes) toName() pkix.Name {
	n := pkix.Name{
		CommonName:         s.CommonName,
		Organization:       s.Organization,
		OrganizationalUnit: s.OrganizationalUnit,
		Country:            s.Country,
		Locality:            s.Locality,
		Province:           s.Province,
		StreetAddress:      s.StreetAddress,
		PostalCode:         s.PostalCode,
		SerialNumber:       s.SerialNumber,
	}
	n.ExtraNames = append(n.ExtraNames, s.ExtraNames...)
	return n
}

// BuildCSR constructs a DER-encoded CSR covering ids (deduplicated, DNS
// names go to SAN dNSName, IP identifiers to SAN iPAddress) signed by key,
// per spec §4.1. The requested digest applies to RSA keys only; ECDSA keys
// use the hash matched to their curve (see sigAlgoFor).
func BuildCSR(ids []identifier.ACMEIdentifier, kp *KeyPair, digest Digest, subject SubjectAttributes) ([]byte, error) {
	seenDNS := map[string]bool{}
	seenIP := map[string]bool{}
	var dns []string
	var ips []net.IP
	for _, id := range ids {
		switch id.Type {
		case identifier.TypeDNS:
			if !seenDNS[id.Value] {
				seenDNS[id.Value] = true
				dns = append(dns, id.Value)
			}
		case identifier.TypeIP:
			ip := net.ParseIP(id.Value)
			if ip == nil {
				return nil, acmeerrors.New(acmeerrors.CryptoError, "invalid IP identifier %q", id.Value)
			}
			key := ip.String()
			if !seenIP[key] {
				seenIP[key] = true
				ips = append(ips, ip)
			}
		}
	}
	if len(dns) == 0 && len(ips) == 0 {
		return nil, acmeerrors.New(acmeerrors.CryptoError, "CSR has no identifiers")
	}

	tmpl := &x509.CertificateRequest{
		Subject:            subject.toName(),
		DNSNames:           dns,
		IPAddresses:        ips,
		SignatureAlgorithm: digest.sigAlgoFor(kp.Type),
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, kp.Private)
	if err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "create CSR")
	}
	return der, nil
}
