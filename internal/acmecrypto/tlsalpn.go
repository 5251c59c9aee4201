package acmecrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"net"
	"time"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// idPeAcmeIdentifier is the id-pe-acmeIdentifier certificate extension OID
// registered by RFC 8737 §3 for the TLS-ALPN-01 challenge.
var idPeAcmeIdentifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// SynthesizeTLSALPNCert builds the ephemeral self-signed certificate the
// TLS-ALPN-01 challenge requires: SAN covers domain, and the acmeIdentifier
// extension (SHA-256 over keyAuthorization, wrapped in an OCTET STRING) is
// marked critical so a validating CA that does not understand it refuses
// the handshake rather than accepting a certificate it can't verify, per
// RFC 8737 §3. The acmeIdentifier hash is fixed at SHA-256 by RFC 8737 §3;
// digest only selects the certificate's own signature algorithm.
func SynthesizeTLSALPNCert(domain, keyAuthorization string, digest Digest, kp *KeyPair) (*x509.Certificate, []byte, error) {
	sum := sha256.Sum256([]byte(keyAuthorization))
	return synthesizeTLSALPNCertFromDigest(domain, sum[:], digest, kp)
}

// SynthesizeTLSALPNCertFromDigest is SynthesizeTLSALPNCert for a caller
// that already holds the SHA-256 digest hex-encoded rather than the raw
// key authorization — tacd's --acme-ext/--acme-ext-file input, which a
// challenge-tls-alpn-01 hook populates from ChallengeProof.Proof. tacd
// never hashes anything itself; the digest is computed once, by whichever
// side produced the proof, and carried through as-is from there on.
func SynthesizeTLSALPNCertFromDigest(domain, digestHex string, digest Digest, kp *KeyPair) (*x509.Certificate, []byte, error) {
	sum, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "decode acme-ext digest")
	}
	return synthesizeTLSALPNCertFromDigest(domain, sum, digest, kp)
}

func synthesizeTLSALPNCertFromDigest(domain string, sum []byte, digest Digest, kp *KeyPair) (*x509.Certificate, []byte, error) {
	extValue, err := asn1.Marshal(sum)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal acmeIdentifier extension")
	}

	now := time.Now()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate serial")
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    now.Add(-1 * time.Hour),
		NotAfter:     now.Add(30 * 24 * time.Hour),
		DNSNames:     []string{domain},
		ExtraExtensions: []pkix.Extension{
			{Id: idPeAcmeIdentifier, Critical: true, Value: extValue},
		},
		SignatureAlgorithm: digest.sigAlgoFor(kp.Type),
	}
	if ip := net.ParseIP(domain); ip != nil {
		tmpl.DNSNames = nil
		tmpl.IPAddresses = []net.IP{ip}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, kp.Public(), kp.Private)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "create self-signed acme-tls/1 cert")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "parse synthesized cert")
	}
	return cert, der, nil
}
