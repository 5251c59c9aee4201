package acmecrypto

import (
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// ParseCertExpiry returns the leaf certificate's notAfter, per spec §4.1.
// The leaf is the first PEM block in the chain, matching how ACME servers
// order the `application/pem-certificate-chain` download response.
func ParseCertExpiry(pemChain []byte) (time.Time, error) {
	block, _ := pem.Decode(pemChain)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, acmeerrors.New(acmeerrors.CryptoError, "CorruptCertificate: no leaf PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, acmeerrors.Wrap(acmeerrors.CryptoError, err, "CorruptCertificate")
	}
	return cert.NotAfter.UTC(), nil
}

// LeafRootCN returns the Issuer common name of the chain's second PEM
// block (the issuing CA certificate, if present), used by the
// preferred-chain-by-root-CN best-effort selection in
// internal/acmeclient/order.go.
func LeafRootCN(pemChain []byte) string {
	rest := pemChain
	for i := 0; i < 2; i++ {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return ""
		}
		if i == 1 {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return ""
			}
			return cert.Issuer.CommonName
		}
	}
	return ""
}
