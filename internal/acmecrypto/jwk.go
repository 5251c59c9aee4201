package acmecrypto

import (
	"crypto"

	"github.com/go-jose/go-jose/v4"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// JWK returns the RFC 7517 public-key representation of a key pair.
// go-jose derives the canonical JSON member set (kty/crv/x/y or kty/n/e)
// straight from the Go crypto.PublicKey, so this is a thin wrapper rather
// than the hand-rolled per-curve marshaling the teacher's jose package
// predates go-jose with.
func JWK(kp *KeyPair) *jose.JSONWebKey {
	pub := kp.Public()
	if s, ok := kp.Private.(ed448Signer); ok {
		pub = s.PrivateKey.Public()
	}
	return &jose.JSONWebKey{Key: pub}
}

// Thumbprint computes the RFC 7638 JWK thumbprint: SHA-256 over the
// canonical JSON of the key's required members, base64url without padding.
func Thumbprint(kp *KeyPair) (string, error) {
	jwk := JWK(kp)
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "jwk thumbprint")
	}
	return base64URLNoPad(sum), nil
}

// KeyAuthorization builds the shared secret spec's GLOSSARY defines as
// `token || "." || jwk_thumbprint(account_key)`.
func KeyAuthorization(token string, kp *KeyPair) (string, error) {
	tp, err := Thumbprint(kp)
	if err != nil {
		return "", err
	}
	return token + "." + tp, nil
}
