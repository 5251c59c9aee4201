// Package acmecrypto implements spec §4.1: key generation and loading, JWS
// signing, JWK thumbprints, CSR construction, certificate-expiry parsing,
// and synthesis of the TLS-ALPN-01 responder certificate.
package acmecrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed448"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// KeyType names one of the key kinds spec §4.1 requires acmed to be able to
// generate, grounded on the teacher's privatekey package's algorithm enum.
type KeyType string

const (
	RSA2048 KeyType = "rsa2048"
	RSA4096 KeyType = "rsa4096"
	P256    KeyType = "p256"
	P384    KeyType = "p384"
	P521    KeyType = "p521"
	Ed25519 KeyType = "ed25519"
	Ed448   KeyType = "ed448"
)

// KeyPair holds a generated or loaded private key together with its
// declared KeyType, since Go's crypto.Signer alone can't distinguish
// ed448.PrivateKey from ed25519.PrivateKey at the type level in the way
// spec §3's CRR.key_type needs for file-naming and algorithm selection.
type KeyPair struct {
	Type    KeyType
	Private crypto.Signer
}

// Public returns the public half of the key pair.
func (kp *KeyPair) Public() crypto.PublicKey {
	return kp.Private.Public()
}

// Generate returns a freshly generated key pair of the requested kind.
func Generate(kind KeyType) (*KeyPair, error) {
	switch kind {
	case RSA2048:
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate rsa2048")
		}
		return &KeyPair{Type: kind, Private: k}, nil
	case RSA4096:
		k, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate rsa4096")
		}
		return &KeyPair{Type: kind, Private: k}, nil
	case P256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate p256")
		}
		return &KeyPair{Type: kind, Private: k}, nil
	case P384:
		k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate p384")
		}
		return &KeyPair{Type: kind, Private: k}, nil
	case P521:
		k, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate p521")
		}
		return &KeyPair{Type: kind, Private: k}, nil
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate ed25519")
		}
		return &KeyPair{Type: kind, Private: priv}, nil
	case Ed448:
		_, priv, err := ed448.GenerateKey(rand.Reader)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "generate ed448")
		}
		return &KeyPair{Type: kind, Private: ed448Signer{priv}}, nil
	default:
		return nil, acmeerrors.New(acmeerrors.CryptoError, "UnsupportedAlgorithm: %s", kind)
	}
}

// ed448Signer adapts ed448.PrivateKey (which signs with an options struct,
// not crypto.SignerOpts) to crypto.Signer so it can flow through the same
// KeyPair.Private field as every other key kind.
type ed448Signer struct {
	ed448.PrivateKey
}

func (s ed448Signer) Public() crypto.PublicKey {
	return s.PrivateKey.Public()
}

func (s ed448Signer) Sign(rand io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	return ed448.Sign(s.PrivateKey, digest, ""), nil
}

// MarshalPKCS8 encodes the private key for on-disk storage (spec §4.7,
// keys written 0600), following the teacher's privatekey.Load/Save pair.
func MarshalPKCS8(kp *KeyPair) ([]byte, error) {
	var der []byte
	var err error
	switch k := kp.Private.(type) {
	case ed448Signer:
		der, err = marshalEd448PKCS8(k.PrivateKey)
	default:
		der, err = x509.MarshalPKCS8PrivateKey(kp.Private)
	}
	if err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadKeyPair parses a PEM-encoded PKCS#8 private key and recovers its
// declared KeyType from the concrete Go type / curve, since the on-disk
// format itself carries no acmed-specific type tag.
func LoadKeyPair(pemBytes []byte) (*KeyPair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, acmeerrors.New(acmeerrors.CryptoError, "no PEM block in key file")
	}
	if kt, priv, err := tryEd448(block.Bytes); err == nil {
		return &KeyPair{Type: kt, Private: priv}, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.CryptoError, err, "parse private key")
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		kt := RSA2048
		if k.N.BitLen() > 3072 {
			kt = RSA4096
		}
		return &KeyPair{Type: kt, Private: k}, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return &KeyPair{Type: P256, Private: k}, nil
		case elliptic.P384():
			return &KeyPair{Type: P384, Private: k}, nil
		case elliptic.P521():
			return &KeyPair{Type: P521, Private: k}, nil
		default:
			return nil, acmeerrors.New(acmeerrors.CryptoError, "unsupported ECDSA curve")
		}
	case ed25519.PrivateKey:
		return &KeyPair{Type: Ed25519, Private: k}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}
