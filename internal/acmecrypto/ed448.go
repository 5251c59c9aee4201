package acmecrypto

import (
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/cloudflare/circl/sign/ed448"
)

// oidEd448 is id-Ed448, RFC 8410 §3. Go's stdlib x509 package does not know
// this OID, so PKCS#8 (de)serialization for Ed448 keys is hand-rolled here
// following RFC 5958's OneAsymmetricKey / RFC 8410's CurvePrivateKey shape,
// the same two-layer OCTET STRING nesting Go's own Ed25519 marshaler uses
// internally for x509.MarshalPKCS8PrivateKey.
var oidEd448 = asn1.ObjectIdentifier{1, 3, 101, 113}

type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

func marshalEd448PKCS8(priv ed448.PrivateKey) ([]byte, error) {
	seed := priv.Seed()
	curveKey, err := asn1.Marshal(seed)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(pkcs8{
		Version:    0,
		Algo:       pkix.AlgorithmIdentifier{Algorithm: oidEd448},
		PrivateKey: curveKey,
	})
}

func tryEd448(der []byte) (KeyType, ed448Signer, error) {
	var p pkcs8
	if _, err := asn1.Unmarshal(der, &p); err != nil {
		return "", ed448Signer{}, err
	}
	if !p.Algo.Algorithm.Equal(oidEd448) {
		return "", ed448Signer{}, errNotEd448
	}
	var seed []byte
	if _, err := asn1.Unmarshal(p.PrivateKey, &seed); err != nil {
		return "", ed448Signer{}, err
	}
	priv := ed448.NewKeyFromSeed(seed)
	return Ed448, ed448Signer{priv}, nil
}

var errNotEd448 = &notEd448Error{}

type notEd448Error struct{}

func (*notEd448Error) Error() string { return "not an Ed448 key" }
