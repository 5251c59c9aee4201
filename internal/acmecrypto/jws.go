package acmecrypto

import (
	"github.com/go-jose/go-jose/v4"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// SignatureAlgorithm maps a KeyType to its JWS alg: RS256 for both RSA
// sizes, ES256/384/512 for the NIST curves, EdDSA for Ed25519 and Ed448 for
// Ed448. PS256 is never selected; RSA keys always sign with RS256.
func SignatureAlgorithm(kp *KeyPair) (jose.SignatureAlgorithm, error) {
	switch kp.Type {
	case RSA2048, RSA4096:
		return jose.RS256, nil
	case P256:
		return jose.ES256, nil
	case P384:
		return jose.ES384, nil
	case P521:
		return jose.ES512, nil
	case Ed25519:
		return jose.EdDSA, nil
	case Ed448:
		// go-jose has no Ed448 support; Ed448 JWS objects are hand-signed
		// in signEd448 below rather than through jose.NewSigner.
		return jose.SignatureAlgorithm("Ed448"), nil
	default:
		return "", acmeerrors.New(acmeerrors.CryptoError, "UnsupportedAlgorithm: %s", kp.Type)
	}
}

// NonceSource lets go-jose's signer insert a fresh anti-replay nonce into
// the protected header directly from the transport's nonce pool (§4.3),
// matching jose.Signer's NonceSource hook rather than threading the nonce
// through every caller by hand.
type NonceSource interface {
	Nonce() (string, error)
}

// SignJWS builds the flattened JWS per RFC 7515 for one ACME request.
// When acctURL is empty the protected header carries "jwk" (pre-account
// requests: new-account with onlyReturnExisting, or account creation
// itself); otherwise it carries "kid" set to acctURL.
func SignJWS(kp *KeyPair, acctURL, url string, nonces NonceSource, payload []byte) (string, error) {
	alg, err := SignatureAlgorithm(kp)
	if err != nil {
		return "", err
	}
	if kp.Type == Ed448 {
		return signEd448(kp, acctURL, url, nonces, payload)
	}

	opts := &jose.SignerOptions{NonceSource: nonces}
	opts = opts.WithHeader("url", url)
	if acctURL != "" {
		opts.EmbedJWK = false
		opts = opts.WithHeader("kid", acctURL)
	} else {
		opts.EmbedJWK = true
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: kp.Private}, opts)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "build jws signer")
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "sign jws")
	}
	return obj.FullSerialize(), nil
}

// SignEAB builds the inner JWS for external-account binding, RFC 8555
// §7.3.4: signed with the CA-issued MAC key (HMAC keyed by algorithm, e.g.
// HS256), protected header carries "kid" (the EAB key identifier) and
// "url", payload is the new account key's JWK — never a "nonce", per the
// RFC. The caller nests the result as the "externalAccountBinding" member
// of the outer new-account payload, which is itself signed by SignJWS with
// the account's own key.
func SignEAB(eabKeyID string, macKey []byte, macAlg jose.SignatureAlgorithm, url string, accountJWK *jose.JSONWebKey) (string, error) {
	payload, err := accountJWK.MarshalJSON()
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal account jwk for eab")
	}
	opts := (&jose.SignerOptions{}).WithHeader("url", url).WithHeader("kid", eabKeyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: macAlg, Key: macKey}, opts)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "build eab signer")
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "sign eab")
	}
	return obj.FullSerialize(), nil
}

// signEd448 hand-builds the flattened JWS for Ed448 keys, since go-jose
// does not implement RFC 8032's Ed448 variant. The structure mirrors what
// jose.Signer.Sign/FullSerialize produce for every other algorithm so
// callers never need to special-case the result.
func signEd448(kp *KeyPair, acctURL, url string, nonces NonceSource, payload []byte) (string, error) {
	signer, ok := kp.Private.(ed448Signer)
	if !ok {
		return "", acmeerrors.New(acmeerrors.CryptoError, "key is not Ed448")
	}
	header := map[string]interface{}{"alg": "Ed448", "url": url}
	if nonces != nil {
		nonce, err := nonces.Nonce()
		if err != nil {
			return "", acmeerrors.Wrap(acmeerrors.TransportError, err, "fetch nonce for ed448 jws")
		}
		header["nonce"] = nonce
	}
	if acctURL != "" {
		header["kid"] = acctURL
	} else {
		header["jwk"] = JWK(kp)
	}
	protectedJSON, err := jsonMarshal(header)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal ed448 protected header")
	}
	protected := base64URLNoPad(protectedJSON)
	payloadB64 := base64URLNoPad(payload)
	signingInput := []byte(protected + "." + payloadB64)
	sig := ed448.Sign(signer.PrivateKey, signingInput, "")
	out := struct {
		Protected string `json:"protected"`
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
	}{protected, payloadB64, base64URLNoPad(sig)}
	result, err := jsonMarshal(out)
	if err != nil {
		return "", acmeerrors.Wrap(acmeerrors.CryptoError, err, "marshal ed448 jws")
	}
	return string(result), nil
}
