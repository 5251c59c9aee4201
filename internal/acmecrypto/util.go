package acmecrypto

import (
	"encoding/base64"
	"encoding/json"
)

func base64URLNoPad(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
