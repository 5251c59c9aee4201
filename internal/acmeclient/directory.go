package acmeclient

import (
	"context"
	"encoding/json"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// FetchDirectory GETs and caches the endpoint's directory object, per
// spec §4.4 "Directory": must contain newNonce/newAccount/newOrder.
func FetchDirectory(ctx context.Context, t *Transport, url string) (*Directory, error) {
	body, _, err := t.GetJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	var d Directory
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.ProtocolError, err, "parse directory")
	}
	if d.NewNonce == "" || d.NewAccount == "" || d.NewOrder == "" {
		return nil, acmeerrors.New(acmeerrors.ProtocolError, "directory missing required fields")
	}
	return &d, nil
}
