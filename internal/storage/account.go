// Package storage implements spec §4.7: account-bundle persistence and
// certificate/key file writing, both via atomic write-temp-then-rename so a
// crash-recovering read always sees either the old or the complete new
// content (spec §8's account-bundle-write invariant).
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
)

// accountBundleVersion is the schema version byte spec §3/§6.4 requires
// ("internal format versioned").
const accountBundleVersion = 1

// AccountBundle is the single serialized-per-account-name blob spec §4.7
// describes: current + historical keys, one URL per endpoint, contacts.
type AccountBundle struct {
	Version    byte
	Name       string
	Contacts   []string
	KeyPEM     []byte // current key, PKCS#8 PEM
	KeyType    acmecrypto.KeyType
	KeyHistory [][]byte // prior keys, oldest first, PKCS#8 PEM
	// URLByEndpoint maps endpoint name to the registered ACME account URL,
	// spec §3's "(account-name, endpoint) pair has at most one registered
	// URL".
	URLByEndpoint map[string]string
}

func init() {
	gob.Register(AccountBundle{})
}

// AccountsDir is the default accounts directory, spec §6.4.
const AccountsDir = "/var/lib/acmed/accounts/"

func accountPath(dir, name string) string {
	return filepath.Join(dir, name+".bin")
}

// LoadAccountBundle reads and gob-decodes an account bundle. A missing file
// is not an error: callers treat it as "no bundle yet" and create one on
// first use, per spec §3's Account lifecycle ("created/updated lazily on
// first use").
func LoadAccountBundle(dir, name string) (*AccountBundle, error) {
	data, err := os.ReadFile(accountPath(dir, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.StorageError, err, "read account bundle %s", name)
	}
	var b AccountBundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.StorageError, err, "decode account bundle %s", name)
	}
	return &b, nil
}

// SaveAccountBundle atomically replaces the account bundle file: write to
// a temp file in the same directory, fsync, then rename over the target.
func SaveAccountBundle(dir string, b *AccountBundle) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "mkdir accounts dir %s", dir)
	}
	b.Version = accountBundleVersion

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "encode account bundle %s", b.Name)
	}

	target := accountPath(dir, b.Name)
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%s-*.bin.tmp", b.Name))
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "create temp account file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "write temp account file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "fsync temp account file")
	}
	if err := tmp.Close(); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "close temp account file")
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "chmod temp account file")
	}
	if err := os.Rename(tmpName, target); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "rename account bundle into place %s", target)
	}
	return nil
}
