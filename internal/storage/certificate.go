package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/hook"
)

// CertsDir is the default certificates directory, spec §6.4.
const CertsDir = "/var/lib/acmed/certs/"

// FileType names which half of a certificate/key pair a file-name template
// var expands to, spec §3's CRR file_type.
type FileType string

const (
	FileTypeCert FileType = "cert"
	FileTypeKey  FileType = "key"
)

// NameVars renders spec §3's file-name template variables: name, key_type,
// file_type, ext. Wildcard "*" is rendered as "_" in identifiers per
// spec §4.7; NameVars applies SanitizeName to `name` itself.
func NameVars(name, keyType string, ft FileType) hook.Vars {
	return hook.Vars{
		"name":      SanitizeName(name),
		"key_type":  keyType,
		"file_type": string(ft),
		"ext":       "pem",
	}
}

// SanitizeName replaces "*" with "_" in identifier-derived name components,
// spec §4.7: "`*` in identifiers is rendered as `_` in file names."
func SanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '*' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

// WriteResult carries the paths WriteCertAndKey wrote, for the caller's
// post-operation hook context.
type WriteResult struct {
	CertPath string
	KeyPath  string
}

// WriteCertAndKey writes the certificate (0644) and, if keyPEM is non-nil
// (kp_reuse means it might already be on disk and unchanged), the private
// key (0600) to their templated paths, running file-pre-{create,edit} hooks
// before and file-post-{create,edit} hooks after each write — create vs
// edit decided per spec §4.7 by whether the target already exists.
func WriteCertAndKey(dir, certPath, keyPath string, certPEM, keyPEM []byte, certMode, keyMode os.FileMode, hooks *hook.Registry, hookNames []string, env hook.Env) (*WriteResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, acmeerrors.Wrap(acmeerrors.StorageError, err, "mkdir certs dir %s", dir)
	}
	resolved, err := hooks.Flatten(hookNames)
	if err != nil {
		return nil, err
	}

	if err := writeFileWithHooks(certPath, certPEM, certMode, resolved, env); err != nil {
		return nil, err
	}
	if keyPEM != nil {
		if err := writeFileWithHooks(keyPath, keyPEM, keyMode, resolved, env); err != nil {
			return nil, err
		}
	}
	return &WriteResult{CertPath: certPath, KeyPath: keyPath}, nil
}

func writeFileWithHooks(path string, content []byte, mode os.FileMode, hooks []*hook.Hook, env hook.Env) error {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	vars := hook.FileContext(name, dir, path)

	preTrigger, postTrigger := hook.FilePreCreate, hook.FilePostCreate
	if exists {
		preTrigger, postTrigger = hook.FilePreEdit, hook.FilePostEdit
	}
	if err := hook.RunSet(context.Background(), hook.ForTrigger(hooks, preTrigger), vars); err != nil {
		return err
	}

	if err := atomicWriteFile(path, content, mode); err != nil {
		return err
	}

	return hook.RunSet(context.Background(), hook.ForTrigger(hooks, postTrigger), vars)
}

func atomicWriteFile(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "close temp file")
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return acmeerrors.Wrap(acmeerrors.StorageError, err, "rename into place %s", path)
	}
	return nil
}
