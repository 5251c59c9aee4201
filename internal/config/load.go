package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/identifier"
)

// maxIncludeDepth bounds include-by-glob recursion, spec §6.3's "bounded
// recursion; duplicate inclusion is a no-op."
const maxIncludeDepth = 16

// Load parses the root config file, resolves include[] globs, and
// validates the result against spec §4/§8's boundary tests (wildcard vs
// tls-alpn-01/http-01, IP vs dns-01, hook cycles, duplicate cert names).
func Load(path string) (*Config, error) {
	cfg := &Config{Global: DefaultGlobal()}
	seen := map[string]bool{}
	if err := loadInto(cfg, path, seen, 0); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadInto(cfg *Config, path string, seen map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return acmeerrors.New(acmeerrors.ConfigError, "include recursion exceeds depth %d at %s", maxIncludeDepth, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.ConfigError, err, "resolve path %s", path)
	}
	if seen[abs] {
		return nil // spec §6.3: duplicate inclusion is a no-op
	}
	seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.ConfigError, err, "read config file %s", abs)
	}
	var fragment Config
	if err := toml.Unmarshal(data, &fragment); err != nil {
		return acmeerrors.Wrap(acmeerrors.ConfigError, err, "parse TOML %s", abs)
	}

	mergeFragment(cfg, &fragment, depth == 0)

	baseDir := filepath.Dir(abs)
	for _, inc := range fragment.Includes {
		for _, pattern := range inc.Globs {
			full := pattern
			if !filepath.IsAbs(full) {
				full = filepath.Join(baseDir, pattern)
			}
			matches, err := filepath.Glob(full)
			if err != nil {
				return acmeerrors.Wrap(acmeerrors.ConfigError, err, "invalid glob %q", pattern)
			}
			for _, m := range matches {
				if err := loadInto(cfg, m, seen, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// mergeFragment appends a fragment's sections onto the accumulating
// config. The global section from the root file wins; fragments may only
// extend endpoint/account/certificate/hook/group lists.
func mergeFragment(cfg *Config, fragment *Config, isRoot bool) {
	if isRoot && fragment.Global.RateLimit.Number != 0 {
		cfg.Global = fragment.Global
	}
	cfg.Endpoints = append(cfg.Endpoints, fragment.Endpoints...)
	cfg.Accounts = append(cfg.Accounts, fragment.Accounts...)
	cfg.Certificates = append(cfg.Certificates, fragment.Certificates...)
	cfg.Hooks = append(cfg.Hooks, fragment.Hooks...)
	cfg.Groups = append(cfg.Groups, fragment.Groups...)
}

// Validate enforces the config-load-time boundary tests spec §8 lists:
// wildcard identifiers restricted to dns-01, IP identifiers barred from
// dns-01, unique (name, key-type) certificates, and hook-group cycles.
// Every certificate's and account's configured hooks[] list is run through
// hook.Registry.Flatten here so a cycle (or an unknown hook/group name) is
// a ConfigError at load time, not a surprise the first time a trigger that
// reaches it actually fires.
func Validate(cfg *Config) error {
	hooks := buildHookRegistry(cfg)

	seenCertKey := map[string]bool{}
	for _, cert := range cfg.Certificates {
		key := cert.Name + "/" + cert.KeyType
		if seenCertKey[key] {
			return acmeerrors.New(acmeerrors.ConfigError, "duplicate certificate (name, key_type) pair %q", key)
		}
		seenCertKey[key] = true

		if len(cert.Identifiers) == 0 {
			return acmeerrors.New(acmeerrors.ConfigError, "certificate %q has no identifiers", cert.Name)
		}
		for _, id := range cert.Identifiers {
			acmeID := identifier.ACMEIdentifier{
				Type:      identifier.Type(id.Type),
				Value:     id.Value,
				Challenge: identifier.ChallengeType(id.Challenge),
			}
			if err := acmeID.Validate(); err != nil {
				return acmeerrors.Wrap(acmeerrors.ConfigError, err, "certificate %q", cert.Name)
			}
		}
		if _, err := hooks.Flatten(cert.Hooks); err != nil {
			return acmeerrors.Wrap(acmeerrors.ConfigError, err, "certificate %q hooks", cert.Name)
		}
	}
	for _, acct := range cfg.Accounts {
		if _, err := hooks.Flatten(acct.Hooks); err != nil {
			return acmeerrors.Wrap(acmeerrors.ConfigError, err, "account %q hooks", acct.Name)
		}
	}
	return nil
}
