package config

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmeclient"
	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
	"github.com/letsencrypt/acmed/internal/hook"
	"github.com/letsencrypt/acmed/internal/identifier"
	"github.com/letsencrypt/acmed/internal/scheduler"
	"github.com/letsencrypt/acmed/internal/storage"
)

// Runtime is the fully wired process state Build assembles from a parsed
// Config: one acmeclient.Endpoint and rate limiter per configured endpoint,
// one acmeclient.AccountState per account (loaded from its on-disk bundle
// if present), a shared hook.Registry, and one scheduler.CertificateSpec
// per certificate.
type Runtime struct {
	Endpoints    map[string]*acmeclient.Endpoint
	Accounts     map[string]*acmeclient.AccountState
	Hooks        *hook.Registry
	Certificates []*scheduler.CertificateSpec
	AccountsDir  string
	CertsDir     string
	TOSAgreed    map[string]bool
}

// Build fetches every endpoint's directory, loads or lazily prepares every
// account, and assembles a CertificateSpec per configured certificate, per
// spec §4.4's "account discovery/creation is lazy, on first use" and §3's
// "(account-name, endpoint) pair has at most one registered URL" invariant.
// metrics may be nil, in which case the per-endpoint limiter and nonce pool
// simply go unobserved.
func Build(ctx context.Context, cfg *Config, userAgent string, accountsDir, certsDir string, clk clock.Clock, metrics *acmemetrics.Metrics) (*Runtime, error) {
	roots, err := loadRootCerts(cfg.Global.RootCertificates)
	if err != nil {
		return nil, err
	}
	hooks := buildHookRegistry(cfg)

	rt := &Runtime{
		Endpoints:   map[string]*acmeclient.Endpoint{},
		Accounts:    map[string]*acmeclient.AccountState{},
		Hooks:       hooks,
		AccountsDir: accountsDir,
		CertsDir:    certsDir,
		TOSAgreed:   map[string]bool{},
	}

	for _, epCfg := range cfg.Endpoints {
		epRoots := roots
		if len(epCfg.RootCertificates) > 0 {
			r, err := loadRootCerts(epCfg.RootCertificates)
			if err != nil {
				return nil, err
			}
			epRoots = r
		}
		rl := cfg.Global.RateLimit
		if epCfg.RateLimits != nil {
			rl = *epCfg.RateLimits
		}
		limiter := acmeclient.NewLimiter(acmeclient.RateLimit{
			Requests: rl.Number,
			Window:   rateUnitToDuration(rl.TimeUnit),
		})
		if metrics != nil {
			limiter.SetMetrics(epCfg.Name, metrics.RateLimiterWaits)
		}
		transport, err := acmeclient.NewTransport(userAgent, epRoots, limiter, clk, acmeclient.DefaultRetryPolicy)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.ConfigError, err, "build transport for endpoint %q", epCfg.Name)
		}
		ep, err := acmeclient.NewEndpoint(ctx, epCfg.Name, epCfg.URL, transport)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.ConfigError, err, "fetch directory for endpoint %q", epCfg.Name)
		}
		if metrics != nil {
			ep.Transport.Nonces().SetMetric(metrics.NonceCacheSize)
		}
		rt.Endpoints[epCfg.Name] = ep
		rt.TOSAgreed[epCfg.Name] = epCfg.TOSAgreed
	}

	for _, acctCfg := range cfg.Accounts {
		acct, err := loadOrCreateAccount(accountsDir, acctCfg)
		if err != nil {
			return nil, err
		}
		rt.Accounts[acctCfg.Name] = acct
	}

	for _, certCfg := range cfg.Certificates {
		spec, err := buildCertificateSpec(certCfg, cfg.Global, rt, certsDir)
		if err != nil {
			return nil, err
		}
		rt.Certificates = append(rt.Certificates, spec)
	}

	return rt, nil
}

func rateUnitToDuration(unit string) time.Duration {
	switch unit {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	default:
		return time.Second
	}
}

func buildHookRegistry(cfg *Config) *hook.Registry {
	hooks := make([]*hook.Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		types := make([]hook.Trigger, 0, len(h.Type))
		for _, t := range h.Type {
			types = append(types, hook.Trigger(t))
		}
		hooks = append(hooks, &hook.Hook{
			Name:         h.Name,
			Types:        types,
			Cmd:          h.Cmd,
			Args:         h.Args,
			Stdin:        h.Stdin,
			StdinStr:     h.StdinStr,
			Stdout:       h.Stdout,
			AllowFailure: h.AllowFailure,
			Env:          hook.Env(h.Env),
		})
	}
	groups := make([]*hook.Group, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		groups = append(groups, &hook.Group{Name: g.Name, Hooks: g.Hooks})
	}
	return hook.NewRegistry(hooks, groups)
}

func loadOrCreateAccount(accountsDir string, acctCfg Account) (*acmeclient.AccountState, error) {
	bundle, err := storage.LoadAccountBundle(accountsDir, acctCfg.Name)
	if err != nil {
		return nil, err
	}
	kt := acmecrypto.KeyType(acctCfg.KeyType)
	if kt == "" {
		kt = acmecrypto.Ed25519
	}

	if bundle == nil {
		kp, err := acmecrypto.Generate(kt)
		if err != nil {
			return nil, err
		}
		acct := &acmeclient.AccountState{Name: acctCfg.Name, Contacts: acctCfg.Contacts, Key: kp}
		if err := saveAccount(accountsDir, acct); err != nil {
			return nil, err
		}
		attachEAB(acct, acctCfg)
		return acct, nil
	}

	kp, err := acmecrypto.LoadKeyPair(bundle.KeyPEM)
	if err != nil {
		return nil, err
	}
	acct := &acmeclient.AccountState{
		Name:     acctCfg.Name,
		Contacts: bundle.Contacts,
		Key:      kp,
	}
	if len(bundle.URLByEndpoint) == 1 {
		for _, v := range bundle.URLByEndpoint {
			acct.URL = v
		}
	}
	for _, histPEM := range bundle.KeyHistory {
		hkp, err := acmecrypto.LoadKeyPair(histPEM)
		if err == nil {
			acct.KeyHistory = append(acct.KeyHistory, hkp)
		}
	}
	attachEAB(acct, acctCfg)
	return acct, nil
}

func attachEAB(acct *acmeclient.AccountState, acctCfg Account) {
	if acctCfg.ExternalAccount == nil {
		return
	}
	keyBytes, err := base64.RawURLEncoding.DecodeString(acctCfg.ExternalAccount.Key)
	if err != nil {
		return
	}
	acct.EAB = &acmeclient.ExternalAccountBinding{
		KeyID:     acctCfg.ExternalAccount.Identifier,
		MACKey:    keyBytes,
		Algorithm: jose.SignatureAlgorithm(acctCfg.ExternalAccount.SignatureAlgorithm),
	}
}

func saveAccount(accountsDir string, acct *acmeclient.AccountState) error {
	keyPEM, err := acmecrypto.MarshalPKCS8(acct.Key)
	if err != nil {
		return err
	}
	bundle := &storage.AccountBundle{
		Name:     acct.Name,
		Contacts: acct.Contacts,
		KeyPEM:   keyPEM,
		KeyType:  acct.Key.Type,
	}
	return storage.SaveAccountBundle(accountsDir, bundle)
}

func buildCertificateSpec(certCfg Certificate, global Global, rt *Runtime, certsDir string) (*scheduler.CertificateSpec, error) {
	ep, ok := rt.Endpoints[certCfg.Endpoint]
	if !ok {
		return nil, acmeerrors.New(acmeerrors.ConfigError, "certificate %q references unknown endpoint %q", certCfg.Name, certCfg.Endpoint)
	}
	acct, ok := rt.Accounts[certCfg.Account]
	if !ok {
		return nil, acmeerrors.New(acmeerrors.ConfigError, "certificate %q references unknown account %q", certCfg.Name, certCfg.Account)
	}

	ids := make([]identifier.ACMEIdentifier, 0, len(certCfg.Identifiers))
	for _, idCfg := range certCfg.Identifiers {
		id := identifier.ACMEIdentifier{
			Type:      identifier.Type(idCfg.Type),
			Value:     idCfg.Value,
			Challenge: identifier.ChallengeType(idCfg.Challenge),
		}
		if err := id.Validate(); err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.ConfigError, err, "certificate %q", certCfg.Name)
		}
		ids = append(ids, id)
	}

	kt := acmecrypto.KeyType(certCfg.KeyType)
	if kt == "" {
		kt = acmecrypto.Ed25519
	}
	digest := acmecrypto.Digest(certCfg.CSRDigest)
	if digest == "" {
		digest = acmecrypto.SHA256
	}

	renewDelay := global.RenewDelay.Duration
	if certCfg.RenewDelay != nil {
		renewDelay = certCfg.RenewDelay.Duration
	}

	certMode := os.FileMode(global.CertFileMode)
	keyMode := os.FileMode(global.PKFileMode)

	name := storage.SanitizeName(certCfg.Name)
	certDir := certsDir
	if certCfg.Directory != "" {
		certDir = certCfg.Directory
	}
	certPath := filepath.Join(certDir, fmt.Sprintf("%s.%s.cert.pem", name, kt))
	keyPath := filepath.Join(certDir, fmt.Sprintf("%s.%s.key.pem", name, kt))

	return &scheduler.CertificateSpec{
		Name:            certCfg.Name,
		Endpoint:        ep,
		Account:         acct,
		AccountName:     certCfg.Account,
		Identifiers:     ids,
		KeyType:         kt,
		CSRDigest:       digest,
		Subject:         subjectFromConfig(certCfg.SubjectAttributes),
		RenewalDelay:    renewDelay,
		KeyPairReuse:    certCfg.KPReuse,
		Hooks:           rt.Hooks,
		ChallengeHooks:  certCfg.Hooks,
		PostOpHooks:     certCfg.Hooks,
		Env:             hook.Env(certCfg.Env),
		CertPath:        certPath,
		KeyPath:         keyPath,
		CertsDir:        certDir,
		CertFileMode:    certMode,
		KeyFileMode:     keyMode,
		TOSAgreed:       rt.TOSAgreed[certCfg.Endpoint],
		PreferredRootCN: certCfg.PreferredChain,
		AccountsDir:     rt.AccountsDir,
	}, nil
}

func subjectFromConfig(s SubjectAttributes) acmecrypto.SubjectAttributes {
	out := acmecrypto.SubjectAttributes{CommonName: s.CommonName, SerialNumber: s.SerialNumber}
	if s.Organization != "" {
		out.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		out.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	if s.Country != "" {
		out.Country = []string{s.Country}
	}
	if s.Locality != "" {
		out.Locality = []string{s.Locality}
	}
	if s.Province != "" {
		out.Province = []string{s.Province}
	}
	if s.StreetAddress != "" {
		out.StreetAddress = []string{s.StreetAddress}
	}
	if s.PostalCode != "" {
		out.PostalCode = []string{s.PostalCode}
	}
	return out
}

func loadRootCerts(paths []string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, acmeerrors.Wrap(acmeerrors.ConfigError, err, "read root certificate %s", p)
		}
		for {
			block, rest := pem.Decode(data)
			if block == nil {
				break
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, acmeerrors.Wrap(acmeerrors.ConfigError, err, "parse root certificate %s", p)
			}
			out = append(out, cert)
			data = rest
		}
	}
	return out, nil
}
