package acmeclient

import (
	"context"
	"strings"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/hook"
	"github.com/letsencrypt/acmed/internal/identifier"
)

// IssuanceRequest bundles everything Issue needs for one certificate pass,
// spec §3's CRR plus the derived CSR.
type IssuanceRequest struct {
	Identifiers     []identifier.ACMEIdentifier
	AccountKey      *acmecrypto.KeyPair
	CSRKey          *acmecrypto.KeyPair
	CSRDigest       acmecrypto.Digest
	Subject         acmecrypto.SubjectAttributes
	PreferredRootCN string
	Hooks           *hook.Registry
	ChallengeHooks  []string // resolved hook/group names configured on this certificate
	Env             hook.Env
	NotBefore       string
	NotAfter        string
	TOSAgreed       bool
}

// Result is the successful outcome of Issue.
type Result struct {
	PEMChain []byte
}

// Issue drives spec §4.4's full state machine for one certificate:
// new-order, per-authorization challenge provisioning/validation via
// hooks, finalize, download. It returns a *acmeerrors.AcmedError
// classified per spec §4.4/§7 so the scheduler (internal/scheduler) can
// decide retry vs fatal.
func Issue(ctx context.Context, ep *Endpoint, acct *AccountState, req *IssuanceRequest, clk clock.Clock) (*Result, error) {
	if ep == nil {
		return nil, errNilEndpoint
	}
	clk = clockOrDefault(clk)

	if err := EnsureAccount(ctx, ep, acct, req.TOSAgreed); err != nil {
		return nil, err
	}

	order, err := NewOrder(ctx, ep, acct, req.Identifiers, req.NotBefore, req.NotAfter)
	if err != nil {
		return nil, err
	}

	for _, authzURL := range order.Authorizations {
		if err := solveAuthorization(ctx, ep, acct, authzURL, req, clk); err != nil {
			return nil, err
		}
	}

	order, _, err = FetchOrder(ctx, ep, acct, order.URL)
	if err != nil {
		return nil, err
	}
	if order.Status != "ready" && order.Status != "valid" {
		return nil, acmeerrors.New(acmeerrors.ChallengeError, "order %s not ready after authorizations completed (status=%s)", order.URL, order.Status)
	}

	csrDER, err := acmecrypto.BuildCSR(req.Identifiers, req.CSRKey, req.CSRDigest, req.Subject)
	if err != nil {
		return nil, err
	}

	finalized, err := Finalize(ctx, ep, acct, order, csrDER, clk, DefaultPollBackoff)
	if err != nil {
		return nil, err
	}

	pem, err := DownloadCertificate(ctx, ep, acct, finalized.Certificate, req.PreferredRootCN)
	if err != nil {
		return nil, err
	}
	return &Result{PEMChain: pem}, nil
}

// solveAuthorization implements spec §4.4's per-authorization loop
// (steps 1-8): read the authorization's own identifier (RFC 8555 does not
// guarantee order.Authorizations is submission-order), look up the matching
// configured identifier, select challenge, compute proof, run provisioning
// hooks, tell the server to validate, poll, run cleanup hooks (always).
func solveAuthorization(ctx context.Context, ep *Endpoint, acct *AccountState, authzURL string, req *IssuanceRequest, clk clock.Clock) error {
	authz, _, err := FetchAuthorization(ctx, ep, acct, authzURL)
	if err != nil {
		return err
	}
	id, ok := matchIdentifier(req.Identifiers, authz.Identifier)
	if !ok {
		return acmeerrors.New(acmeerrors.ProtocolError, "authorization %s identifier %s:%s matches no configured identifier", authzURL, authz.Identifier.Type, authz.Identifier.Value)
	}
	if authz.Status == "valid" {
		return nil
	}

	chall, err := SelectChallenge(authz, id.Challenge)
	if err != nil {
		return err
	}
	proof, err := BuildProof(chall, id, acct.Key)
	if err != nil {
		return err
	}

	provisionTrigger, cleanTrigger := triggersFor(id.Challenge)
	hooks, err := req.Hooks.Flatten(req.ChallengeHooks)
	if err != nil {
		return err
	}
	provision := hook.ForTrigger(hooks, provisionTrigger)
	clean := hook.ForTrigger(hooks, cleanTrigger)

	vars := hook.ChallengeContext(id.Value, proof.IdentifierTLSALPN, proof.FileName, proof.Proof, string(id.Challenge), string(req.CSRKey.Type), false)
	runErr := hook.RunSet(ctx, provision, vars)

	// Cleanup hooks always run, even on provisioning failure or eventual
	// challenge failure (spec §4.4 step 8, invariant in §8: "a cleanup
	// hook ... runs exactly once, even if the challenge ultimately
	// fails").
	defer func() {
		cleanVars := hook.ChallengeContext(id.Value, proof.IdentifierTLSALPN, proof.FileName, proof.Proof, string(id.Challenge), string(req.CSRKey.Type), true)
		if cerr := hook.RunSet(ctx, clean, cleanVars); cerr != nil {
			acmelog.Get().Warn("cleanup hook failed", "identifier", id.Value, "error", cerr.Error())
		}
	}()

	if runErr != nil {
		return runErr
	}

	if err := RespondToChallenge(ctx, ep, acct, chall.URL); err != nil {
		return err
	}
	final, err := PollAuthorization(ctx, ep, acct, authzURL, clk, DefaultPollBackoff)
	if err != nil {
		return err
	}
	if final.Status != "valid" {
		return acmeerrors.New(acmeerrors.ChallengeError, "authorization %s for %s is invalid", authzURL, id.Value)
	}
	return nil
}

// matchIdentifier finds the configured identifier a wire identifier refers
// to. A wildcard authorization's identifier omits the "*." prefix (RFC 8555
// §7.1.4), so wildcard values are compared with it stripped.
func matchIdentifier(ids []identifier.ACMEIdentifier, wire WireIdentifier) (identifier.ACMEIdentifier, bool) {
	for _, id := range ids {
		val := id.Value
		if id.IsWildcard() {
			val = strings.TrimPrefix(val, "*.")
		}
		if string(id.Type) == wire.Type && val == wire.Value {
			return id, true
		}
	}
	return identifier.ACMEIdentifier{}, false
}

func triggersFor(ct identifier.ChallengeType) (provision, clean hook.Trigger) {
	switch ct {
	case identifier.ChallengeHTTP01:
		return hook.ChallengeHTTP01, hook.ChallengeHTTP01Clean
	case identifier.ChallengeDNS01:
		return hook.ChallengeDNS01, hook.ChallengeDNS01Clean
	default:
		return hook.ChallengeTLSALPN01, hook.ChallengeTLSALPN01Clean
	}
}

// IdentifiersCSV joins identifier values for the post-operation hook
// context (spec §4.6's "identifiers").
func IdentifiersCSV(ids []identifier.ACMEIdentifier) string {
	vals := make([]string, len(ids))
	for i, id := range ids {
		vals[i] = id.Value
	}
	return strings.Join(vals, ",")
}
