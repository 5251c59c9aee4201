package hook

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
)

// metrics is set once at startup via SetMetrics; nil until then, so tests
// and callers that never wire metrics keep working unobserved.
var metrics *acmemetrics.Metrics

// SetMetrics wires HookDuration so every hook invocation is observed,
// spec §3's ambient-stack surface that must be carried regardless of which
// domain features a given Non-goals list excludes.
func SetMetrics(m *acmemetrics.Metrics) { metrics = m }

// Run executes one Hook against vars, spec §4.6: render cmd/args/stdin(or
// stdin_str)/stdout through the template renderer, spawn with process env
// overlaid by h.Env, wait, classify exit code. Exit 0 is success;
// non-zero fails the hook, which is fatal to the enclosing hook set unless
// h.AllowFailure.
func Run(ctx context.Context, h *Hook, vars Vars) error {
	if err := h.validateStdin(); err != nil {
		return err
	}
	cmdStr, err := Render(h.Cmd, vars, h.Env)
	if err != nil {
		return acmeerrors.Wrap(acmeerrors.HookError, err, "render hook %q cmd", h.Name)
	}
	args := make([]string, 0, len(h.Args))
	for _, a := range h.Args {
		rendered, err := Render(a, vars, h.Env)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "render hook %q arg", h.Name)
		}
		args = append(args, rendered)
	}

	cmd := exec.CommandContext(ctx, cmdStr, args...)
	cmd.Env = mergeEnv(os.Environ(), h.Env)

	if h.StdinStr != "" {
		literal, err := Render(h.StdinStr, vars, h.Env)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "render hook %q stdin_str", h.Name)
		}
		cmd.Stdin = bytes.NewReader([]byte(literal))
	} else if h.Stdin != "" {
		path, err := Render(h.Stdin, vars, h.Env)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "render hook %q stdin path", h.Name)
		}
		f, err := os.Open(path)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "open hook %q stdin file %s", h.Name, path)
		}
		defer f.Close()
		cmd.Stdin = f
	}

	var stdoutFile *os.File
	if h.Stdout != "" {
		path, err := Render(h.Stdout, vars, h.Env)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "render hook %q stdout path", h.Name)
		}
		stdoutFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return acmeerrors.Wrap(acmeerrors.HookError, err, "open hook %q stdout file %s", h.Name, path)
		}
		defer stdoutFile.Close()
		cmd.Stdout = stdoutFile
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	acmelog.Get().Debug("running hook", "hook", h.Name, "cmd", cmdStr)
	start := time.Now()
	err = cmd.Run()
	if metrics != nil {
		metrics.HookDuration.WithLabelValues(h.Name, string(triggerLabel(h))).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		werr := acmeerrors.Wrap(acmeerrors.HookError, err, "hook %q exited non-zero: %s", h.Name, stderr.String())
		if h.AllowFailure {
			acmelog.Get().Warn(werr.Error())
			return nil
		}
		return werr
	}
	return nil
}

// triggerLabel picks a single representative trigger for the HookDuration
// metric's label; a hook fired for more than one trigger type reports its
// first declared one.
func triggerLabel(h *Hook) Trigger {
	if len(h.Types) == 0 {
		return ""
	}
	return h.Types[0]
}

// RunSet runs every hook in hooks sequentially in declared order (spec §5's
// "Hook invocations within a single hook set are sequential in declared
// order"), stopping at the first non-allow_failure failure.
func RunSet(ctx context.Context, hooks []*Hook, vars Vars) error {
	for _, h := range hooks {
		if err := Run(ctx, h, vars); err != nil {
			return err
		}
	}
	return nil
}

// mergeEnv builds the child process environment as process env ∪
// configured env (spec §4.6), with a configured var winning over an
// inherited one of the same name. exec.Cmd hands this slice straight to
// the OS, and a name appearing twice resolves to whichever occurrence
// getenv() sees first — so any base entry an overlay key shadows must be
// dropped, not just placed before it.
func mergeEnv(base []string, overlay Env) []string {
	if len(overlay) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if ok {
			if _, shadowed := overlay[name]; shadowed {
				continue
			}
		}
		out = append(out, kv)
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
