// Package hook implements spec §4.3's template/hook renderer and §4.6's
// hook engine: resolving hook names/groups, selecting hooks whose declared
// types include the current trigger, and spawning external processes.
package hook

import (
	"fmt"
	"os"
	"strings"
)

// Vars is the flat string-keyed variable context a template renders
// against (spec §4.6's per-trigger variable tables). Values that are
// naturally booleans (is_clean_hook, is_success) are pre-rendered to "true"
// / "false" by the caller.
type Vars map[string]string

// Env is the hook-specific environment overlay merged onto process env
// (spec §6.3's "env{}", last-writer-wins in config-merge order).
type Env map[string]string

// Render implements spec §9's minimal template language: `{{ var }}`,
// `{{ env.NAME | default('x') }}`, and `{{#if var}}...{{else}}...{{/if}}`.
// It is a small hand-rolled recursive-descent renderer rather than a
// general-purpose engine (text/template's syntax doesn't match the source
// dialect's `{{#if}}` blocks or `| default(...)` filter), following the
// teacher's convention of hand-rolling small parsers for wire/text formats
// close to spec (see policyasn1, iana/tld.go) rather than reaching for a
// heavyweight dependency when the grammar is this small.
func Render(tmpl string, vars Vars, env Env) (string, error) {
	out, rest, err := renderUntil(tmpl, vars, env, "")
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("hook template: unexpected trailing %q", rest)
	}
	return out, nil
}

// renderUntil renders tmpl up to (not including) a bare "{{else}}" or
// "{{/if}}" marker if stopAt is non-empty, returning the unconsumed
// remainder starting at that marker.
func renderUntil(tmpl string, vars Vars, env Env, stopAt string) (string, string, error) {
	var b strings.Builder
	for {
		i := strings.Index(tmpl, "{{")
		if i < 0 {
			b.WriteString(tmpl)
			return b.String(), "", nil
		}
		b.WriteString(tmpl[:i])
		j := strings.Index(tmpl[i:], "}}")
		// {{#if ...}} blocks nest, so a naive Index for the closing "}}"
		// is only safe for the tag-opening brace itself, not for finding
		// the matching {{/if}}; that's handled by the recursive renderUntil
		// calls below.
		if strings.HasPrefix(tmpl[i:], "{{#if") {
			if j < 0 {
				return "", "", fmt.Errorf("hook template: unterminated {{#if}}")
			}
			cond := strings.TrimSpace(tmpl[i+5 : i+j])
			body := tmpl[i+j+2:]
			thenPart, afterThen, err := renderUntil(body, vars, env, "else|/if")
			if err != nil {
				return "", "", err
			}
			var elsePart, afterElse string
			if strings.HasPrefix(afterThen, "{{else}}") {
				elsePart, afterElse, err = renderUntil(afterThen[len("{{else}}"):], vars, env, "/if")
				if err != nil {
					return "", "", err
				}
			} else {
				elsePart = ""
				afterElse = afterThen
			}
			if !strings.HasPrefix(afterElse, "{{/if}}") {
				return "", "", fmt.Errorf("hook template: unterminated {{#if}}")
			}
			tmpl = afterElse[len("{{/if}}"):]
			if truthy(cond, vars) {
				b.WriteString(thenPart)
			} else {
				b.WriteString(elsePart)
			}
			continue
		}
		if j < 0 {
			return "", "", fmt.Errorf("hook template: unterminated {{")
		}
		tag := strings.TrimSpace(tmpl[i+2 : i+j])
		if stopAt != "" && (tag == "else" || tag == "/if") {
			for _, marker := range strings.Split(stopAt, "|") {
				if tag == marker {
					return b.String(), tmpl[i:], nil
				}
			}
		}
		val, err := evalTag(tag, vars, env)
		if err != nil {
			return "", "", err
		}
		b.WriteString(val)
		tmpl = tmpl[i+j+2:]
	}
}

func truthy(cond string, vars Vars) bool {
	v, ok := vars[cond]
	return ok && v != "" && v != "false" && v != "0"
}

// evalTag resolves one `{{ ... }}` tag body: a bare variable name, or
// `env.NAME` / `env.NAME | default('x')`.
func evalTag(tag string, vars Vars, env Env) (string, error) {
	if strings.HasPrefix(tag, "env.") {
		rest := strings.TrimSpace(tag[len("env."):])
		name := rest
		def := ""
		hasDef := false
		if idx := strings.Index(rest, "|"); idx >= 0 {
			name = strings.TrimSpace(rest[:idx])
			filter := strings.TrimSpace(rest[idx+1:])
			const prefix = "default("
			if strings.HasPrefix(filter, prefix) && strings.HasSuffix(filter, ")") {
				def = strings.Trim(filter[len(prefix):len(filter)-1], `'"`)
				hasDef = true
			}
		}
		if v, ok := env[name]; ok {
			return v, nil
		}
		if v, ok := os.LookupEnv(name); ok {
			return v, nil
		}
		if hasDef {
			return def, nil
		}
		return "", nil
	}
	v, ok := vars[tag]
	if !ok {
		return "", fmt.Errorf("hook template: unknown variable %q", tag)
	}
	return v, nil
}
