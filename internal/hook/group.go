package hook

import "github.com/letsencrypt/acmed/internal/acmeerrors"

// maxGroupDepth is spec §4.6's "depth is bounded at 32".
const maxGroupDepth = 32

// Registry resolves hook and group names to concrete Hooks, spec §4.6.
type Registry struct {
	Hooks  map[string]*Hook
	Groups map[string]*Group
}

// NewRegistry indexes hooks and groups by name.
func NewRegistry(hooks []*Hook, groups []*Group) *Registry {
	r := &Registry{Hooks: map[string]*Hook{}, Groups: map[string]*Group{}}
	for _, h := range hooks {
		r.Hooks[h.Name] = h
	}
	for _, g := range groups {
		r.Groups[g.Name] = g
	}
	return r
}

// Flatten resolves a list of hook/group names (spec §3's Certificate/
// Account "hooks[]") to a depth-first ordered list of leaf Hooks,
// rejecting cycles and depths beyond maxGroupDepth at config load time
// (spec §4.6, boundary test in §8 "Hook group cycles detected at load
// time").
func (r *Registry) Flatten(names []string) ([]*Hook, error) {
	var out []*Hook
	visiting := map[string]bool{}
	var walk func(name string, depth int) error
	walk = func(name string, depth int) error {
		if depth > maxGroupDepth {
			return acmeerrors.New(acmeerrors.ConfigError, "hook group %q exceeds max depth %d", name, maxGroupDepth)
		}
		if h, ok := r.Hooks[name]; ok {
			out = append(out, h)
			return nil
		}
		g, ok := r.Groups[name]
		if !ok {
			return acmeerrors.New(acmeerrors.ConfigError, "unknown hook or group %q", name)
		}
		if visiting[name] {
			return acmeerrors.New(acmeerrors.ConfigError, "hook group cycle detected at %q", name)
		}
		visiting[name] = true
		defer delete(visiting, name)
		for _, child := range g.Hooks {
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := walk(name, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ForTrigger filters a resolved hook list down to those declaring t.
func ForTrigger(hooks []*Hook, t Trigger) []*Hook {
	var out []*Hook
	for _, h := range hooks {
		if h.HasType(t) {
			out = append(out, h)
		}
	}
	return out
}
