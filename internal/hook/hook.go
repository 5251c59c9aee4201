package hook

import "github.com/letsencrypt/acmed/internal/acmeerrors"

// Hook is spec §3's Hook entity: name, type-set, command+argv template,
// optional stdin handling, optional stdout redirect, allow_failure.
type Hook struct {
	Name         string
	Types        []Trigger
	Cmd          string
	Args         []string
	Stdin        string // template for a file path whose contents are piped in
	StdinStr     string // template for literal stdin bytes
	Stdout       string // template for a file path stdout is redirected to
	AllowFailure bool
	Env          Env
}

// HasType reports whether this hook declares t among its types.
func (h *Hook) HasType(t Trigger) bool {
	for _, ht := range h.Types {
		if ht == t {
			return true
		}
	}
	return false
}

func (h *Hook) validateStdin() error {
	if h.Stdin != "" && h.StdinStr != "" {
		return acmeerrors.New(acmeerrors.ConfigError, "hook %q: stdin and stdin_str are mutually exclusive", h.Name)
	}
	return nil
}

// Group is spec §3's Hook group: an ordered list of hook or group names.
type Group struct {
	Name  string
	Hooks []string // may reference other Group names, resolved by Flatten
}
