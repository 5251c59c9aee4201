// Package config implements the typed configuration surface spec §6.3
// describes: global defaults, endpoints, accounts, certificates, hooks,
// groups, and glob includes, parsed from TOML (the daemon's option-file
// format) the way cmd.ReadConfigFile loads a typed struct in the teacher's
// binaries before doing anything else.
package config

import (
	"errors"
	"time"
)

// Duration mirrors the teacher's config.Duration (config/duration.go):
// a time.Duration that (un)marshals from a TOML/JSON duration string,
// e.g. "21d" or "30s" — extended here to accept a trailing "d" for days
// since spec §4.5's renew_delay is naturally expressed that way.
type Duration struct {
	time.Duration
}

// ErrDurationMustBeString mirrors the teacher's ErrDurationMustBeString.
var ErrDurationMustBeString = errors.New("config: duration must be a string")

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml/v2 uses
// for scalar custom types.
func (d *Duration) UnmarshalText(b []byte) error {
	dur, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ParseDuration extends time.ParseDuration with a trailing "d" (days)
// unit, since neither Go's stdlib nor go-toml/v2 understands calendar-day
// suffixes natively and spec §4.5's defaults ("21 days", "24h") are most
// naturally written that way in an option file.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		days, err := time.ParseDuration(s[:len(s)-1] + "h")
		if err != nil {
			return 0, err
		}
		return days * 24, nil
	}
	return time.ParseDuration(s)
}
