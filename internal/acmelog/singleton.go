package acmelog

import (
	"errors"
	"log/slog"
	"sync"
)

// singleton mirrors the teacher's log.Get()/log.Set() pattern: main wires up
// the real logger exactly once, and deeply-nested callers that would
// otherwise need a *slog.Logger threaded through every constructor (the hook
// engine, the nonce pool) fetch it from here instead.
type singleton struct {
	once sync.Once
	log  *slog.Logger
}

var _singleton singleton

// Set configures the package-level Logger. It must be called once, before
// the first call to Get, typically from main right after New.
func Set(logger *slog.Logger) error {
	if _singleton.log != nil {
		return errors.New("acmelog: Set called after the logger was already set")
	}
	_singleton.log = logger
	return nil
}

// Get returns the package-level Logger. If Set was never called, it falls
// back to slog.Default() so unit tests and early-startup code paths that run
// before main configures logging don't panic.
func Get() *slog.Logger {
	_singleton.once.Do(func() {
		if _singleton.log == nil {
			_singleton.log = slog.Default()
		}
	})
	return _singleton.log
}
