package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// lockedPIDFile is an exclusively-created pid file, removed on Release.
// There's no pid-file locking library anywhere in the example pack to
// ground a flock-based implementation on, so this uses O_EXCL the way a
// plain daemon would: the file's mere existence is the lock, and a stale
// file left behind by an unclean shutdown must be removed by an operator
// before the next start, per spec §6.1's exit code 3 "lock/pidfile
// conflict."
type lockedPIDFile struct {
	path string
}

func acquirePIDFile(path string) (*lockedPIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("pid file %s already exists or is not writable: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}
	return &lockedPIDFile{path: path}, nil
}

func (p *lockedPIDFile) Release() {
	os.Remove(p.path)
}

func defaultRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}
