// Command acmed is the ACME renewal daemon: it loads a configuration file,
// starts one worker per configured certificate, and runs until signaled,
// spec §6.1.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmhodges/clock"
	"github.com/spf13/pflag"

	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
	"github.com/letsencrypt/acmed/internal/config"
	"github.com/letsencrypt/acmed/internal/hook"
	"github.com/letsencrypt/acmed/internal/scheduler"
)

// version is stamped by the release process; unset in a source checkout.
var version = "dev"

// exit codes, spec §6.1.
const (
	exitOK            = 0
	exitConfig        = 1
	exitRuntime       = 2
	exitLockConflict  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("acmed", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the acmed configuration file")
	foreground := flags.BoolP("foreground", "f", false, "run in the foreground instead of daemonizing")
	logStderr := flags.Bool("log-stderr", false, "log to stderr")
	logSyslog := flags.Bool("log-syslog", false, "log to syslog")
	logLevel := flags.String("log-level", acmelog.LevelInfo, "minimum log level: error|warn|info|debug|trace")
	noPIDFile := flags.Bool("no-pid-file", false, "do not write a pid file")
	pidFilePath := flags.String("pid-file", "/var/run/acmed.pid", "path to the pid file")
	rootCerts := flags.StringArray("root-cert", nil, "additional trusted root certificate (repeatable)")
	showVersion := flags.BoolP("version", "V", false, "print the version and exit")
	flags.BoolP("help", "h", false, "show this help")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *showVersion {
		fmt.Println("acmed", version)
		return exitOK
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "acmed: -c/--config is required")
		return exitConfig
	}
	_ = *foreground // daemonization is delegated to the service manager; kept for flag compatibility

	logger, err := acmelog.New(acmelog.Config{
		Stderr:    *logStderr || !*logSyslog,
		Syslog:    *logSyslog,
		Level:     *logLevel,
		SyslogTag: "acmed",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "acmed: configure logging:", err)
		return exitConfig
	}
	if err := acmelog.Set(logger); err != nil {
		fmt.Fprintln(os.Stderr, "acmed: set logger:", err)
		return exitConfig
	}

	var pidFile *lockedPIDFile
	if !*noPIDFile {
		pidFile, err = acquirePIDFile(*pidFilePath)
		if err != nil {
			logger.Error("failed to acquire pid file", "path", *pidFilePath, "error", err.Error())
			return exitLockConflict
		}
		defer pidFile.Release()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		return exitConfig
	}
	cfg.Global.RootCertificates = append(cfg.Global.RootCertificates, *rootCerts...)

	metrics := acmemetrics.New(defaultRegisterer())
	hook.SetMetrics(metrics)
	if err := acmemetrics.DebugServer(os.Getenv("ACMED_DEBUG_ADDR")); err != nil {
		logger.Warn("failed to start debug server", "error", err.Error())
	}

	clk := clock.New()
	ctx := context.Background()
	rt, err := config.Build(ctx, cfg, "acmed/"+version, "/var/lib/acmed/accounts/", "/var/lib/acmed/certs/", clk, metrics)
	if err != nil {
		logger.Error("failed to build runtime from configuration", "error", err.Error())
		return exitConfig
	}

	sched := scheduler.New(clk)
	sched.SetMetrics(metrics)
	for _, spec := range rt.Certificates {
		sched.Spawn(spec)
	}
	logger.Info("acmed started", "certificates", len(rt.Certificates))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if !sched.Shutdown() {
		logger.Error("workers did not finish within the shutdown grace period")
		return exitRuntime
	}
	return exitOK
}
