// Command tacd is the TLS-ALPN-01 challenge responder, spec §4.8/§6.2: it
// presents one synthesized certificate per invocation and answers the
// acme-tls/1 handshake, then exits when the listener is closed.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmelog"
	"github.com/letsencrypt/acmed/internal/acmemetrics"
	"github.com/letsencrypt/acmed/internal/tacd"
)

var version = "dev"

const (
	exitOK     = 0
	exitConfig = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("tacd", pflag.ContinueOnError)
	acmeExt := flags.StringP("acme-ext", "e", "", "key authorization digest, hex-encoded")
	acmeExtFile := flags.String("acme-ext-file", "", "file containing the key authorization digest")
	crtDigest := flags.String("crt-digest", "sha256", "certificate signature digest: sha256|sha384|sha512")
	crtSigAlg := flags.String("crt-signature-alg", "ecdsa-p256", "certificate key type")
	domain := flags.StringP("domain", "d", "", "domain name to present in the certificate")
	domainFile := flags.String("domain-file", "", "file containing the domain name")
	flags.BoolP("foreground", "f", false, "run in the foreground")
	listen := flags.StringP("listen", "l", "0.0.0.0:443", "listen address: host:port or unix:path")
	logStderr := flags.Bool("log-stderr", false, "log to stderr")
	logSyslog := flags.Bool("log-syslog", false, "log to syslog")
	logLevel := flags.String("log-level", acmelog.LevelInfo, "minimum log level")
	flags.Bool("no-pid-file", false, "do not write a pid file")
	flags.String("pid-file", "/var/run/tacd.pid", "path to the pid file")
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
		fmt.Println("tacd", version)
		return exitOK
	}
	if *acmeExt != "" && *acmeExtFile != "" {
		fmt.Fprintln(os.Stderr, "tacd: --acme-ext and --acme-ext-file are mutually exclusive")
		return exitConfig
	}
	if *domain != "" && *domainFile != "" {
		fmt.Fprintln(os.Stderr, "tacd: --domain and --domain-file are mutually exclusive")
		return exitConfig
	}

	logger, err := acmelog.New(acmelog.Config{
		Stderr:    *logStderr || !*logSyslog,
		Syslog:    *logSyslog,
		Level:     *logLevel,
		SyslogTag: "tacd",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tacd: configure logging:", err)
		return exitConfig
	}
	if err := acmelog.Set(logger); err != nil {
		fmt.Fprintln(os.Stderr, "tacd: set logger:", err)
		return exitConfig
	}

	ext := *acmeExt
	if *acmeExtFile != "" {
		data, err := os.ReadFile(*acmeExtFile)
		if err != nil {
			logger.Error("failed to read --acme-ext-file", "error", err.Error())
			return exitConfig
		}
		ext = string(data)
	}
	dom := *domain
	if *domainFile != "" {
		data, err := os.ReadFile(*domainFile)
		if err != nil {
			logger.Error("failed to read --domain-file", "error", err.Error())
			return exitConfig
		}
		dom = string(data)
	}
	dom, ext, err = tacd.ReadMissingInputs(os.Stdin, dom, ext)
	if err != nil {
		logger.Error("failed to read domain/extension from stdin", "error", err.Error())
		return exitConfig
	}

	digest := acmecrypto.Digest(*crtDigest)
	sigAlg, err := parseSigAlg(*crtSigAlg)
	if err != nil {
		logger.Error("invalid --crt-signature-alg", "error", err.Error())
		return exitConfig
	}

	srv, err := tacd.New(dom, ext, digest, sigAlg)
	if err != nil {
		logger.Error("failed to synthesize responder certificate", "error", err.Error())
		return exitRuntime
	}

	metrics := acmemetrics.New(prometheus.DefaultRegisterer)
	srv.HandshakesTotal = metrics.HandshakesTotal
	srv.HandshakesRefused = metrics.HandshakesRefused
	if err := acmemetrics.DebugServer(os.Getenv("TACD_DEBUG_ADDR")); err != nil {
		logger.Warn("failed to start debug server", "error", err.Error())
	}

	ln, err := tacd.Listen(*listen)
	if err != nil {
		logger.Error("failed to listen", "addr", *listen, "error", err.Error())
		return exitRuntime
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		ln.Close()
	}()

	logger.Info("tacd listening", "addr", *listen, "domain", dom)
	if err := srv.Serve(ln); err != nil {
		logger.Error("serve error", "error", err.Error())
		return exitRuntime
	}
	return exitOK
}

func parseSigAlg(s string) (acmecrypto.KeyType, error) {
	switch s {
	case "ecdsa-p256", "p256":
		return acmecrypto.P256, nil
	case "ecdsa-p384", "p384":
		return acmecrypto.P384, nil
	case "ecdsa-p521", "p521":
		return acmecrypto.P521, nil
	case "rsa2048":
		return acmecrypto.RSA2048, nil
	case "rsa4096":
		return acmecrypto.RSA4096, nil
	case "ed25519":
		return acmecrypto.Ed25519, nil
	case "ed448":
		return acmecrypto.Ed448, nil
	default:
		return "", fmt.Errorf("unknown signature algorithm %q", s)
	}
}
