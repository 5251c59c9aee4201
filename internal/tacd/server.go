// Package tacd implements spec §4.8: the TLS-ALPN-01 responder daemon, a
// minimal TLS server that presents a synthesized self-signed certificate
// carrying the acmeIdentifier extension and immediately drops the
// connection.
package tacd

import (
	"crypto/tls"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt/acmed/internal/acmecrypto"
	"github.com/letsencrypt/acmed/internal/acmeerrors"
	"github.com/letsencrypt/acmed/internal/acmelog"
)

// acmeTLS1 is the ALPN protocol identifier RFC 8737 §3 registers for
// TLS-ALPN-01.
const acmeTLS1 = "acme-tls/1"

// Server listens on a single TCP or Unix-socket address and answers only
// the TLS-ALPN-01 handshake, spec §4.8.
type Server struct {
	Domain    string
	DigestHex string
	Digest    acmecrypto.Digest
	SigAlg    acmecrypto.KeyType

	// HandshakesTotal/HandshakesRefused, if set, are incremented as
	// connections complete or are turned away for not offering acme-tls/1.
	// Both are optional so tests and short-lived CLI invocations can leave
	// metrics unwired.
	HandshakesTotal   prometheus.Counter
	HandshakesRefused prometheus.Counter

	listener net.Listener
	cert     tls.Certificate
}

// Listen parses spec §6.2's `-l|--listen` value: "host:port" for TCP or
// "unix:path" for a Unix domain socket.
func Listen(addr string) (net.Listener, error) {
	if len(addr) > 5 && addr[:5] == "unix:" {
		return net.Listen("unix", addr[5:])
	}
	return net.Listen("tcp", addr)
}

// New synthesizes the responder's certificate once per process invocation,
// spec §4.8: "Builds one self-signed certificate per process invocation."
// digestHex is the hex-encoded SHA-256(key authorization) as produced by
// the caller (e.g. a challenge-tls-alpn-01 hook invoking this binary with
// --acme-ext); tacd embeds it verbatim and never hashes anything itself.
func New(domain, digestHex string, digest acmecrypto.Digest, sigAlg acmecrypto.KeyType) (*Server, error) {
	kp, err := acmecrypto.Generate(sigAlg)
	if err != nil {
		return nil, err
	}
	_, der, err := acmecrypto.SynthesizeTLSALPNCertFromDigest(domain, digestHex, digest, kp)
	if err != nil {
		return nil, err
	}
	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  kp.Private,
	}
	return &Server{
		Domain:    domain,
		DigestHex: digestHex,
		Digest:    digest,
		SigAlg:    sigAlg,
		cert:      tlsCert,
	}, nil
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine (spec §5: "one task per listening socket"; each accepted
// connection is itself a suspension point at accept()/handshake).
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{s.cert},
		NextProtos:   []string{acmeTLS1},
		// GetConfigForClient lets us inspect the negotiated protocol and
		// refuse to present the certificate to anything but acme-tls/1,
		// per spec §4.8 step 2: "If the client does not select acme-tls/1,
		// close without presenting any application data."
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			for _, proto := range hello.SupportedProtos {
				if proto == acmeTLS1 {
					return nil, nil // use the outer config, which offers acmeTLS1
				}
			}
			if s.HandshakesRefused != nil {
				s.HandshakesRefused.Inc()
			}
			return nil, errRefuseHandshake
		},
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			acmelog.Get().Debug("tacd accept error", "error", err.Error())
			continue
		}
		go s.handle(conn, tlsCfg)
	}
}

func (s *Server) handle(conn net.Conn, cfg *tls.Config) {
	defer conn.Close()
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		acmelog.Get().Debug("tacd handshake error", "error", err.Error())
		return
	}
	if s.HandshakesTotal != nil {
		s.HandshakesTotal.Inc()
	}
	// Spec §4.8 step 3: "immediately close the TCP/Unix connection (no
	// application bytes exchanged)."
}

var errRefuseHandshake = acmeerrors.New(acmeerrors.TransportError, "client did not offer acme-tls/1")

func isClosed(err error) bool {
	ne, ok := err.(*net.OpError)
	return ok && ne.Err.Error() == "use of closed network connection"
}
