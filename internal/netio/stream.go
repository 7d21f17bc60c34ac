package netio

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// -------------------------------------------------------------------------
// SocketSettings — transport tuning
// -------------------------------------------------------------------------

// SocketSettings carries the per-session transport options from the
// settings file.
type SocketSettings struct {
	// Nodelay sets TCP_NODELAY (on by default for FIX traffic).
	Nodelay bool

	// SendTimeout and ReceiveTimeout replace the reactor's per-write and
	// per-read deadlines; zero keeps its own short defaults.
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	// TLS enables a TLS transport when non-nil.
	TLS *TLSSettings
}

// TLSSettings selects optional TLS wrapping of the TCP stream.
type TLSSettings struct {
	// CertificateFile is a PEM file holding the certificate and key.
	CertificateFile string

	// CAFile is a PEM bundle of trusted roots; empty uses the system
	// pool.
	CAFile string

	// RequireClientCertificate makes an accepting listener demand and
	// verify a peer certificate.
	RequireClientCertificate bool

	// ServerName overrides the name verified by a dialing side.
	ServerName string
}

// ErrNoCertificate indicates TLS was enabled without a certificate file
// on the accepting side.
var ErrNoCertificate = errors.New("TLS enabled without certificate")

// -------------------------------------------------------------------------
// Dial / Listen
// -------------------------------------------------------------------------

// dialTimeout bounds the TCP connect attempt.
const dialTimeout = 10 * time.Second

// Dial connects to addr applying the socket settings, wrapping in TLS
// when configured.
func Dial(addr string, ss SocketSettings) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	applyTCPOptions(conn, ss)

	if ss.TLS == nil {
		return conn, nil
	}
	tcfg, err := clientTLSConfig(ss.TLS)
	if err != nil {
		conn.Close()
		return nil, err
	}
	tconn := tls.Client(conn, tcfg)
	if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	if err := tconn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	return tconn, nil
}

// Listen binds a listener on addr, wrapping accepted connections in TLS
// when configured.
func Listen(addr string, ss SocketSettings) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if ss.TLS == nil {
		return ln, nil
	}
	tcfg, err := serverTLSConfig(ss.TLS)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tcfg), nil
}

// Accept wraps ln.Accept, applying TCP options to the raw connection.
func Accept(ln net.Listener, ss SocketSettings) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	applyTCPOptions(conn, ss)
	return conn, nil
}

// applyTCPOptions sets TCP_NODELAY on the underlying TCP connection.
func applyTCPOptions(conn net.Conn, ss SocketSettings) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	// Errors here are advisory; the connection still works.
	_ = tcp.SetNoDelay(ss.Nodelay)
}

// -------------------------------------------------------------------------
// TLS config assembly
// -------------------------------------------------------------------------

// clientTLSConfig builds the dialing-side TLS configuration.
func clientTLSConfig(ts *TLSSettings) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: ts.ServerName,
	}
	if ts.CertificateFile != "" {
		cert, err := tls.LoadX509KeyPair(ts.CertificateFile, ts.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("load certificate %s: %w", ts.CertificateFile, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if ts.CAFile != "" {
		pool, err := loadCertPool(ts.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// serverTLSConfig builds the accepting-side TLS configuration.
func serverTLSConfig(ts *TLSSettings) (*tls.Config, error) {
	if ts.CertificateFile == "" {
		return nil, ErrNoCertificate
	}
	cert, err := tls.LoadX509KeyPair(ts.CertificateFile, ts.CertificateFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate %s: %w", ts.CertificateFile, err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if ts.RequireClientCertificate {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	if ts.CAFile != "" {
		pool, err := loadCertPool(ts.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// loadCertPool reads a PEM bundle into a certificate pool.
func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s: no certificates found", path)
	}
	return pool, nil
}
