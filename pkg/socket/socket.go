// Package socket defines the minimal transport interface the wire layer
// consumes (§6) and the plain/TLS implementations that satisfy it, including
// upstream proxy tunneling (§4.2, §6 Proxy).
package socket

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/tlsconfig"

	netproxy "golang.org/x/net/proxy"
)

// Socket is the small interface the core consumes (§6). Concrete transports
// (plain TCP, TLS) and test doubles implement it.
type Socket interface {
	Write(p []byte) (int, error)
	Read(n int) ([]byte, error)
	ReadLine() (string, error)
	RemoteIP() string
	SetData(d *datum.Datum)
	Close() error
}

// netSocket adapts a net.Conn (plain or TLS) to Socket.
type netSocket struct {
	conn   net.Conn
	reader *bufio.Reader
	data   *datum.Datum
}

func wrap(conn net.Conn) *netSocket {
	return &netSocket{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *netSocket) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.conn.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Read returns up to n bytes, or an empty slice on EOF (§6).
func (s *netSocket) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := s.reader.Read(buf)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	return buf[:read], nil
}

// ReadLine reads through the next '\n' inclusive.
func (s *netSocket) ReadLine() (string, error) {
	return s.reader.ReadString('\n')
}

func (s *netSocket) RemoteIP() string {
	if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		return s.conn.RemoteAddr().String()
	}
	return host
}

func (s *netSocket) SetData(d *datum.Datum) { s.data = d }

func (s *netSocket) Close() error { return s.conn.Close() }

// LocalAddr and RemoteAddr expose the underlying conn's endpoints so callers
// can surface connection metadata on the response (§6).
func (s *netSocket) LocalAddr() string  { return s.conn.LocalAddr().String() }
func (s *netSocket) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// TLSState reports the negotiated TLS connection state, if the underlying
// conn is a *tls.Conn.
func (s *netSocket) TLSState() (tls.ConnectionState, bool) {
	tlsConn, ok := s.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// ConnectionInfo is implemented by sockets that can report their local/
// remote endpoints and, for TLS connections, the negotiated handshake
// state. request.go's deliver uses it to populate Response's connection
// metadata fields.
type ConnectionInfo interface {
	LocalAddr() string
	RemoteAddr() string
	TLSState() (tls.ConnectionState, bool)
}

var _ ConnectionInfo = (*netSocket)(nil)

// SetReadDeadline and SetWriteDeadline apply read/write deadlines to the
// underlying conn. Exposed so the wire writer/reader can bound individual
// phases (§5); the connect timeout is applied by the dialer instead.
func (s *netSocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *netSocket) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// Deadliner is implemented by sockets that can bound read/write phases.
type Deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

var _ Deadliner = (*netSocket)(nil)

// Config holds everything needed to dial a destination, directly or through
// a proxy, and optionally upgrade to TLS.
type Config struct {
	Scheme string
	Host   string
	Port   int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	InsecureTLS  bool
	SSLCAFile    string
	MinTLSVersion uint16
	MaxTLSVersion uint16

	Proxy *datum.Proxy
}

// Dial establishes a Socket for the given config, tunneling through a proxy
// when one is set (§4.2 invariant: https proxying tunnels at handshake time,
// http proxying rewrites the request line instead — see wire.Writer).
func Dial(ctx context.Context, cfg Config) (Socket, string, error) {
	connTimeout := cfg.ConnectTimeout
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}

	var conn net.Conn
	var err error

	if cfg.Proxy != nil {
		conn, err = dialProxy(ctx, cfg, connTimeout)
	} else {
		dialer := &net.Dialer{Timeout: connTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
		if err != nil {
			return nil, "", errors.NewConnectionError(cfg.Host, cfg.Port, err)
		}
	}
	if err != nil {
		return nil, "", err
	}

	remoteIP := ""
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remoteIP = tcpAddr.IP.String()
	}

	// For an http-scheme request through an http/https proxy, the tunnel
	// carries the plaintext request with an absolute-form target (§3); no
	// TLS upgrade happens here. For https through a proxy, CONNECT has
	// already tunneled a raw byte pipe to the origin and we now upgrade it.
	if strings.EqualFold(cfg.Scheme, "https") {
		tlsConn, err := upgradeTLS(ctx, conn, cfg, connTimeout)
		if err != nil {
			conn.Close()
			return nil, "", errors.NewTLSError(cfg.Host, cfg.Port, err)
		}
		conn = tlsConn
	}

	return wrap(conn), remoteIP, nil
}

func upgradeTLS(ctx context.Context, conn net.Conn, cfg Config, timeout time.Duration) (net.Conn, error) {
	tlsCfg := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureTLS,
		NextProtos:         []string{"http/1.1"},
	}
	tlsconfig.ApplyVersionProfile(tlsCfg, tlsconfig.ProfileSecure)
	if cfg.MinTLSVersion > 0 {
		tlsCfg.MinVersion = cfg.MinTLSVersion
	}
	if cfg.MaxTLSVersion > 0 {
		tlsCfg.MaxVersion = cfg.MaxTLSVersion
	}
	tlsconfig.ApplyCipherSuites(tlsCfg, tlsCfg.MinVersion)
	if cfg.SSLCAFile != "" {
		pool, err := loadCAFile(cfg.SSLCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}

	tlsConn := tls.Client(conn, tlsCfg)
	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func loadCAFile(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// dialProxy connects to the destination through the configured proxy,
// returning a raw net.Conn ready for (optionally) a TLS upgrade.
func dialProxy(ctx context.Context, cfg Config, timeout time.Duration) (net.Conn, error) {
	p := cfg.Proxy
	targetAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	proxyAddr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))

	switch p.Scheme {
	case "http", "https":
		return dialHTTPConnectProxy(ctx, p, proxyAddr, targetAddr, cfg, timeout)
	case "socks4":
		return dialSOCKS4(ctx, p, proxyAddr, targetAddr, timeout)
	case "socks5":
		return dialSOCKS5(ctx, p, proxyAddr, targetAddr, timeout)
	default:
		return nil, errors.NewProxyError(p.Scheme, proxyAddr, "dial", fmt.Errorf("unsupported proxy scheme %q", p.Scheme))
	}
}

// dialHTTPConnectProxy issues CONNECT for an https target, or simply hands
// back a cleartext connection to the proxy for an http target (the request
// line is rewritten to absolute-form by the wire writer instead, per §3).
func dialHTTPConnectProxy(ctx context.Context, p *datum.Proxy, proxyAddr, targetAddr string, cfg Config, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, errors.NewProxyError(p.Scheme, proxyAddr, "dial", err)
	}

	if p.Scheme == "https" {
		proxyTLSCfg := &tls.Config{ServerName: p.Host, InsecureSkipVerify: cfg.InsecureTLS}
		tlsconfig.ApplyVersionProfile(proxyTLSCfg, tlsconfig.ProfileSecure)
		tlsconfig.ApplyCipherSuites(proxyTLSCfg, proxyTLSCfg.MinVersion)
		tlsConn := tls.Client(conn, proxyTLSCfg)
		tlsCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
			conn.Close()
			return nil, errors.NewProxyError(p.Scheme, proxyAddr, "handshake", err)
		}
		conn = tlsConn
	}

	if !strings.EqualFold(cfg.Scheme, "https") {
		// Plaintext target through an http proxy: no CONNECT needed, the
		// wire writer sends an absolute-form request line over this conn.
		return conn, nil
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n", targetAddr, cfg.Host)
	if p.User != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.User + ":" + p.Password))
		req += "Proxy-Authorization: Basic " + auth + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, errors.NewProxyError(p.Scheme, proxyAddr, "connect", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, errors.NewProxyError(p.Scheme, proxyAddr, "connect", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, errors.NewProxyError(p.Scheme, proxyAddr, "connect", fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine)))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, errors.NewProxyError(p.Scheme, proxyAddr, "connect", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

// dialSOCKS4 implements the SOCKS4 CONNECT handshake (RFC 1928 predecessor,
// IPv4-only, user-id authentication).
func dialSOCKS4(ctx context.Context, p *datum.Proxy, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks4", proxyAddr, "dial", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.NewProxyError("socks4", proxyAddr, "dial", err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.NewProxyError("socks4", proxyAddr, "resolve", err)
	}
	var targetIP net.IP
	for _, ip := range ips {
		if ip4 := ip.IP.To4(); ip4 != nil {
			targetIP = ip4
			break
		}
	}
	if targetIP == nil {
		return nil, errors.NewProxyError("socks4", proxyAddr, "resolve", fmt.Errorf("no IPv4 address for %s", host))
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks4", proxyAddr, "dial", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, targetIP...)
	req = append(req, []byte(p.User)...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxyAddr, "connect", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxyAddr, "connect", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, errors.NewProxyError("socks4", proxyAddr, "connect", fmt.Errorf("request rejected, status 0x%02X", resp[1]))
	}
	return conn, nil
}

// dialSOCKS5 uses golang.org/x/net/proxy for RFC-compliant SOCKS5, matching
// the teacher's choice to avoid a hand-rolled implementation for this case.
func dialSOCKS5(ctx context.Context, p *datum.Proxy, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	var auth *netproxy.Auth
	if p.User != "" {
		auth = &netproxy.Auth{User: p.User, Password: p.Password}
	}
	dialer, err := netproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, errors.NewProxyError("socks5", proxyAddr, "dial", err)
	}
	conn, err := dialer.Dial("tcp", targetAddr)
	if err != nil {
		return nil, errors.NewProxyError("socks5", proxyAddr, "connect", err)
	}
	return conn, nil
}
