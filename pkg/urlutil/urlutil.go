// Package urlutil wraps net/url for the two parsing jobs the engine needs:
// splitting a destination URL into Datum target fields, and parsing a proxy
// URL into a datum.Proxy, including the HTTP_PROXY/HTTPS_PROXY/NO_PROXY
// environment precedence rules (§6).
package urlutil

import (
	"net/url"
	"strconv"

	"github.com/wireclient/excon/pkg/constants"
	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"

	"golang.org/x/net/http/httpproxy"
)

// Target is a parsed destination URL (§3 Datum target fields).
type Target struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	Query  string
	User   string
	Password string
}

// ParseTarget parses a full destination URL (as accepted by New) into a
// Target.
func ParseTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewValidationError("invalid URL: " + err.Error())
	}
	if u.Scheme == "" {
		return nil, errors.NewValidationError("URL must include a scheme")
	}
	if u.Host == "" {
		return nil, errors.NewValidationError("URL must include a host")
	}

	t := &Target{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Path:   u.Path,
		Query:  u.RawQuery,
	}
	if u.User != nil {
		t.User = u.User.Username()
		t.Password, _ = u.User.Password()
	}
	if t.Path == "" {
		t.Path = "/"
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, errors.NewValidationError("invalid port: " + portStr)
		}
		t.Port = port
	} else if t.Scheme == "https" {
		t.Port = 443
	} else {
		t.Port = 80
	}

	return t, nil
}

// ParseProxyURL parses a proxy URL into a datum.Proxy (§6). Supported
// schemes are http, https, socks4 and socks5; missing ports default per
// scheme (pkg/constants).
func ParseProxyURL(raw string) (*datum.Proxy, error) {
	if raw == "" {
		return nil, errors.NewProxyParseError(raw, "empty proxy URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewProxyParseError(raw, err.Error())
	}

	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	case "":
		return nil, errors.NewProxyParseError(raw, "missing scheme (http, https, socks4, socks5)")
	default:
		return nil, errors.NewProxyParseError(raw, "unsupported scheme "+u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.NewProxyParseError(raw, "missing host")
	}

	p := &datum.Proxy{Scheme: u.Scheme, Host: host}
	if u.User != nil {
		p.User = u.User.Username()
		p.Password, _ = u.User.Password()
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, errors.NewProxyParseError(raw, "invalid port "+portStr)
		}
		p.Port = port
	} else {
		switch u.Scheme {
		case "http":
			p.Port = constants.DefaultHTTPProxyPort
		case "https":
			p.Port = constants.DefaultHTTPSProxyPort
		default:
			p.Port = constants.DefaultSOCKSProxyPort
		}
	}

	return p, nil
}

// ResolveEnvProxy consults HTTP_PROXY/HTTPS_PROXY/NO_PROXY (and their
// lowercase forms) the way net/http would, returning nil when the target
// host is excluded by NO_PROXY or no variable applies. This is the fallback
// used when a Connection has no explicit Proxy option set (§6).
func ResolveEnvProxy(scheme, host string, port int) (*datum.Proxy, error) {
	cfg := httpproxy.FromEnvironment()

	reqURL := &url.URL{Scheme: scheme, Host: host}
	if port > 0 {
		reqURL.Host = host + ":" + strconv.Itoa(port)
	}

	proxyURL, err := cfg.ProxyFunc()(reqURL)
	if err != nil {
		return nil, errors.NewProxyParseError(reqURL.String(), err.Error())
	}
	if proxyURL == nil {
		return nil, nil
	}
	return ParseProxyURL(proxyURL.String())
}
