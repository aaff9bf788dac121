// Package middleware provides the composition contract (§4.5) plus a small
// set of reference middlewares that exercise it. The core request/response
// engine knows nothing about what middlewares do — it only knows how to
// fold a constructor list around a terminal Handler (datum.BuildStack) and
// how to invoke RequestCall on the result, with post-processing (such as
// status-expectation checks) happening as that call unwinds.
package middleware

import (
	"fmt"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
)

// Build composes constructors (outermost first) around terminal. It is a
// thin re-export of datum.BuildStack kept in this package so callers that
// only import "middleware" don't also need "datum" just to assemble a stack.
func Build(constructors []datum.Constructor, terminal datum.Handler) datum.Handler {
	return datum.BuildStack(constructors, terminal)
}

// passthrough holds the downstream Handler and forwards RequestCall to it.
// Middlewares embed it for the next field and override RequestCall.
type passthrough struct {
	next datum.Handler
}

func (p passthrough) RequestCall(d *datum.Datum) error { return p.next.RequestCall(d) }

// responseExpectations raises an HTTP status error when the response status
// isn't in the Datum's Expects set, checked right after the terminal handler
// returns and has populated d.Response.
type responseExpectations struct {
	passthrough
}

// ResponseExpectations returns a Constructor enforcing Datum.Expects.
func ResponseExpectations() datum.Constructor {
	return func(next datum.Handler) datum.Handler {
		return responseExpectations{passthrough{next}}
	}
}

// RequestCall forwards to the terminal handler, then checks the resulting
// status against d.Expects once the response has been populated — there is
// no separate response-phase walk, so the check happens right here after
// next.RequestCall returns (§4.5).
func (m responseExpectations) RequestCall(d *datum.Datum) error {
	if err := m.next.RequestCall(d); err != nil {
		return err
	}
	if d.Response == nil || d.Expects == nil {
		return nil
	}
	if d.Expects[d.Response.StatusCode] {
		return nil
	}
	codes := make([]int, 0, len(d.Expects))
	for c := range d.Expects {
		codes = append(codes, c)
	}
	return errors.NewHTTPStatusError(d.Response.StatusCode, codes)
}

// proxyAuthorization adds Proxy-Connection and, for an http-scheme proxy with
// credentials, Proxy-Authorization headers before the request is emitted.
type proxyAuthorization struct {
	passthrough
}

// ProxyAuthorization returns a Constructor implementing the proxy header
// rules of §6 (Keep-Alive + Basic auth for http proxies; https proxy
// credentials are handled during tunnel establishment instead, not here).
func ProxyAuthorization() datum.Constructor {
	return func(next datum.Handler) datum.Handler {
		return proxyAuthorization{passthrough{next}}
	}
}

func (m proxyAuthorization) RequestCall(d *datum.Datum) error {
	if d.Proxy != nil {
		if !d.HeaderHas("Proxy-Connection") {
			d.SetHeader("Proxy-Connection", "Keep-Alive")
		}
		if d.Proxy.Scheme == "http" && d.Proxy.User != "" && !d.HeaderHas("Proxy-Authorization") {
			d.SetHeader("Proxy-Authorization", "Basic "+basicAuth(d.Proxy.User, d.Proxy.Password))
		}
	}
	return m.next.RequestCall(d)
}

func basicAuth(user, password string) string {
	return encodeBase64(fmt.Sprintf("%s:%s", user, password))
}
