package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// URL schemes.
const (
	// SchemeMC addresses an MRC behind a mesycontrol server. The server
	// reports the MRC status after accepting a client.
	SchemeMC = "mc"

	// SchemeTCP addresses an MRC that speaks the protocol directly.
	SchemeTCP = "tcp"
)

// ErrInvalidURL is returned for URLs that cannot address an MRC.
var ErrInvalidURL = errors.New("invalid MRC URL")

// Endpoint is a parsed MRC URL.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// ParseURL parses "mc://host[:port]", "tcp://host[:port]" or a bare
// "host[:port]", which is treated as mc. The port defaults to DefaultPort.
func ParseURL(raw string) (Endpoint, error) {
	ep := Endpoint{Scheme: SchemeMC, Port: DefaultPort}

	rest := raw
	if scheme, after, ok := strings.Cut(raw, "://"); ok {
		switch scheme {
		case SchemeMC, SchemeTCP:
			ep.Scheme = scheme
		default:
			return Endpoint{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidURL, scheme)
		}
		rest = after
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		// No port given; brackets of a bare IPv6 literal are stripped.
		ep.Host = strings.Trim(rest, "[]")
		return ep, nil
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, port)
	}
	ep.Host, ep.Port = host, p
	return ep, nil
}

// WaitForRunning reports whether connections to this endpoint should wait
// for the server to report a running MRC.
func (e Endpoint) WaitForRunning() bool {
	return e.Scheme == SchemeMC
}

// Address returns "host:port".
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the canonical URL.
func (e Endpoint) String() string {
	return e.Scheme + "://" + e.Address()
}
