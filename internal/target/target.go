// Package target represents a connection's destination: either a
// resolved IPv4/IPv6 endpoint recovered from the kernel or the original
// socket, or an unresolved hostname sniffed from the first bytes of the
// connection. It also carries the one dialer shared by every direct
// (non-SOCKS5) outbound connection in the repository.
package target

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monsw/harmonygate/internal/sockopt"
)

// Kind distinguishes the three Target variants.
type Kind int

const (
	// KindHostname is an unresolved hostname, optionally with a port.
	KindHostname Kind = iota
	// KindIPv4 is a resolved 32-bit address and port.
	KindIPv4
	// KindIPv6 is a resolved 128-bit address and port.
	KindIPv6
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	default:
		return "hostname"
	}
}

// ErrNoPort is returned by HostPort when a hostname Target has no port
// attached; the SOCKS5 client needs a port to build a domain-name
// CONNECT request. DialMarked does not check for one.
var ErrNoPort = errors.New("target: hostname has no resolvable port")

// Target is a tagged value with exactly one of three variants: a
// hostname (with or without a port), an IPv4 endpoint, or an IPv6
// endpoint. The zero value is an empty hostname Target and is only ever
// returned alongside a non-nil error.
type Target struct {
	kind Kind
	host string
	ip   net.IP
	port uint16
}

// Hostname builds a Target from "host" or "host:port". If no port is
// present the Target's port is left unset (zero) until WithPort
// supplies one.
func Hostname(s string) Target {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Target{kind: KindHostname, host: s}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Target{kind: KindHostname, host: host}
	}
	return Target{kind: KindHostname, host: host, port: uint16(port)}
}

// FromAddr builds a resolved IPv4 or IPv6 Target from a recovered
// original destination or any other already-resolved TCP address.
func FromAddr(addr *net.TCPAddr) Target {
	if ip4 := addr.IP.To4(); ip4 != nil {
		return Target{kind: KindIPv4, ip: ip4, port: uint16(addr.Port)}
	}
	return Target{kind: KindIPv6, ip: addr.IP.To16(), port: uint16(addr.Port)}
}

// Kind reports which variant t holds.
func (t Target) Kind() Kind { return t.kind }

// IsHostname reports whether t is an unresolved hostname. Non-hostname
// Targets always report false from the rule engine without a query.
func (t Target) IsHostname() bool { return t.kind == KindHostname }

// Host returns the hostname component with no port attached, the form
// the rule engine's trie lookup expects. It is empty for IP Targets.
func (t Target) Host() string { return t.host }

// IP returns the resolved address for an IPv4 or IPv6 Target, nil
// otherwise.
func (t Target) IP() net.IP { return t.ip }

// Port returns the attached port, zero if none has been set yet.
func (t Target) Port() uint16 { return t.port }

// WithPort returns a copy of t with its port set to port, overriding
// any previously attached port. Used once a fallback or recovered port
// becomes known after the Target was first constructed.
func (t Target) WithPort(port uint16) Target {
	t.port = port
	return t
}

// HostPort returns the hostname and port for a SOCKS5 domain-name
// CONNECT request. It fails if t is not a hostname Target or has no
// port attached.
func (t Target) HostPort() (string, uint16, error) {
	if t.kind != KindHostname {
		return "", 0, errors.New("target: not a hostname target")
	}
	if t.port == 0 {
		return "", 0, ErrNoPort
	}
	return t.host, t.port, nil
}

// String renders t as "host:port" or "ip:port" for logging.
func (t Target) String() string {
	switch t.kind {
	case KindIPv4, KindIPv6:
		return net.JoinHostPort(t.ip.String(), strconv.Itoa(int(t.port)))
	default:
		return net.JoinHostPort(t.host, strconv.Itoa(int(t.port)))
	}
}

// ZapFields renders t as structured fields for the per-connection zap
// logger, mirroring the dual zap/logrus accessor style used for the
// connection-context header type elsewhere in this repository.
func (t Target) ZapFields() []zap.Field {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields, zap.String("target_kind", t.kind.String()))
	switch t.kind {
	case KindIPv4, KindIPv6:
		fields = append(fields, zap.String("target_ip", t.ip.String()))
	default:
		fields = append(fields, zap.String("target_host", t.host))
	}
	return append(fields, zap.Uint16("target_port", t.port))
}

// DialMarked opens a direct TCP connection to t, optionally applying
// SO_MARK to the outbound socket when fwmark is nonzero. Used for every
// connection the rule engine did not match to a SOCKS5 tunnel.
func (t Target) DialMarked(ctx context.Context, fwmark uint32) (net.Conn, error) {
	dialer := net.Dialer{}
	if fwmark > 0 {
		dialer.Control = sockopt.MarkControl(fwmark, nil)
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.String())
	return conn, errors.Wrapf(err, "target: direct dial to %s failed", t)
}
