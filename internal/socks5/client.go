// Package socks5 implements the minimal no-authentication SOCKS5 CONNECT
// client used to tunnel matched connections to the upstream proxy
// (RFC 1928).
package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/monsw/harmonygate/internal/sockopt"
	"github.com/monsw/harmonygate/internal/target"
)

const (
	version5      = 0x05
	methodNoAuth  = 0x00
	cmdConnect    = 0x01
	atypIPv4      = 0x01
	atypDomain    = 0x03
	atypIPv6      = 0x04
	maxHostLength = 255
)

var (
	ErrProxyMethodUnsupported = errors.New("socks5: proxy does not support the no-auth method")
	ErrConnectRejected        = errors.New("socks5: CONNECT request was rejected")
	ErrHostnameTooLong        = errors.New("socks5: hostname exceeds 255 bytes")
	ErrUnsupportedTarget      = errors.New("socks5: target has neither an IP nor a resolvable hostname")
)

// Client dials connections through one upstream SOCKS5 server.
type Client struct {
	upstream net.Addr
	fwmark   uint32
	log      *zap.Logger
}

// Option configures a Client using the functional-option pattern.
type Option func(*Client)

// WithFwmark sets the SO_MARK applied to the outbound socket used to
// reach the upstream proxy.
func WithFwmark(mark uint32) Option {
	return func(c *Client) { c.fwmark = mark }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a Client dialing upstream for every CONNECT.
func New(upstream *net.TCPAddr, opts ...Option) *Client {
	c := &Client{upstream: upstream, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial opens a TCP connection to the upstream SOCKS5 server and asks it
// to CONNECT to t, returning the tunnel once the server replies success.
// Any protocol deviation is a fatal error for this connection, never the
// process.
func (c *Client) Dial(ctx context.Context, t target.Target) (net.Conn, error) {
	dialer := net.Dialer{}
	if c.fwmark > 0 {
		dialer.Control = sockopt.MarkControl(c.fwmark, c.log)
	}

	conn, err := dialer.DialContext(ctx, "tcp", c.upstream.String())
	if err != nil {
		return nil, errors.Wrap(err, "socks5: unable to reach upstream proxy")
	}
	ok := false
	defer func() {
		if !ok {
			conn.Close()
		}
	}()

	if err := greet(conn); err != nil {
		return nil, err
	}
	if err := requestConnect(conn, t); err != nil {
		return nil, err
	}
	if err := readReply(conn); err != nil {
		return nil, err
	}

	ok = true
	return conn, nil
}

func greet(conn net.Conn) error {
	if _, err := conn.Write([]byte{version5, 0x01, methodNoAuth}); err != nil {
		return errors.Wrap(err, "socks5: failed to send greeting")
	}
	var reply [2]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return errors.Wrap(err, "socks5: failed to read greeting reply")
	}
	if reply[0] != version5 || reply[1] != methodNoAuth {
		return ErrProxyMethodUnsupported
	}
	return nil
}

// requestConnect builds and sends the CONNECT request.
func requestConnect(conn net.Conn, t target.Target) error {
	frame, err := BuildConnectRequest(t)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return errors.Wrap(err, "socks5: failed to send CONNECT request")
	}
	return nil
}

// BuildConnectRequest renders the SOCKS5 CONNECT frame for t. Exported
// so the wire format is independently unit-testable without a live
// connection.
func BuildConnectRequest(t target.Target) ([]byte, error) {
	switch t.Kind() {
	case target.KindIPv4:
		buf := make([]byte, 10)
		buf[0], buf[1], buf[2], buf[3] = version5, cmdConnect, 0x00, atypIPv4
		copy(buf[4:8], t.IP().To4())
		binary.BigEndian.PutUint16(buf[8:10], t.Port())
		return buf, nil

	case target.KindIPv6:
		buf := make([]byte, 22)
		buf[0], buf[1], buf[2], buf[3] = version5, cmdConnect, 0x00, atypIPv6
		copy(buf[4:20], t.IP().To16())
		binary.BigEndian.PutUint16(buf[20:22], t.Port())
		return buf, nil

	case target.KindHostname:
		host, port, err := t.HostPort()
		if err != nil {
			return nil, err
		}
		if len(host) > maxHostLength {
			return nil, ErrHostnameTooLong
		}
		buf := make([]byte, 0, 7+len(host))
		buf = append(buf, version5, cmdConnect, 0x00, atypDomain, byte(len(host)))
		buf = append(buf, host...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], port)
		buf = append(buf, portBuf[:]...)
		return buf, nil
	}
	return nil, ErrUnsupportedTarget
}

// readReply consumes the 4-byte reply header and then discards the
// variable-length bound-address field.
func readReply(conn net.Conn) error {
	var head [4]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return errors.Wrap(err, "socks5: failed to read CONNECT reply")
	}
	if head[0] != version5 || head[1] != 0x00 {
		return ErrConnectRejected
	}

	var skip int
	switch head[3] {
	case atypIPv4:
		skip = 4 + 2
	case atypIPv6:
		skip = 16 + 2
	case atypDomain:
		var lenByte [1]byte
		if _, err := io.ReadFull(conn, lenByte[:]); err != nil {
			return errors.Wrap(err, "socks5: failed to read bound domain length")
		}
		skip = int(lenByte[0]) + 2
	default:
		skip = 4 + 2
	}

	if skip > 0 {
		if _, err := io.CopyN(io.Discard, conn, int64(skip)); err != nil {
			return errors.Wrap(err, "socks5: failed to read bound address")
		}
	}
	return nil
}
