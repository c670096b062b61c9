// Package dispatch wires the sniffers, rule engine, and SOCKS5 client
// together into the per-connection orchestration that decides whether a
// connection is bridged directly or tunneled.
package dispatch

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monsw/harmonygate/internal/bridge"
	"github.com/monsw/harmonygate/internal/origdst"
	"github.com/monsw/harmonygate/internal/rules"
	"github.com/monsw/harmonygate/internal/sniff"
	"github.com/monsw/harmonygate/internal/socks5"
	"github.com/monsw/harmonygate/internal/target"
)

const (
	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
	sniPeekBytes     = 1024
)

// Dispatcher handles accepted connections: recover the original
// destination, sniff a hostname, consult the rule engine, and bridge to
// either a direct connection or a SOCKS5 tunnel.
type Dispatcher struct {
	engine *rules.Engine
	socks  *socks5.Client
	fwmark uint32
	log    *zap.Logger
}

// Option configures a Dispatcher using the functional-option pattern.
type Option func(*Dispatcher)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithFwmark sets the SO_MARK applied to direct outbound connections.
func WithFwmark(mark uint32) Option {
	return func(d *Dispatcher) { d.fwmark = mark }
}

// New builds a Dispatcher over engine and socksClient.
func New(engine *rules.Engine, socksClient *socks5.Client, opts ...Option) *Dispatcher {
	d := &Dispatcher{engine: engine, socks: socksClient, log: zap.NewNop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Serve runs the HTTP and HTTPS accept loops concurrently. Each loop is
// an independent errgroup member: an accept failure terminates only that
// listener, and Serve returns once both loops have exited, reporting the
// first error seen — it never cancels the sibling loop on the other's
// failure.
func (d *Dispatcher) Serve(ctx context.Context, httpLn, httpsLn net.Listener) error {
	var g errgroup.Group
	g.Go(func() error { return d.acceptLoop(ctx, httpLn, d.handleHTTP) })
	g.Go(func() error { return d.acceptLoop(ctx, httpsLn, d.handleHTTPS) })
	return g.Wait()
}

func (d *Dispatcher) acceptLoop(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Error("listener accept failed, terminating this listener",
				zap.String("addr", ln.Addr().String()), zap.Error(err))
			return errors.Wrapf(err, "dispatch: accept failed on %s", ln.Addr())
		}
		go handle(ctx, conn)
	}
}

// handleHTTPS peeks the TLS ClientHello for its SNI hostname. The peek
// is a single read of whatever is immediately available (up to
// sniPeekBytes), not a blocking fill of the full buffer, since a
// ClientHello is ordinarily shorter than that and the client sends
// nothing further until it hears back. The bytes this read consumes
// from the socket are replayed ahead of the bridge so none are lost.
func (d *Dispatcher) handleHTTPS(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := d.connLogger("https")

	origAddr := d.probeOriginalDest(conn, log)

	peekBuf := make([]byte, sniPeekBytes)
	n, _ := conn.Read(peekBuf)
	prefix := peekBuf[:n]

	t, err := sniff.TLSServerName(prefix)
	switch {
	case err == nil:
		t = t.WithPort(fallbackPort(origAddr, defaultHTTPSPort))
	case origAddr != nil:
		log.Debug("SNI not found, falling back to original destination", zap.Error(err))
		t = target.FromAddr(origAddr)
	default:
		log.Warn("dropping HTTPS connection: no SNI and no original destination", zap.Error(err))
		return
	}

	upstream, err := d.dial(ctx, t)
	if err != nil {
		log.Warn("dial failed", append(t.ZapFields(), zap.Error(err))...)
		return
	}
	defer upstream.Close()

	bridge.Run(&prefixConn{Conn: conn, prefix: prefix}, upstream, log)
}

// handleHTTP reads the request line and headers until it finds Host,
// then replays every byte it consumed onto the upstream before bridging
// the rest of the stream.
func (d *Dispatcher) handleHTTP(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := d.connLogger("http")

	origAddr := d.probeOriginalDest(conn, log)
	defaultPort := fallbackPort(origAddr, defaultHTTPPort)

	buf, t, err := sniff.HTTPHost(conn, defaultPort)
	if err != nil {
		if origAddr == nil {
			log.Warn("dropping HTTP connection: no Host header and no original destination", zap.Error(err))
			return
		}
		log.Debug("Host header not found, falling back to original destination", zap.Error(err))
		t = target.FromAddr(origAddr)
	}

	upstream, err := d.dial(ctx, t)
	if err != nil {
		log.Warn("dial failed", append(t.ZapFields(), zap.Error(err))...)
		return
	}
	defer upstream.Close()

	if consumed := buf.Bytes(); len(consumed) > 0 {
		if _, err := upstream.Write(consumed); err != nil {
			log.Warn("failed to replay buffered request bytes", zap.Error(err))
			return
		}
	}

	bridge.Run(conn, upstream, log)
}

// dial chooses between a SOCKS5 tunnel and a direct connection based on
// a rule-engine lookup.
func (d *Dispatcher) dial(ctx context.Context, t target.Target) (net.Conn, error) {
	if d.engine.Query(ctx, t) {
		return d.socks.Dial(ctx, t)
	}
	return t.DialMarked(ctx, d.fwmark)
}

func (d *Dispatcher) probeOriginalDest(conn net.Conn, log *zap.Logger) *net.TCPAddr {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	addr, err := origdst.Get(tcpConn)
	if err != nil {
		log.Debug("original destination unavailable", zap.Error(err))
		return nil
	}
	return addr
}

func (d *Dispatcher) connLogger(proto string) *zap.Logger {
	return d.log.With(zap.String("conn_id", uuid.New().String()), zap.String("proto", proto))
}

func fallbackPort(origAddr *net.TCPAddr, def int) uint16 {
	if origAddr != nil {
		return uint16(origAddr.Port)
	}
	return uint16(def)
}

// prefixConn replays prefix ahead of further reads from the wrapped
// connection, so bytes already consumed while peeking are not lost.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// CloseWrite half-closes the wrapped connection's write side when it
// supports it, so the bridge can signal EOF to the client.
func (c *prefixConn) CloseWrite() error {
	if wc, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return wc.CloseWrite()
	}
	return nil
}
