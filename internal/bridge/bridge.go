// Package bridge copies bytes bidirectionally between a client socket
// and an upstream socket until both directions have finished.
package bridge

import (
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Result reports how many bytes each direction carried before it ended.
type Result struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

// ZapFields renders r as structured logging fields.
func (r Result) ZapFields() []zap.Field {
	return []zap.Field{
		zap.Int64("client_to_upstream_bytes", r.ClientToUpstream),
		zap.Int64("upstream_to_client_bytes", r.UpstreamToClient),
	}
}

// Run splits client and upstream into independent copy directions and
// runs them concurrently until both have ended, by EOF or by error. A
// half-close on one direction only signals EOF to the peer's read side
// on that same direction — it never aborts the other, still-running
// direction.
func Run(client, upstream net.Conn, log *zap.Logger) Result {
	if log == nil {
		log = zap.NewNop()
	}

	var wg sync.WaitGroup
	var res Result

	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := io.Copy(upstream, client)
		res.ClientToUpstream = n
		closeWrite(upstream)
		logDirection(log, "client->upstream", n, err)
	}()
	go func() {
		defer wg.Done()
		n, err := io.Copy(client, upstream)
		res.UpstreamToClient = n
		closeWrite(client)
		logDirection(log, "upstream->client", n, err)
	}()
	wg.Wait()

	log.Info("bridge closed", res.ZapFields()...)
	return res
}

func logDirection(log *zap.Logger, direction string, n int64, err error) {
	if err == nil || isBenignCloseError(err) {
		return
	}
	log.Debug("bridge direction ended with error",
		zap.String("direction", direction),
		zap.Int64("bytes", n),
		zap.Error(err),
	)
}

// isBenignCloseError reports whether err is the ordinary consequence of
// the peer (or the other direction) closing its side of the connection,
// rather than a transport failure worth logging.
func isBenignCloseError(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// writeCloser is implemented by *net.TCPConn and similar stream types
// that can half-close their write side independently of the read side.
type writeCloser interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if wc, ok := c.(writeCloser); ok {
		wc.CloseWrite()
	}
}
