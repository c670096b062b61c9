package bridge

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tcpPair returns the two ends of a loopback TCP connection as
// *net.TCPConn, so CloseWrite is exercised the same way it would be on
// a real client or upstream socket.
func tcpPair(t *testing.T) (serverSide, dialerSide *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c.(*net.TCPConn)
	}()

	dialer, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	return <-accepted, dialer.(*net.TCPConn)
}

func TestRunCopiesBothDirections(t *testing.T) {
	clientServer, clientDialer := tcpPair(t)
	defer clientDialer.Close()
	upstreamServer, upstreamDialer := tcpPair(t)
	defer upstreamDialer.Close()

	done := make(chan Result, 1)
	go func() { done <- Run(clientServer, upstreamServer, nil) }()

	_, err := clientDialer.Write([]byte("hello upstream"))
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := io.ReadFull(upstreamDialer, buf[:len("hello upstream")])
	require.NoError(t, err)
	require.Equal(t, "hello upstream", string(buf[:n]))

	_, err = upstreamDialer.Write([]byte("hello client"))
	require.NoError(t, err)
	n, err = io.ReadFull(clientDialer, buf[:len("hello client")])
	require.NoError(t, err)
	require.Equal(t, "hello client", string(buf[:n]))

	clientDialer.Close()
	upstreamDialer.Close()

	select {
	case res := <-done:
		require.Equal(t, int64(len("hello upstream")), res.ClientToUpstream)
		require.Equal(t, int64(len("hello client")), res.UpstreamToClient)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not complete after both sides closed")
	}
}

func TestRunSurvivesHalfCloseOfOneDirection(t *testing.T) {
	clientServer, clientDialer := tcpPair(t)
	upstreamServer, upstreamDialer := tcpPair(t)
	defer upstreamDialer.Close()

	done := make(chan Result, 1)
	go func() { done <- Run(clientServer, upstreamServer, nil) }()

	_, err := clientDialer.Write([]byte("request"))
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := io.ReadFull(upstreamDialer, buf[:len("request")])
	require.NoError(t, err)
	require.Equal(t, "request", string(buf[:n]))

	// Half-close the client->upstream direction; the reverse direction
	// must still be able to carry data afterwards.
	require.NoError(t, clientDialer.CloseWrite())

	_, err = upstreamDialer.Write([]byte("still works"))
	require.NoError(t, err)
	n, err = io.ReadFull(clientDialer, buf[:len("still works")])
	require.NoError(t, err)
	require.Equal(t, "still works", string(buf[:n]))

	clientDialer.Close()
	upstreamDialer.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not complete after both sides closed")
	}
}
