// Package origdst recovers the pre-NAT destination of a TCP connection
// that was redirected to this process by netfilter (REDIRECT/TPROXY).
package origdst

import "net"

// Get returns the original destination of conn, or an error if it could
// not be recovered. Callers must treat the error as non-fatal for the
// connection: fall back to SNI/Host-derived targets instead.
//
// The real implementation is platform-specific; see origdst_linux.go and
// origdst_other.go.
func Get(conn *net.TCPConn) (*net.TCPAddr, error) {
	return get(conn)
}
