//go:build !linux

package origdst

import (
	"net"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned on every non-Linux platform: SO_ORIGINAL_DST
// is a Linux-only netfilter facility.
var ErrUnsupported = errors.New("origdst: original destination recovery is only supported on linux")

func get(_ *net.TCPConn) (*net.TCPAddr, error) {
	return nil, ErrUnsupported
}
