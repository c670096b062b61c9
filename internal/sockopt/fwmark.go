// Package sockopt holds the one piece of raw socket-option code shared
// by every outbound dialer in this repository: applying SO_MARK before
// connect.
package sockopt

import (
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// MarkControl returns a net.Dialer.Control hook that sets SO_MARK to
// mark on the outbound socket. A setsockopt failure is logged at debug
// level and otherwise ignored — it must never fail the dial.
func MarkControl(mark uint32, log *zap.Logger) func(network, address string, c syscall.RawConn) error {
	if log == nil {
		log = zap.NewNop()
	}
	return func(_, _ string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		if setErr != nil {
			log.Debug("setsockopt SO_MARK failed", zap.Error(setErr), zap.Uint32("fwmark", mark))
		}
		return nil
	}
}
