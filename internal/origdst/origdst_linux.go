//go:build linux

package origdst

import (
	"encoding/binary"
	"net"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ip6tSoOriginalDst is IP6T_SO_ORIGINAL_DST. It is an ip6tables
// extension, not a generic socket option, so golang.org/x/sys/unix does
// not export it and it is declared locally here.
const ip6tSoOriginalDst = 80

func get(conn *net.TCPConn) (*net.TCPAddr, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "origdst: unable to access raw connection")
	}

	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("origdst: connection has no local TCP address")
	}

	v4mapped := local.IP.To4() != nil
	if !v4mapped {
		if ip4 := local.IP.To16(); ip4 != nil && isV4Mapped(ip4) {
			v4mapped = true
		}
	}

	var addr *net.TCPAddr
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		if v4mapped {
			addr, ctrlErr = originalDstIPv4(int(fd))
		} else {
			addr, ctrlErr = originalDstIPv6(int(fd))
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "origdst: raw control failed")
	}
	if ctrlErr != nil {
		return nil, errors.Wrap(ctrlErr, "origdst: getsockopt failed")
	}
	return addr, nil
}

// isV4Mapped reports whether ip lies in ::ffff:0:0/96.
func isV4Mapped(ip net.IP) bool {
	if len(ip) != net.IPv6len {
		return false
	}
	for i := 0; i < 10; i++ {
		if ip[i] != 0 {
			return false
		}
	}
	return ip[10] == 0xff && ip[11] == 0xff
}

func originalDstIPv4(fd int) (*net.TCPAddr, error) {
	var raw unix.RawSockaddrInet4
	size := uint32(unsafe.Sizeof(raw))

	if err := getsockopt(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST, unsafe.Pointer(&raw), &size); err != nil {
		return nil, err
	}

	ip := net.IPv4(raw.Addr[0], raw.Addr[1], raw.Addr[2], raw.Addr[3])
	port := portFromRaw(raw.Port)
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

func originalDstIPv6(fd int) (*net.TCPAddr, error) {
	var raw unix.RawSockaddrInet6
	size := uint32(unsafe.Sizeof(raw))

	if err := getsockopt(fd, unix.SOL_IPV6, ip6tSoOriginalDst, unsafe.Pointer(&raw), &size); err != nil {
		return nil, err
	}

	ip := make(net.IP, net.IPv6len)
	copy(ip, raw.Addr[:])
	port := portFromRaw(raw.Port)
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// portFromRaw converts a sockaddr port field, which the kernel fills in
// network byte order regardless of host endianness, to a host int.
func portFromRaw(raw uint16) int {
	b := *(*[2]byte)(unsafe.Pointer(&raw))
	return int(binary.BigEndian.Uint16(b[:]))
}

func getsockopt(fd, level, name int, valuePtr unsafe.Pointer, size *uint32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(valuePtr),
		uintptr(unsafe.Pointer(size)),
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
