package sniff

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/monsw/harmonygate/internal/target"
)

// minClientHelloLen is the shortest prefix the SNI extractor will work
// with.
const minClientHelloLen = 43

const (
	extensionServerName = 0x0000
	sniHostNameType     = 0x00
)

var (
	ErrClientHelloTooShort = errors.New("sniff: TLS prefix too short")
	ErrNotTLSHandshake     = errors.New("sniff: not a TLS handshake record")
	ErrClientHelloCorrupt  = errors.New("sniff: TLS ClientHello is truncated or malformed")
	ErrSNINotPresent       = errors.New("sniff: ClientHello carries no SNI extension")
)

// TLSServerName extracts the SNI hostname from prefix, the first bytes
// peeked (not consumed) from a client connection. Every read is
// bounds-checked against len(prefix); no read may exceed it.
func TLSServerName(prefix []byte) (target.Target, error) {
	if len(prefix) < minClientHelloLen {
		return target.Target{}, ErrClientHelloTooShort
	}
	if prefix[0] != 0x16 || prefix[1] != 0x03 {
		return target.Target{}, ErrNotTLSHandshake
	}

	i := minClientHelloLen

	// session id: 1-byte length + bytes.
	var err error
	if i, err = skipLenPrefixed(prefix, i, 1); err != nil {
		return target.Target{}, err
	}
	// cipher suites: 2-byte length + bytes.
	if i, err = skipLenPrefixed(prefix, i, 2); err != nil {
		return target.Target{}, err
	}
	// compression methods: 1-byte length + bytes.
	if i, err = skipLenPrefixed(prefix, i, 1); err != nil {
		return target.Target{}, err
	}

	if i+2 > len(prefix) {
		return target.Target{}, ErrClientHelloCorrupt
	}
	extLen := int(binary.BigEndian.Uint16(prefix[i : i+2]))
	i += 2
	end := i + extLen
	if end > len(prefix) {
		return target.Target{}, ErrClientHelloCorrupt
	}

	for i < end {
		if i+4 > end {
			return target.Target{}, ErrClientHelloCorrupt
		}
		extType := binary.BigEndian.Uint16(prefix[i : i+2])
		extBodyLen := int(binary.BigEndian.Uint16(prefix[i+2 : i+4]))
		bodyStart := i + 4
		bodyEnd := bodyStart + extBodyLen
		if bodyEnd > end {
			return target.Target{}, ErrClientHelloCorrupt
		}

		if extType == extensionServerName {
			return parseServerNameExtension(prefix[bodyStart:bodyEnd])
		}
		i = bodyEnd
	}

	return target.Target{}, ErrSNINotPresent
}

// parseServerNameExtension parses the body of a server_name extension:
// a 2-byte server-name-list length, then one or more entries of
// type(1) len(2) name(len).
func parseServerNameExtension(body []byte) (target.Target, error) {
	if len(body) < 2 {
		return target.Target{}, ErrClientHelloCorrupt
	}
	listLen := int(binary.BigEndian.Uint16(body[:2]))
	if 2+listLen > len(body) {
		return target.Target{}, ErrClientHelloCorrupt
	}
	list := body[2 : 2+listLen]

	if len(list) < 3 {
		return target.Target{}, ErrClientHelloCorrupt
	}
	entryType := list[0]
	if entryType != sniHostNameType {
		return target.Target{}, errors.Errorf("sniff: unsupported server-name type %#x", entryType)
	}
	nameLen := int(binary.BigEndian.Uint16(list[1:3]))
	if 3+nameLen != len(list) {
		return target.Target{}, ErrClientHelloCorrupt
	}

	return target.Hostname(string(list[3 : 3+nameLen])), nil
}

// skipLenPrefixed advances i past a field made of an lengthBytes-byte
// big-endian length followed by that many bytes.
func skipLenPrefixed(buf []byte, i, lengthBytes int) (int, error) {
	if i+lengthBytes > len(buf) {
		return 0, ErrClientHelloCorrupt
	}
	var n int
	switch lengthBytes {
	case 1:
		n = int(buf[i])
	case 2:
		n = int(binary.BigEndian.Uint16(buf[i : i+2]))
	default:
		return 0, errors.Errorf("sniff: unsupported length-prefix width %d", lengthBytes)
	}
	next := i + lengthBytes + n
	if next > len(buf) {
		return 0, ErrClientHelloCorrupt
	}
	return next, nil
}
