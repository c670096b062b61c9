package sniff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientHelloFixture is the ClientHello fixture from the reference
// implementation, SNI "example.ulfheim.net".
var clientHelloFixture = []byte{
	0x16, 0x03, 0x01, 0x00, 0xa5,
	0x01, 0x00, 0x00, 0xa1,
	0x03, 0x03,
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
	0x00,
	0x00, 0x20, 0xcc, 0xa8, 0xcc, 0xa9, 0xc0, 0x2f, 0xc0, 0x30, 0xc0, 0x2b, 0xc0, 0x2c, 0xc0, 0x13,
	0xc0, 0x09, 0xc0, 0x14, 0xc0, 0x0a, 0x00, 0x9c, 0x00, 0x9d, 0x00, 0x2f, 0x00, 0x35, 0xc0, 0x12,
	0x00, 0x0a,
	0x01, 0x00,
	0x00, 0x58,
	0x00, 0x00, 0x00, 0x18, 0x00, 0x16, 0x00, 0x00, 0x13, 0x65, 0x78, 0x61, 0x6d, 0x70, 0x6c, 0x65,
	0x2e, 0x75, 0x6c, 0x66, 0x68, 0x65, 0x69, 0x6d, 0x2e, 0x6e, 0x65, 0x74,
	0x00, 0x05, 0x00, 0x05, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x0a, 0x00, 0x0a, 0x00, 0x08, 0x00, 0x1d, 0x00, 0x17, 0x00, 0x18, 0x00, 0x19,
	0x00, 0x0b, 0x00, 0x02, 0x01, 0x00,
	0x00, 0x0d, 0x00, 0x12, 0x00, 0x10, 0x04, 0x01, 0x04, 0x03, 0x05, 0x01, 0x05, 0x03, 0x06, 0x01,
	0x06, 0x03, 0x02, 0x01, 0x02, 0x03,
	0xff, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x12, 0x00, 0x00,
}

func TestTLSServerNameFixture(t *testing.T) {
	tgt, err := TLSServerName(clientHelloFixture)
	require.NoError(t, err)
	assert.Equal(t, "example.ulfheim.net", tgt.Host())
}

func TestTLSServerNameShortPacket(t *testing.T) {
	_, err := TLSServerName(clientHelloFixture[:10])
	assert.ErrorIs(t, err, ErrClientHelloTooShort)
}

func TestTLSServerNameBadMagic(t *testing.T) {
	bad := append([]byte(nil), clientHelloFixture...)
	bad[0] = 0x15
	_, err := TLSServerName(bad)
	assert.ErrorIs(t, err, ErrNotTLSHandshake)
}

func TestTLSServerNameMissingSNI(t *testing.T) {
	// Truncate before the extensions block that carries the SNI entry.
	_, err := TLSServerName(clientHelloFixture[:55])
	assert.Error(t, err)
}

func TestHTTPHostFound(t *testing.T) {
	r := strings.NewReader("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	buf, tgt, err := HTTPHost(r, 80)
	require.NoError(t, err)
	assert.Equal(t, "example.com", tgt.Host())
	assert.Contains(t, string(buf.Bytes()), "GET / HTTP/1.1")
	assert.Contains(t, string(buf.Bytes()), "Host: example.com")
}

func TestHTTPHostAppliesDefaultPort(t *testing.T) {
	r := strings.NewReader("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, tgt, err := HTTPHost(r, 8080)
	require.NoError(t, err)
	_, port, err := tgt.HostPort()
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)
}

func TestHTTPHostKeepsExplicitPort(t *testing.T) {
	r := strings.NewReader("GET / HTTP/1.1\r\nHost: example.com:9000\r\n\r\n")
	_, tgt, err := HTTPHost(r, 80)
	require.NoError(t, err)
	_, port, err := tgt.HostPort()
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), port)
}

func TestHTTPHostNotFound(t *testing.T) {
	r := strings.NewReader("GET / HTTP/1.1\r\nX-Foo: bar\r\n\r\n")
	_, _, err := HTTPHost(r, 80)
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestBufferReadLineSequence(t *testing.T) {
	r := strings.NewReader("hello\nworld\r\n")
	buf := &Buffer{}

	line1, err := buf.ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", line1)

	line2, err := buf.ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "world", line2)

	_, err = buf.ReadLine(r)
	assert.Error(t, err)
}

func TestBufferExceededIsFatal(t *testing.T) {
	huge := strings.Repeat("a", bufferCapacity+10)
	r := strings.NewReader(huge)
	buf := &Buffer{}
	_, err := buf.ReadLine(r)
	assert.ErrorIs(t, err, ErrBufferExceeded)
}
