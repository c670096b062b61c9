package sniff

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/monsw/harmonygate/internal/target"
)

// ErrHostNotFound is returned when the stream ends before a Host header
// line is seen.
var ErrHostNotFound = errors.New("sniff: Host header not found before connection ended")

// HTTPHost reads the request line (retained but not interpreted) and
// then headers, one per line, from r until it finds a header whose key
// case-sensitively matches "Host". It returns the buffer of every byte
// consumed so far (for verbatim replay to the upstream) and the
// hostname Target built from the header value.
//
// If the header value has no explicit port, defaultPort supplies one.
func HTTPHost(r io.Reader, defaultPort uint16) (*Buffer, target.Target, error) {
	buf := &Buffer{}

	// request line: consumed into the buffer, not otherwise interpreted.
	if _, err := buf.ReadLine(r); err != nil {
		return buf, target.Target{}, err
	}

	for {
		line, err := buf.ReadLine(r)
		if err != nil {
			return buf, target.Target{}, errors.Wrap(ErrHostNotFound, err.Error())
		}

		key, value, ok := splitHeaderLine(line)
		if ok && key == "Host" {
			t := target.Hostname(value)
			if !strings.Contains(value, ":") {
				t = t.WithPort(defaultPort)
			}
			return buf, t, nil
		}
	}
}

// splitHeaderLine splits "Key: value" into its trimmed key and value. A
// line with no colon is returned as (line, "", false).
func splitHeaderLine(line string) (key, value string, ok bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, "", false
	}
	return line[:i], strings.TrimSpace(line[i+1:]), true
}
