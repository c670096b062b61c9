package rules

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// controlFIFOMode is write-only, world-writable: the FIFO is a
// write-only control surface and must never gain read bits.
const controlFIFOMode = 0o222

// ServeControlPipe creates a FIFO at path (removing any pre-existing
// file first), starts a reader loop on its own goroutine, and returns.
// The reader submits each line as an Insert and stops once ctx is
// cancelled, checked each time it is about to open the FIFO. It reopens
// the FIFO whenever it reaches EOF, so a single writer closing its end
// never silences the pipe permanently.
//
// Go's os.File reads park the calling goroutine without blocking an OS
// thread, so a plain goroutine here never blocks the per-connection
// workers sharing the same runtime.
func (e *Engine) ServeControlPipe(ctx context.Context, path string) error {
	if err := createFIFO(path); err != nil {
		return err
	}
	e.pipeLog.WithField("path", path).Info("control pipe ready")

	go e.readControlPipe(ctx, path)
	return nil
}

func createFIFO(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "rules: control pipe %q already exists and could not be removed", path)
		}
	}
	if err := unix.Mkfifo(path, controlFIFOMode); err != nil {
		return errors.Wrapf(err, "rules: failed to create control pipe %q", path)
	}
	// Mkfifo's mode is reduced by the process umask; set it explicitly.
	if err := os.Chmod(path, controlFIFOMode); err != nil {
		return errors.Wrapf(err, "rules: failed to set permissions on control pipe %q", path)
	}
	return nil
}

func (e *Engine) readControlPipe(ctx context.Context, path string) {
	for {
		if ctx.Err() != nil {
			return
		}

		f, err := os.Open(path)
		if err != nil {
			e.pipeLog.WithError(err).WithField("path", path).Warn("cannot open control pipe, retrying")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			host := normalizeControlLine(scanner.Text())
			if host == "" {
				continue
			}
			e.Insert(ctx, host)
		}
		f.Close()
		// EOF (writer closed its end): loop around and reopen.
	}
}

// normalizeControlLine reduces a control-pipe line to a bare hostname: a
// "http://" or "https://" line is parsed as a URL and reduced to its
// domain; any other line is the hostname itself.
func normalizeControlLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		u, err := url.Parse(line)
		if err != nil || u.Hostname() == "" {
			return line
		}
		return u.Hostname()
	}
	return line
}
