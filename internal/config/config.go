// Package config parses the command-line flags and environment
// variables that configure the gateway process.
package config

import (
	"flag"
	"net"
	"os"

	"github.com/pkg/errors"
)

const (
	// DefaultUpstream is the SOCKS5 proxy address used when --proxy is
	// not given.
	DefaultUpstream = "127.0.0.1:1080"
	// DefaultHTTPPort is the HTTP listener port used when --http-port is
	// not given.
	DefaultHTTPPort = 8080
	// DefaultHTTPSPort is the HTTPS listener port used when --https-port
	// is not given.
	DefaultHTTPSPort = 8433
	// DefaultCtrlFile is the control-pipe path used when --enable-control-pipe
	// is set but CTRL_FILE is unset.
	DefaultCtrlFile = "/run/harmony-rs"
)

// Config holds the parsed command-line flags for the gateway.
type Config struct {
	Upstream          *net.TCPAddr
	HTTPPort          int
	HTTPSPort         int
	RuleFile          string
	Fwmark            uint32
	EnableControlPipe bool
	CtrlFile          string
	Debug             bool
}

// Parse parses args (as in os.Args[1:]) into a Config. It resolves
// CTRL_FILE from the environment only when --enable-control-pipe is
// set, falling back to DefaultCtrlFile.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("harmonygate", flag.ContinueOnError)

	var upstream string
	fs.StringVar(&upstream, "proxy", DefaultUpstream, "SOCKS5 upstream proxy address")
	fs.StringVar(&upstream, "x", DefaultUpstream, "shorthand for --proxy")
	httpPort := fs.Int("http-port", DefaultHTTPPort, "HTTP listener port")
	httpsPort := fs.Int("https-port", DefaultHTTPSPort, "HTTPS listener port")
	ruleFile := fs.String("rule-file", "", "optional bootstrap rules JSON file")
	fwmark := fs.Uint("fwmark", 0, "optional SO_MARK applied to outbound sockets")
	enablePipe := fs.Bool("enable-control-pipe", false, "create a control FIFO for live rule insertion")
	debug := fs.Bool("debug", false, "enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "config: invalid arguments")
	}

	addr, err := net.ResolveTCPAddr("tcp", upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "config: invalid upstream address %q", upstream)
	}

	cfg := &Config{
		Upstream:          addr,
		HTTPPort:          *httpPort,
		HTTPSPort:         *httpsPort,
		RuleFile:          *ruleFile,
		Fwmark:            uint32(*fwmark),
		EnableControlPipe: *enablePipe,
		Debug:             *debug,
	}

	if cfg.EnableControlPipe {
		cfg.CtrlFile = os.Getenv("CTRL_FILE")
		if cfg.CtrlFile == "" {
			cfg.CtrlFile = DefaultCtrlFile
		}
	}

	return cfg, nil
}
