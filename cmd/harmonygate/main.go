// Command harmonygate is a transparent TCP gateway that routes HTTPS
// (by SNI) and HTTP (by Host header) connections through an upstream
// SOCKS5 proxy when they match a configurable domain ruleset, and
// dials everything else directly.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/monsw/harmonygate/internal/config"
	"github.com/monsw/harmonygate/internal/dispatch"
	"github.com/monsw/harmonygate/internal/rules"
	"github.com/monsw/harmonygate/internal/socks5"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "install" {
		os.Exit(runInstall(os.Args[2:]))
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(0)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(0)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("harmonygate exiting", zap.Error(err))
		os.Exit(0)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, log *zap.Logger) error {
	engine, err := rules.NewFromFile(cfg.RuleFile, rules.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.EnableControlPipe {
		if err := engine.ServeControlPipe(ctx, cfg.CtrlFile); err != nil {
			return err
		}
	}

	socksClient := socks5.New(cfg.Upstream,
		socks5.WithFwmark(cfg.Fwmark),
		socks5.WithLogger(log),
	)
	dispatcher := dispatch.New(engine, socksClient,
		dispatch.WithFwmark(cfg.Fwmark),
		dispatch.WithLogger(log),
	)

	httpLn, err := net.Listen("tcp", fmt.Sprintf("[::]:%d", cfg.HTTPPort))
	if err != nil {
		return err
	}
	defer httpLn.Close()

	httpsLn, err := net.Listen("tcp", fmt.Sprintf("[::]:%d", cfg.HTTPSPort))
	if err != nil {
		return err
	}
	defer httpsLn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	log.Info("harmonygate listening",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("https_port", cfg.HTTPSPort),
		zap.String("upstream", cfg.Upstream.String()),
	)

	return dispatcher.Serve(ctx, httpLn, httpsLn)
}
