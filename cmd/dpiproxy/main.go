// Command dpiproxy is a SOCKS5 CONNECT-only proxy that applies configurable
// DPI-evasion desync transformations to the first outbound payload of each
// relayed connection.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dpidesync/config"
	"dpidesync/internal/log"
	"dpidesync/proxy"
)

func main() {
	params, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpiproxy: %v\n", err)
		os.Exit(1)
	}

	level := log.LevelError
	switch {
	case params.Debug >= 2:
		level = log.LevelDebug
	case params.Debug >= 1:
		level = log.LevelWarn
	}
	logger := log.New(level)

	srv, err := proxy.NewProxyServer(params, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpiproxy: %v\n", err)
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Warnf("dpiproxy: listening on %s", srv.Addr())

	select {
	case sig := <-sigChan:
		logger.Warnf("dpiproxy: received %s, shutting down", sig)
		if err := srv.Stop(); err != nil {
			logger.Errorf("dpiproxy: stop: %v", err)
		}
		<-serveErr

	case err := <-serveErr:
		if err != nil {
			logger.Errorf("dpiproxy: serve: %v", err)
			os.Exit(1)
		}
	}
}
