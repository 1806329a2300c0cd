// The humphrey command runs the configurable static, proxy and WebSocket
// server built on the humphrey framework.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grinkers/humphrey"
	"github.com/grinkers/humphrey/server"
)

// Exit codes.
const (
	exitOK            = 0
	exitPluginFailure = 1
	exitBindFailure   = 2
	exitBadConfig     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultConfig := "./humphrey.conf"
	if env := os.Getenv("HUMPHREY_CONFIG"); env != "" {
		defaultConfig = env
	}

	configPath := flag.String(
		"config",
		defaultConfig,
		"path to the configuration file",
	)
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "humphrey: %v\n", err)
		return exitBadConfig
	}

	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "humphrey: %v\n", err)

		if errors.Is(err, server.ErrPluginFatal) {
			return exitPluginFailure
		}

		return exitBadConfig
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		if errors.Is(err, humphrey.ErrBindFailure) {
			fmt.Fprintf(os.Stderr, "humphrey: %v\n", err)
			return exitBindFailure
		}

		fmt.Fprintf(os.Stderr, "humphrey: %v\n", err)

		return exitBadConfig
	}

	return exitOK
}
