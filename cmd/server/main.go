package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/config"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("appshare", pflag.ContinueOnError)
	envFiles := flagSet.StringSlice("env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	port := flagSet.String("port", "", "HTTP port (overrides PORT)")
	host := flagSet.String("host", "", "listen address (overrides HOST)")
	dev := flagSet.Bool("dev", false, "development logging at debug level")
	noAuth := flagSet.Bool("no-auth", false, "trust the X-User-ID header instead of bearer tokens")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadDotEnv(*envFiles...); err != nil {
		return err
	}
	if *noAuth {
		// Validate rejects an empty JWT secret unless auth is off
		if err := os.Setenv("AUTH_DISABLED", "true"); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
