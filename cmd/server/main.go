// Package main is the entry point for the apitables HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"apitables/internal/app"
	"apitables/internal/config"
	internaldb "apitables/internal/db"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("apitables: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// writeDB serializes history inserts; readDB serves /v1/fetches.
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer writeDB.Close() //nolint:errcheck
	defer readDB.Close()  //nolint:errcheck

	version, err := internaldb.RunMigrations(ctx, writeDB, logger)
	if err != nil {
		return fmt.Errorf("migrate metastore: %w", err)
	}
	logger.Info("metastore ready", "path", cfg.MetaDBPath, "schema_version", version)

	a, err := app.New(ctx, app.Deps{Cfg: cfg, WriteDB: writeDB, ReadDB: readDB, Logger: logger})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	logger.Info("try: curl " + tablesURL(cfg.Server.ListenAddr, "default"))
	return a.Serve(ctx)
}

// tablesURL is the listing endpoint of one schema on a local listener.
func tablesURL(listenAddr, schema string) string {
	return "http://" + curlHostForListenAddr(listenAddr) + "/v1/schemas/" + url.PathEscape(schema) + "/tables"
}

// curlHostForListenAddr turns a listen address into a host:port a local
// client can reach. Wildcard and empty hosts become localhost.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
