// Package cli implements the apitables operator command line. Commands
// compile the configured document in-process and talk to the upstream API
// directly; no server is required.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"apitables/internal/app"
	"apitables/internal/config"
	"apitables/internal/db"
	"apitables/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	output     string
	spec       string
	baseURI    string
	metaDB     string
	noHistory  bool
	verbose    bool
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{"error": err.Error()}
			if code := errorCode(err); code != "" {
				errObj["code"] = code
			}
			_ = printJSON(rootCmd.OutOrStdout(), errObj)
		} else {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "apitables",
		Short: "Query an OpenAPI-described HTTP API as relational tables",
		Long: `apitables compiles an OpenAPI 3 document into a catalog of tables and
fetches rows from the upstream API on demand.

Configuration is read from --config (YAML) and APITABLES_* environment
variables; --spec and --base-uri override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return validateOutputFormat(opts.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format: table|json")
	pf.StringVar(&opts.spec, "spec", "", "Document location (file path, http(s)://, s3://, gs://, az://)")
	pf.StringVar(&opts.baseURI, "base-uri", "", "Upstream API base URI")
	pf.StringVar(&opts.metaDB, "meta-db", "", "Path to the SQLite fetch history")
	pf.BoolVar(&opts.noHistory, "no-history", false, "Do not record fetches")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")

	rootCmd.AddCommand(
		newTablesCmd(opts),
		newDescribeCmd(opts),
		newFetchCmd(opts),
		newQueryCmd(opts),
		newLintCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config file and environment, applies flag overrides
// and validates the result.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := o.rawConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// rawConfig is loadConfig without validation, for commands that never reach
// the upstream API.
func (o *options) rawConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.spec != "" {
		cfg.SpecLocation = o.spec
	}
	if o.baseURI != "" {
		cfg.BaseURI = o.baseURI
	}
	if o.metaDB != "" {
		cfg.MetaDBPath = o.metaDB
	}
	return cfg, nil
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openMetastore opens and migrates the fetch history database.
func openMetastore(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	writeDB, err := db.OpenSQLite(path, db.ModeWrite, 0)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	if _, err := db.RunMigrations(ctx, writeDB, logger); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate metastore: %w", err)
	}
	return writeDB, nil
}

// openApp builds the application for one command. The returned close
// function releases the metastore, if one was opened.
func (o *options) openApp(cmd *cobra.Command, withHistory bool) (*app.App, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	logger := o.logger(cmd.ErrOrStderr())

	deps := app.Deps{Cfg: cfg, Logger: logger}
	closeFn := func() {}
	if withHistory && !o.noHistory {
		writeDB, err := openMetastore(ctx, cfg.MetaDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		deps.WriteDB = writeDB
		closeFn = func() { _ = writeDB.Close() }
	}

	a, err := app.New(ctx, deps)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return a, closeFn, nil
}

// errorCode maps domain errors to the stable codes reported in JSON output.
func errorCode(err error) string {
	var (
		notFound   *domain.NotFoundError
		noSchema   *domain.SchemaNotFoundError
		validation *domain.ValidationError
		predicate  *domain.PredicateError
		upstream   *domain.UpstreamError
		document   *domain.DocumentError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSchema):
		return "NOT_FOUND"
	case errors.As(err, &predicate):
		return "PREDICATE_REQUIRED"
	case errors.As(err, &validation):
		return "INVALID_ARGUMENT"
	case errors.As(err, &upstream):
		return "UPSTREAM_ERROR"
	case errors.As(err, &document):
		return "INVALID_DOCUMENT"
	default:
		return ""
	}
}

func isJSON(cmd *cobra.Command) bool {
	return getOutputFormat(cmd) == "json"
}
