package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"apitables/internal/api"
	"apitables/internal/db/repository"
	"apitables/internal/domain"
)

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune the recorded upstream fetches",
	}
	cmd.AddCommand(newHistoryListCmd(opts), newHistoryPurgeCmd(opts))
	return cmd
}

func newHistoryListCmd(opts *options) *cobra.Command {
	var (
		table      string
		status     string
		principal  string
		since      time.Duration
		maxResults int
		pageToken  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded fetches, newest first",
		Example: `  apitables history list --table pets --status FAILED
  apitables history list --since 1h -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := domain.ParsePageToken(pageToken); err != nil {
				return err
			}
			repo, closeFn, err := opts.openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			filter := domain.FetchHistoryFilter{
				Page: domain.PageRequest{MaxResults: maxResults, PageToken: pageToken},
			}
			if table != "" {
				filter.Table = &table
			}
			if status != "" {
				filter.Status = &status
			}
			if principal != "" {
				filter.PrincipalName = &principal
			}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.From = &from
			}

			records, total, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := api.FetchList{
				Fetches:       make([]api.FetchRecord, len(records)),
				Total:         total,
				NextPageToken: filter.Page.NextToken(total),
			}
			for i, r := range records {
				out.Fetches[i] = api.NewFetchRecord(r)
			}
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), out)
			}

			rows := make([][]string, len(out.Fetches))
			for i, r := range out.Fetches {
				rows[i] = []string{
					r.CreatedAt, r.Table, r.Method, r.URL, r.Status,
					intText(r.StatusCode), int64Text(r.RowCount), int64Text(r.DurationMs),
					r.PrincipalName,
				}
			}
			printTable(cmd.OutOrStdout(),
				[]string{"time", "table", "method", "url", "status", "code", "rows", "ms", "principal"}, rows)
			if out.NextPageToken != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "more results: --page-token %s\n", out.NextPageToken)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&table, "table", "", "Only fetches of this table")
	f.StringVar(&status, "status", "", "Only fetches with this status (SUCCEEDED|FAILED)")
	f.StringVar(&principal, "principal", "", "Only fetches made for this principal")
	f.DurationVar(&since, "since", 0, "Only fetches newer than this duration")
	f.IntVar(&maxResults, "max-results", domain.DefaultMaxResults, "Page size")
	f.StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func newHistoryPurgeCmd(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:     "purge",
		Short:   "Delete recorded fetches older than a retention period",
		Example: `  apitables history purge --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return domain.ErrValidation("--older-than must be positive")
			}
			repo, closeFn, err := opts.openHistory(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := repo.DeleteBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d fetch record(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention period, e.g. 720h (required)")
	_ = cmd.MarkFlagRequired("older-than")
	return cmd
}

// openHistory opens the metastore without compiling the document.
func (o *options) openHistory(cmd *cobra.Command) (*repository.FetchHistoryRepo, func(), error) {
	cfg, err := o.rawConfig()
	if err != nil {
		return nil, nil, err
	}
	writeDB, err := openMetastore(cmd.Context(), cfg.MetaDBPath, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return nil, nil, err
	}
	return repository.NewFetchHistoryRepo(writeDB), func() { _ = writeDB.Close() }, nil
}

func intText(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func int64Text(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
