package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"apitables/internal/api"
	"apitables/internal/domain"
	"apitables/internal/service/tables"
)

func newFetchCmd(opts *options) *cobra.Command {
	var (
		schema  string
		columns []string
		where   []string
	)
	cmd := &cobra.Command{
		Use:   "fetch <table>",
		Short: "Fetch rows of a table from the upstream API",
		Long: `Fetch rows of a table. Every --where col=value adds an equality predicate;
repeat a column to fetch several keys in one command. Columns that the read
endpoint requires must be constrained.`,
		Example: `  apitables fetch pets --where pet_id=1 --where pet_id=2
  apitables fetch pets --columns id,name --where status=available -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicates, err := parseWhere(where)
			if err != nil {
				return err
			}
			a, closeFn, err := opts.openApp(cmd, true)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := a.Tables.Fetch(cmd.Context(), tables.FetchRequest{
				Schema:     schema,
				Table:      args[0],
				Columns:    columns,
				Predicates: predicates,
			})
			if err != nil {
				return err
			}
			return printRows(cmd, res.ColumnNames(), res.Rows, len(res.Requests))
		},
	}
	cmd.Flags().StringVar(&schema, "schema", domain.DefaultSchema, "Schema of the table")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to return (default: all visible)")
	addWhereFlag(cmd.Flags(), &where)
	return cmd
}

func newQueryCmd(opts *options) *cobra.Command {
	var (
		schema string
		query  string
		where  []string
	)
	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Run SQL over the rows fetched for a table",
		Long: `Fetch rows of a table with the given predicates and run a SQL statement
over them. The fetched rows are exposed as the view t.`,
		Example: `  apitables query pets --where pet_id=1 --where pet_id=2 --sql "SELECT name FROM t ORDER BY id"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicates, err := parseWhere(where)
			if err != nil {
				return err
			}
			a, closeFn, err := opts.openApp(cmd, true)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := a.Tables.Query(cmd.Context(), tables.QueryRequest{
				Schema:     schema,
				Table:      args[0],
				SQL:        query,
				Predicates: predicates,
			})
			if err != nil {
				return err
			}
			return printRows(cmd, res.Columns, res.Rows, 0)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", domain.DefaultSchema, "Schema of the table")
	cmd.Flags().StringVar(&query, "sql", "", "SQL to run over view t (required)")
	addWhereFlag(cmd.Flags(), &where)
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

// addWhereFlag registers the repeatable --where predicate flag. Values are
// kept verbatim so commas inside a value survive.
func addWhereFlag(f *pflag.FlagSet, dst *[]string) {
	f.StringArrayVarP(dst, "where", "w", nil, "Equality predicate col=value (repeatable)")
}

// parseWhere turns col=value arguments into a predicate map. Repeated
// columns accumulate values.
func parseWhere(args []string) (map[string][]string, error) {
	out := make(map[string][]string, len(args))
	for _, arg := range args {
		col, val, ok := strings.Cut(arg, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid --where %q: expected col=value", arg)
		}
		out[col] = append(out[col], val)
	}
	return out, nil
}

func printRows(cmd *cobra.Command, columns []string, rows [][]any, requests int) error {
	if rows == nil {
		rows = [][]any{}
	}
	if isJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), api.Rows{
			Columns:  columns,
			Rows:     rows,
			RowCount: len(rows),
			Requests: requests,
		})
	}
	printTable(cmd.OutOrStdout(), columns, formatRows(rows))
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "(%d rows)\n", len(rows))
	return nil
}
