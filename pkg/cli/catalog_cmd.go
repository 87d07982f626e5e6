package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"apitables/internal/api"
	"apitables/internal/domain"
)

func newTablesCmd(opts *options) *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables compiled from the document",
		Example: `  apitables tables --spec petstore.yaml --base-uri https://petstore.example.com
  apitables tables -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			names, err := a.Tables.ListTables(ctx, schema)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), api.NameList{Names: names})
			}

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				t, handle, err := a.Tables.Describe(ctx, schema, name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					name,
					strconv.Itoa(len(t.VisibleColumnNames())),
					endpointText(handle.Read),
					strings.Join(requiredPredicates(t), ","),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"name", "columns", "read", "requires"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&schema, "schema", domain.DefaultSchema, "Schema to list")
	return cmd
}

func newDescribeCmd(opts *options) *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns and endpoints of a table",
		Long: `Show every column of a table with its type, nullability and the
methods for which it is a required or optional predicate.`,
		Example: `  apitables describe pets
  apitables describe pets -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer closeFn()

			t, handle, err := a.Tables.Describe(cmd.Context(), schema, args[0])
			if err != nil {
				return err
			}
			detail := api.NewTableDetail(schema, t, handle)
			if isJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), detail)
			}

			w := cmd.OutOrStdout()
			printDetail(w, [][2]string{
				{"Table", schema + "." + t.Name},
				{"Read", endpointText(handle.Read)},
				{"Insert", endpointText(handle.Insert)},
				{"Update", endpointText(handle.Update)},
				{"Delete", endpointText(handle.Delete)},
			})
			_, _ = fmt.Fprintln(w)

			rows := make([][]string, 0, len(detail.Columns))
			for i, c := range detail.Columns {
				if t.Columns[i].Hidden {
					continue
				}
				rows = append(rows, []string{
					c.Name,
					c.Type,
					strconv.FormatBool(c.Nullable),
					predicateText(c.RequiresPredicate),
					predicateText(c.OptionalPredicate),
					c.Comment,
				})
			}
			printTable(w, []string{"column", "type", "nullable", "required", "optional", "comment"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&schema, "schema", domain.DefaultSchema, "Schema of the table")
	return cmd
}

func endpointText(e domain.Endpoint) string {
	if !e.Supported() {
		return "-"
	}
	return string(e.Method) + " " + e.Path
}

// predicateText renders a method->location map as "GET:path,PUT:body".
func predicateText(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for method, loc := range m {
		parts = append(parts, method+":"+loc)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// requiredPredicates lists the columns a read must constrain.
func requiredPredicates(t *domain.Table) []string {
	var out []string
	for _, c := range t.Columns {
		if _, ok := c.RequiredLocation(domain.MethodGet); ok {
			out = append(out, c.Name)
		}
	}
	return out
}
