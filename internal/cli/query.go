package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/pentimento/internal/filter"
	"github.com/roach88/pentimento/internal/store"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Where []string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query current document state",
		Long: `Query the current state of a collection. Filters compile to
SQLite json_extract conditions; results come back in id order.

Filter terms combine with AND:
  path=value   equality (value parses as number or bool when it looks
               like one)
  path<value   numeric comparison (also <=, >, >=)
  path         existence

Examples:
  pentimento query --db ./data.db -c readings
  pentimento query -w unit=C -w "temp>20" --db ./data.db -c readings
  pentimento query -w site.name --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "filter term (repeatable)")

	return cmd
}

func runQuery(ctx context.Context, opts *QueryOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pred, err := filter.Parse(opts.Where)
	if err != nil {
		return WrapExitError(ExitCommandError, "parsing filter", err)
	}

	cfg := opts.Config()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	col, err := st.Collection(ctx, cfg.Collection)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening collection", err)
	}

	docs, err := col.QueryRecords(ctx, st.DB(), pred)
	if err != nil {
		return WrapExitError(ExitFailure, "querying", err)
	}
	return printDocs(out, docs)
}
