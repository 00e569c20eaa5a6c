package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pentimento/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and register the collection",
		Long: `Create the SQLite database file, apply the schema, and register the
configured collection so later loads start from a known layout.

Running init against an existing database is harmless.

Examples:
  pentimento init --db ./data.db -c readings`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runInit(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg := opts.Config()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	if _, err := st.Collection(ctx, cfg.Collection); err != nil {
		return WrapExitError(ExitCommandError, "registering collection", err)
	}

	if out.JSON() {
		return out.Success(map[string]string{
			"database":   cfg.DBPath,
			"collection": cfg.Collection,
		})
	}
	fmt.Fprintf(out.Writer, "initialized %s with collection %q\n", cfg.DBPath, cfg.Collection)
	return nil
}
