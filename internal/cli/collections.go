package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pentimento/internal/store"
)

// NewCollectionsCommand creates the collections command.
func NewCollectionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections in the database",
		Long: `List every collection registered in the database, oldest first.

Examples:
  pentimento collections --db ./data.db
  pentimento collections --db ./data.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollections(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runCollections(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Config().DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	names, err := st.ListCollections(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing collections", err)
	}

	if out.JSON() {
		return out.Success(names)
	}
	for _, name := range names {
		fmt.Fprintln(out.Writer, name)
	}
	if len(names) == 0 {
		fmt.Fprintln(out.Writer, "no collections")
	}
	return nil
}
