package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <record-id>",
		Short: "Show a record's change history",
		Long: `Print every change history entry for a record, oldest first.
Each entry shows the batch correlation id, the operation, and the
changed leaf paths with their previous values (full final state for
delete entries).

Examples:
  pentimento history r1 --db ./data.db -c readings
  pentimento history r1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runHistory(ctx context.Context, opts *RootOptions, id string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	engine, closeStore, err := openEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	deltas, err := engine.History(ctx, id)
	if err != nil {
		return WrapExitError(ExitFailure, "reading history", err)
	}

	if out.JSON() {
		return out.Success(deltas)
	}
	for _, d := range deltas {
		changes, err := json.Marshal(d.Changes)
		if err != nil {
			return err
		}
		fmt.Fprintf(out.Writer, "%s  %-6s  batch=%s  %s\n",
			d.Timestamp.UTC().Format(time.RFC3339), d.Operation, d.BatchID, string(changes))
	}
	if len(deltas) == 0 {
		fmt.Fprintf(out.Writer, "no history for record %s\n", id)
	}
	return nil
}
