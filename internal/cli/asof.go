package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pentimento/internal/filter"
	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
	"github.com/roach88/pentimento/internal/timeline"
)

// AsOfOptions holds flags for the asof command.
type AsOfOptions struct {
	*RootOptions
	At    string
	All   bool
	Where []string
}

// NewAsOfCommand creates the asof command.
func NewAsOfCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AsOfOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "asof [record-id]",
		Short: "Reconstruct document state at a past timestamp",
		Long: `Reconstruct a document (or, with --all, every document) as it
existed at the given cutoff, by replaying its change history backward
over current state. Only collections written with the
update-with-history strategy carry the history this needs.

Exit codes:
  0 - Document reconstructed
  1 - Record did not exist at the cutoff
  2 - Command error

Examples:
  pentimento asof r1 --at 2026-08-01T00:00:00Z --db ./data.db -c readings
  pentimento asof --all --at 2026-08-01T00:00:00Z --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsOf(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "cutoff timestamp, RFC 3339 (required)")
	_ = cmd.MarkFlagRequired("at")
	cmd.Flags().BoolVar(&opts.All, "all", false, "reconstruct every document that existed at the cutoff")
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "filter term for --all (repeatable)")

	return cmd
}

func runAsOf(ctx context.Context, opts *AsOfOptions, args []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.All == (len(args) == 1) {
		return NewExitError(ExitCommandError, "provide a record id or --all, not both")
	}

	cutoff, err := time.Parse(time.RFC3339, opts.At)
	if err != nil {
		return WrapExitError(ExitCommandError, "parsing --at", err)
	}

	engine, closeStore, err := openEngine(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.All {
		pred, err := filter.Parse(opts.Where)
		if err != nil {
			return WrapExitError(ExitCommandError, "parsing filter", err)
		}
		docs, err := engine.AsOfMatch(ctx, filter.Matcher(pred), cutoff)
		if err != nil {
			return WrapExitError(ExitFailure, "reconstructing", err)
		}
		return printDocs(out, docs)
	}

	doc, err := engine.AsOf(ctx, args[0], cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "reconstructing", err)
	}
	return printDocs(out, []model.Document{doc})
}

// openEngine opens the configured store and builds a reconstruction
// engine over the configured collection. The returned func closes the
// store.
func openEngine(ctx context.Context, opts *RootOptions) (*timeline.Engine, func(), error) {
	cfg := opts.Config()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "opening database", err)
	}
	col, err := st.Collection(ctx, cfg.Collection)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "opening collection", err)
	}
	engine, err := timeline.New(col)
	if err != nil {
		st.Close()
		return nil, nil, WrapExitError(ExitCommandError, "building engine", err)
	}
	return engine, func() { _ = st.Close() }, nil
}

func printDocs(out *OutputFormatter, docs []model.Document) error {
	if out.JSON() {
		return out.Success(docs)
	}
	for _, doc := range docs {
		line, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(out.Writer, string(line))
	}
	return nil
}
