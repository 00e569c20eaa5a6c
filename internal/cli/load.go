package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/pentimento/internal/loader"
	"github.com/roach88/pentimento/internal/model"
	"github.com/roach88/pentimento/internal/store"
	"github.com/roach88/pentimento/internal/validate"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Strategy  string
	BatchSize int
	Schema    string
	Async     bool
}

// LoadReport summarizes a load run.
type LoadReport struct {
	Documents int   `json:"documents"`
	Batches   int   `json:"batches"`
	Inserted  int64 `json:"inserted"`
	Updated   int64 `json:"updated"`
	Deleted   int64 `json:"deleted"`
}

// statPrinter groups large counts (1,234,567) in text output.
var statPrinter = message.NewPrinter(language.English)

func (r LoadReport) String() string {
	return statPrinter.Sprintf("%d documents in %d batches: %d inserted, %d updated, %d deleted",
		r.Documents, r.Batches, r.Inserted, r.Updated, r.Deleted)
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Write a stream of JSON documents",
		Long: `Load documents from a JSON file (or stdin with "-") into a collection.

The input is either one JSON array of documents or a stream of JSON
objects. Documents are written in batches; each batch gets its own
correlation id. With --strategy update-with-history each batch is
transactional and produces history entries.

Examples:
  pentimento load readings.json --db ./data.db -c readings
  cat stream.ndjson | pentimento load - --strategy update-with-history
  pentimento load readings.json --schema reading.cue --async`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", model.UpdateWithHistory.String(),
		"update strategy (insert|update|replace|update-with-history)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "documents per batch (default from config)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file; invalid documents are discarded")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "write batches through the bounded async pool")

	return cmd
}

func runLoad(ctx context.Context, opts *LoadOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	strategy, err := model.ParseStrategy(opts.Strategy)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	docs, err := readDocuments(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "reading documents", err)
	}
	if len(docs) == 0 {
		return out.Success(LoadReport{})
	}

	cfg := opts.Config()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.BatchSize
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	col, err := st.Collection(ctx, cfg.Collection)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening collection", err)
	}

	loaderOpts := []loader.Option{
		loader.WithAsyncWorkers(int64(cfg.AsyncWorkers)),
	}
	schemaPath := opts.Schema
	if schemaPath == "" {
		schemaPath = cfg.SchemaPath
	}
	if schemaPath != "" {
		schema, err := validate.LoadSchema(schemaPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading schema", err)
		}
		loaderOpts = append(loaderOpts, loader.WithValidator(schema))
	}

	coord, err := loader.New(col, loaderOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "building coordinator", err)
	}

	report := LoadReport{Documents: len(docs)}
	batches := splitBatches(docs, batchSize)
	report.Batches = len(batches)

	if opts.Async {
		futures := make([]*loader.Future, len(batches))
		for i, batch := range batches {
			futures[i] = coord.AsyncWriteMany(ctx, batch, strategy, nil)
		}
		for _, f := range futures {
			res, err := f.Wait(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "batch write failed", err)
			}
			accumulate(&report, res)
		}
	} else {
		for _, batch := range batches {
			res, err := coord.WriteMany(ctx, batch, strategy, nil)
			if err != nil {
				return WrapExitError(ExitFailure, "batch write failed", err)
			}
			accumulate(&report, res)
			out.VerboseLog("batch %s: %d inserted, %d updated, %d deleted",
				res.BatchID, res.Inserted, res.Updated, res.Deleted)
		}
	}

	return out.Success(report)
}

func accumulate(report *LoadReport, res *model.WriteResult) {
	report.Inserted += res.Inserted
	report.Updated += res.Updated
	report.Deleted += res.Deleted
}

func splitBatches(docs []model.Document, size int) [][]model.Document {
	var out [][]model.Document
	for len(docs) > size {
		out = append(out, docs[:size])
		docs = docs[size:]
	}
	return append(out, docs)
}

// readDocuments accepts either one JSON array or a stream of JSON objects.
func readDocuments(path string, stdin io.Reader) ([]model.Document, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var docs []model.Document
	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		for dec.More() {
			var doc model.Document
			if err := dec.Decode(&doc); err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}

	// Object stream: the opening brace of the first document was already
	// consumed, so that one is finished token by token.
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("input must be a JSON array or object stream")
	}
	first, err := decodeOpenObject(dec)
	if err != nil {
		return nil, err
	}
	docs = append(docs, first)
	for {
		var doc model.Document
		if err := dec.Decode(&doc); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// decodeOpenObject finishes decoding an object whose opening brace was
// already consumed from dec.
func decodeOpenObject(dec *json.Decoder) (model.Document, error) {
	doc := model.Document{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key expected, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		doc[key] = value
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}
