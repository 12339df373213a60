package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/ledger"
)

type resultsOptions struct {
	root *rootOptions

	ledgerPath string
	asJSON     bool
	remove     bool
}

func (o *resultsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ledgerPath, "ledger", "", "sqlite ledger path (overrides ledger.path)")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print records as JSON")
	cmd.Flags().BoolVar(&o.remove, "delete", false, "delete the named batch")
}

func (o *resultsOptions) run(ctx context.Context, out io.Writer, args []string) error {
	path := o.root.settings.Ledger.Path
	if o.ledgerPath != "" {
		path = o.ledgerPath
	}
	if path == "" {
		return errors.New("no ledger configured: set ledger.path or --ledger")
	}

	store, err := ledger.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		if o.remove {
			return errors.New("--delete needs a batch id")
		}
		return o.listBatches(ctx, out, store)
	}

	batchID := args[0]
	if o.remove {
		if err := store.DeleteBatch(ctx, batchID); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted batch %s\n", batchID)
		return nil
	}
	return o.listRecords(ctx, out, store, batchID)
}

func (o *resultsOptions) listBatches(ctx context.Context, out io.Writer, store ledger.Store) error {
	batches, err := store.Batches(ctx)
	if err != nil {
		return err
	}
	if o.asJSON {
		return writeJSON(out, batches)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tTASKS\tFAILED\tUPDATED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", b.BatchID, b.Tasks, b.Failed, b.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (o *resultsOptions) listRecords(ctx context.Context, out io.Writer, store ledger.Store, batchID string) error {
	recs, err := store.List(ctx, batchID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("batch %s: %w", batchID, ledger.ErrNotFound)
	}
	if o.asJSON {
		return writeJSON(out, recs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPHASE\tOUTCOME\tATTEMPTS\tDURATION\tDETAIL")
	for _, r := range recs {
		d := r.Error
		if d == "" && r.PromptID != "" {
			d = "prompt " + r.PromptID
		}
		if d == "" {
			d = oneLine(r.Output, 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.TaskID, r.Phase, r.Outcome, r.Attempts, r.Duration().Round(time.Millisecond), d)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCmdResults(root *rootOptions) *cobra.Command {
	o := &resultsOptions{root: root}

	cmd := &cobra.Command{
		Use:   "results [batch-id]",
		Short: "Show task outcomes recorded in the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
	o.addFlags(cmd)
	return cmd
}
