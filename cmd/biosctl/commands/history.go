package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/stores"
)

func newHistoryCommand(g *globalOptions) *cobra.Command {
	var (
		limit       int
		operationID string
		kind        string
		target      string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded operations",
		Long: `List operations recorded in the --db store, newest first. With --operation the
events, setting changes and firmware results of one operation are shown.`,
		Example: `  biosctl history --db biosctl.db --limit 20
  biosctl history --db biosctl.db --operation 3f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, g.dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if operationID != "" {
				return showOperation(cmd, out, store, operationID, g.jsonOutput)
			}

			ops, err := store.ListOperations(ctx, stores.OperationFilter{Kind: kind, Target: target, Limit: limit})
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return writeJSON(out, ops)
			}
			table := newTable("OPERATION", "KIND", "TARGET", "STATUS", "PROGRESS", "CREATED", "MESSAGE")
			for _, op := range ops {
				table.AddRow(op.ID, op.Kind, op.Target, op.Status, fmt.Sprintf("%.0f%%", op.Percentage),
					op.CreatedAt.Local().Format(time.DateTime), op.Message)
			}
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of operations to list")
	cmd.Flags().StringVar(&operationID, "operation", "", "show one operation in detail")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (reconcile, firmware)")
	cmd.Flags().StringVar(&target, "target", "", "filter by target")

	return cmd
}

func showOperation(cmd *cobra.Command, out io.Writer, store stores.Store, id string, asJSON bool) error {
	ctx := cmd.Context()
	op, err := store.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	events, err := store.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	changes, err := store.ListSettingChanges(ctx, id)
	if err != nil {
		return err
	}
	firmware, err := store.ListFirmwareResults(ctx, id)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, map[string]interface{}{
			"operation": op,
			"events":    events,
			"changes":   changes,
			"firmware":  firmware,
		})
	}

	fmt.Fprintf(out, "Operation %s (%s) on %s: %s, %.0f%%\n", op.ID, op.Kind, op.Target, op.Status, op.Percentage)
	if op.Message != "" {
		fmt.Fprintf(out, "%s\n", op.Message)
	}

	if len(changes) > 0 {
		fmt.Fprintln(out)
		table := newTable("SETTING", "OLD", "NEW", "CHANNEL", "BATCH", "STATUS", "ERROR")
		for _, c := range changes {
			table.AddRow(c.Name, c.OldValue, c.NewValue, c.Channel, c.BatchIndex, c.Status, c.Error)
		}
		fmt.Fprintln(out, table)
	}

	if len(firmware) > 0 {
		fmt.Fprintln(out)
		table := newTable("COMPONENT", "NAME", "PRIORITY", "SUCCESS", "OLD", "NEW", "DURATION", "ERROR")
		for _, f := range firmware {
			table.AddRow(f.Component, f.Name, f.Priority, f.Success, f.OldVersion, f.NewVersion, f.Duration, f.Error)
		}
		fmt.Fprintln(out, table)
	}

	fmt.Fprintln(out)
	table := newTable("TIME", "EVENT", "SUBTASK", "PROGRESS", "MESSAGE")
	for _, ev := range events {
		msg := ev.Message
		if ev.Error != "" {
			msg = fmt.Sprintf("%s: %s", msg, ev.Error)
		}
		table.AddRow(ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Subtask, fmt.Sprintf("%.0f%%", ev.Percentage), msg)
	}
	fmt.Fprintln(out, table)
	return nil
}
