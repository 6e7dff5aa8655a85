package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/engine"
)

func newApplyCommand(g *globalOptions) *cobra.Command {
	var (
		opts     = &reconcileOptions{}
		backend  = &backendOptions{}
		tool     channels.ToolConfig
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a template to one or more targets",
		Long: `Reconcile and apply a template. Targets run concurrently, each with its own
channels. Channel A batches go to the snapshot backend; Channel B settings and
the recovery of rejected batches go through the vendor tool command.

Interrupting the command requests cancellation: every target stops at its next
checkpoint and is recorded as cancelled.`,
		Example: `  # Apply with a local vendor tool
  biosctl apply -p r650.yaml -t uefi-secure.yaml -s server-01.yaml \
    --tool-cmd "syscfg /bcs '' {name} {value}"

  # Apply to two targets, running the tool on a management host
  biosctl apply -p r650.yaml -t uefi-secure.yaml -s a.yaml -s b.yaml \
    --tool-cmd "racadm set BIOS.{name} {value}" --ssh-host mgmt-01 --ssh-key ~/.ssh/id_ed25519`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, g)
			if err != nil {
				return err
			}
			defer rt.Close()

			targets, err := opts.resolveTargets()
			if err != nil {
				return err
			}
			profile, tmpl, err := opts.load(ctx, rt)
			if err != nil {
				return err
			}

			// Backend calls must not be torn down mid-flight by an interrupt;
			// cancellation is requested through the monitor instead.
			runCtx := context.WithoutCancel(ctx)

			runs := make([]engine.TargetRun, 0, len(targets))
			var ids []string
			for _, t := range targets {
				req, err := opts.request(rt, t, profile, tmpl, false, backend)
				if err != nil {
					return err
				}
				run := engine.TargetRun{
					Request: req,
					Fast:    channels.NewSnapshotChannel(t.snapshot, rt.logger.With().Str("target_id", t.id).Logger()),
				}
				if tool.SetCommand != "" {
					conn, err := backend.connect(runCtx, rt.logger)
					if err != nil {
						return err
					}
					defer conn.close()
					tc, err := channels.NewToolChannel(conn.runner, tool, rt.logger.With().Str("target_id", t.id).Logger())
					if err != nil {
						return err
					}
					run.Tool = tc
				}
				runs = append(runs, run)
				ids = append(ids, req.OperationID)
			}

			stop := rt.cancelOnDone(ctx, ids)
			results := engine.NewFleet(rt.monitor, parallel, rt.engineOptions()...).ReconcileAll(runCtx, runs)
			stop()

			failed := 0
			for _, res := range results {
				rt.saveReconcile(runCtx, res)
				if res == nil || !res.Success {
					failed++
				}
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				printResults(out, results)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d target(s) did not converge", failed, len(results))
			}
			return nil
		},
	}

	opts.register(cmd)
	backend.register(cmd)
	cmd.Flags().StringVar(&tool.SetCommand, "tool-cmd", "", "vendor tool command applying one setting ({name}, {value})")
	cmd.Flags().StringVar(&tool.GetCommand, "tool-get-cmd", "", "vendor tool command reading one setting ({name})")
	cmd.Flags().StringVar(&tool.ProbeCommand, "tool-probe-cmd", "", "command checking the vendor tool is installed")
	cmd.Flags().IntVar(&parallel, "parallel", engine.DefaultFleetParallelism, "targets reconciled at once")

	return cmd
}
