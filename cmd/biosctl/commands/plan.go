package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/engine"
)

func newPlanCommand(g *globalOptions) *cobra.Command {
	opts := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how a template would be applied",
		Long: `Reconcile a template against live settings without writing anything.

The plan:
  - Pulls the live settings from the snapshot
  - Computes the diff, skipping preserved settings
  - Validates preserve, required and conflict rules and the Rego policies
  - Routes every change to Channel A or Channel B and groups the batches
  - Estimates the execution time`,
		Example: `  # Plan one target
  biosctl plan --profile r650.yaml --template uefi-secure.yaml --snapshot server-01.yaml

  # Plan with larger batches, favouring speed
  biosctl plan -p r650.yaml -t uefi-secure.yaml -s server-01.yaml --batch-size 20 --prefer-speed`,
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

			var results []*engine.ReconcileResult
			failed := 0
			for _, t := range targets {
				req, err := opts.request(rt, t, profile, tmpl, true, nil)
				if err != nil {
					return err
				}
				fast := channels.NewSnapshotChannel(t.snapshot, rt.logger)
				res, err := engine.NewCoordinator(fast, nil, rt.monitor, rt.engineOptions()...).Execute(ctx, req)
				if err != nil {
					failed++
				}
				rt.saveReconcile(ctx, res)
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for i, res := range results {
					if i > 0 {
						fmt.Fprintln(out)
					}
					printPlan(out, res)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d target(s) failed planning", failed, len(results))
			}
			return nil
		},
	}

	opts.register(cmd)
	return cmd
}
