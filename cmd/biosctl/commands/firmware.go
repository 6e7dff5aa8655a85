package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/artifacts"
	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/engine"
)

func newFirmwareCommand(g *globalOptions) *cobra.Command {
	var (
		inventory string
		targetID  string
		dryRun    bool
		flash     channels.FirmwareConfig
		backend   = &backendOptions{}
		s3        artifacts.S3Config
	)

	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Sequence firmware updates from an inventory",
		Long: `Plan and apply firmware updates one component at a time.

Items are ordered by priority (BMC is always Critical, BIOS at least High) and
then by component. A failed Critical item stops the sequence; other failures
are recorded and the sequence continues. Artifacts may be local paths or
s3://bucket/key references and are verified against their checksum before
flashing.`,
		Example: `  # Show the plan
  biosctl firmware --inventory server-01-fw.yaml --dry-run

  # Flash through the vendor tool on a management host, staging artifacts over SFTP
  biosctl firmware --inventory server-01-fw.yaml \
    --flash-cmd "fwtool flash --component {component} --file {artifact}" \
    --ssh-host mgmt-01 --s3-endpoint minio.lab:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, g)
			if err != nil {
				return err
			}
			defer rt.Close()

			target, items, err := rt.loader.LoadFirmwareInventory(inventory)
			if err != nil {
				return err
			}
			if targetID != "" {
				target = targetID
			}
			if target == "" {
				return fmt.Errorf("inventory %s names no target; use --target", inventory)
			}

			resolver := &artifacts.Resolver{Local: &artifacts.LocalResolver{BaseDir: filepath.Dir(inventory)}}
			if s3.Endpoint != "" {
				resolver.S3, err = artifacts.NewS3Resolver(s3, rt.logger)
				if err != nil {
					return err
				}
			}

			var updater engine.FirmwareUpdater = dryRunUpdater{}
			runCtx := context.WithoutCancel(ctx)
			if !dryRun {
				if flash.FlashCommand == "" {
					return fmt.Errorf("--flash-cmd is required unless --dry-run is set")
				}
				conn, err := backend.connect(runCtx, rt.logger)
				if err != nil {
					return err
				}
				defer conn.close()
				updater, err = channels.NewToolFirmwareUpdater(conn.runner, conn.uploader, flash, rt.logger.With().Str("target_id", target).Logger())
				if err != nil {
					return err
				}
			}

			req := &engine.FirmwareRequest{
				OperationID: rt.monitor.Create(engine.KindFirmware, target),
				Target:      target,
				Items:       items,
				DryRun:      dryRun,
				CallTimeout: backend.callTimeout,
			}
			stop := rt.cancelOnDone(ctx, []string{req.OperationID})
			seq := engine.NewFirmwareSequencer(updater, rt.monitor, rt.engineOptions(engine.WithArtifactResolver(resolver))...)
			report, runErr := seq.Run(runCtx, req)
			stop()
			rt.saveFirmware(runCtx, report)

			out := cmd.OutOrStdout()
			if g.jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				printFirmwareReport(out, report)
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&inventory, "inventory", "i", "", "firmware inventory file")
	cmd.Flags().StringVar(&targetID, "target", "", "target id (overrides the inventory)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without flashing")
	cmd.Flags().StringVar(&flash.FlashCommand, "flash-cmd", "", "flash command ({component}, {name}, {artifact}, {version})")
	cmd.Flags().StringVar(&flash.VersionCommand, "version-cmd", "", "command printing the running version after a flash")
	cmd.Flags().StringVar(&flash.RemoteDir, "remote-dir", "", "staging directory on the management host")
	cmd.Flags().StringVar(&s3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint for s3:// artifacts")
	cmd.Flags().StringVar(&s3.Region, "s3-region", "", "S3 region")
	cmd.Flags().BoolVar(&s3.UseSSL, "s3-ssl", true, "use TLS for the object store")
	cmd.Flags().StringVar(&s3.CacheDir, "artifact-cache", os.TempDir(), "download directory for remote artifacts")
	backend.register(cmd)
	_ = cmd.MarkFlagRequired("inventory")

	return cmd
}

// dryRunUpdater is never called: dry runs stop after planning.
type dryRunUpdater struct{}

func (dryRunUpdater) UpdateFirmware(context.Context, engine.FirmwareItem, string) (string, error) {
	return "", fmt.Errorf("dry run")
}
