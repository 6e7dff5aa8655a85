package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel      string
	logFormat     string
	dbPath        string
	metricsAddr   string
	traceExporter string
	traceEndpoint string
	policyPaths   []string
	enabled       []string
	disabled      []string
	jsonOutput    bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "biosctl",
		Short: "BIOS and firmware reconciliation for server fleets",
		Long: `biosctl converges the BIOS configuration of servers onto a desired template
and sequences their firmware updates.

Settings are applied in batches through the fast management API (Channel A)
when the device profile allows it, and one at a time through the vendor tool
(Channel B) otherwise. A rejected batch is retried setting by setting on the
vendor tool. Preserved settings such as MAC addresses are never written.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&g.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&g.dbPath, "db", "", "SQLite database for operation history (empty disables persistence)")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&g.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&g.traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP collector endpoint")
	flags.StringSliceVar(&g.policyPaths, "policy", nil, "Rego policy files or directories")
	flags.StringSliceVar(&g.enabled, "enable-policy", nil, "policies to turn on, by name")
	flags.StringSliceVar(&g.disabled, "disable-policy", nil, "policies to skip, by name")
	flags.BoolVar(&g.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand(g))
	rootCmd.AddCommand(newPlanCommand(g))
	rootCmd.AddCommand(newApplyCommand(g))
	rootCmd.AddCommand(newFirmwareCommand(g))
	rootCmd.AddCommand(newHistoryCommand(g))

	return rootCmd
}
