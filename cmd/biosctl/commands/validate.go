package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/config"
	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/policy"
)

func newValidateCommand(g *globalOptions) *cobra.Command {
	var (
		profilePath  string
		profileDir   string
		templatePath string
		factsPath    string
		showPolicy   string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate device profiles and templates",
		Long: `Load device profiles and templates, check them against the built-in schema,
and route the template settings through the method selector. The template is also
checked against the enabled conflict policies (built-in and --policy).

With --watch the files are re-validated whenever they change, and the --policy
paths are reloaded on change.`,
		Example: `  # Validate a profile and a template
  biosctl validate --profile profiles/r650.yaml --template templates/uefi-secure.yaml

  # Validate every profile in a directory and keep watching
  biosctl validate --profile-dir profiles/ --policy policies/ --watch

  # Print one policy
  biosctl validate --show-policy secure-boot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showPolicy == "" && profilePath == "" && profileDir == "" {
				return fmt.Errorf("one of --profile or --profile-dir is required")
			}
			rt, err := newRuntime(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer rt.Close()

			if showPolicy != "" {
				return printPolicy(cmd.OutOrStdout(), rt.policy, showPolicy)
			}

			run := func() error {
				return runValidate(cmd.Context(), cmd.OutOrStdout(), rt, profilePath, profileDir, templatePath, factsPath)
			}
			if err := run(); err != nil && !watch {
				return err
			} else if err != nil {
				rt.logger.Error().Err(err).Msg("Validation failed")
			}
			if !watch {
				return nil
			}

			if len(g.policyPaths) > 0 {
				if err := rt.policy.WatchPolicies(cmd.Context(), g.policyPaths); err != nil {
					return err
				}
			}
			var paths []string
			for _, p := range []string{profilePath, profileDir, templatePath} {
				if p != "" {
					paths = append(paths, p)
				}
			}
			w := config.NewWatcher(rt.logger, 0)
			if err := w.Watch(cmd.Context(), paths, func(changed []string) {
				rt.logger.Info().Strs("files", changed).Msg("Configuration changed, re-validating")
				if err := run(); err != nil {
					rt.logger.Error().Err(err).Msg("Validation failed")
				}
			}); err != nil {
				return err
			}
			w.Wait()
			return nil
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "device profile file")
	cmd.Flags().StringVar(&profileDir, "profile-dir", "", "directory of device profiles")
	cmd.Flags().StringVarP(&templatePath, "template", "t", "", "configuration template file")
	cmd.Flags().StringVar(&factsPath, "facts", "", "YAML facts passed to template scripts")
	cmd.Flags().StringVar(&showPolicy, "show-policy", "", "print one policy and exit")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate on file changes")

	return cmd
}

func runValidate(ctx context.Context, out io.Writer, rt *runtime, profilePath, profileDir, templatePath, factsPath string) error {
	loader := rt.loader
	profiles := make(map[string]*engine.DeviceProfile)
	if profileDir != "" {
		loaded, err := loader.LoadProfileDir(profileDir)
		if err != nil {
			return err
		}
		profiles = loaded
	}
	var profile *engine.DeviceProfile
	if profilePath != "" {
		p, err := loader.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		profiles[p.Name] = p
		profile = p
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := profiles[name]
		fmt.Fprintf(out, "profile %s: %d method(s), %d preserve pattern(s), %d conflict rule(s)\n",
			name, len(p.Methods), len(p.Preserve), len(p.Conflicts))
	}

	if templatePath == "" {
		return nil
	}
	facts, err := loadFacts(factsPath)
	if err != nil {
		return err
	}
	tmpl, err := loader.LoadTemplate(ctx, templatePath, facts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "template %s: %d setting(s)\n", tmpl.ID, len(tmpl.Settings))

	for _, p := range rt.policy.ListPolicies() {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "policy %s (%s): %s\n", p.Name, p.Severity, state)
	}
	issues, err := rt.policy.CheckState(ctx, tmpl.ID, tmpl.Settings, nil)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		fmt.Fprintf(out, "warning: policy %s: %s\n", issue.Rule, issue.Message)
	}

	if profile == nil {
		return nil
	}
	for _, pattern := range profile.Preserve {
		for name := range tmpl.Settings {
			if pattern.Matches(name) {
				fmt.Fprintf(out, "warning: template sets preserved setting %s\n", name)
			}
		}
	}

	sel, err := engine.NewMethodSelector().Select(engine.SelectionRequest{
		Settings:  tmpl.Settings,
		Methods:   profile.Methods,
		BatchSize: profile.BatchSize,
		Rules:     engine.DefaultRuleTable().WithOverrides(profile.Rules),
	})
	if err != nil {
		return err
	}
	if len(sel.Unknown) > 0 {
		fmt.Fprintf(out, "warning: %d setting(s) have an unrecognised tier and will not be applied\n", len(sel.Unknown))
	}
	fmt.Fprintf(out, "routing: %d via channel A, %d via channel B, %d batch(es), estimated %s\n",
		len(sel.ChannelA), len(sel.ChannelB), len(sel.Batches), sel.EstimatedTime)
	return nil
}

func printPolicy(out io.Writer, policies *policy.Engine, name string) error {
	p, err := policies.GetPolicy(name)
	if err != nil {
		return err
	}
	source := p.Source
	if source == "" {
		source = "built-in"
	}
	fmt.Fprintf(out, "policy %s (%s, %s)\n", p.Name, p.Severity, source)
	if p.Description != "" {
		fmt.Fprintf(out, "%s\n", p.Description)
	}
	if !p.Enabled {
		fmt.Fprintln(out, "disabled")
	}
	fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(p.Rego))
	return nil
}
