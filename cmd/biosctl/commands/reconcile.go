package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/biosctl/pkg/channels"
	"github.com/openfroyo/biosctl/pkg/engine"
)

// reconcileOptions are the inputs shared by plan and apply.
type reconcileOptions struct {
	profilePath  string
	templatePath string
	factsPath    string
	snapshots    []string
	targets      []string
	preferSpeed  bool
	batchSize    int
}

func (o *reconcileOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.profilePath, "profile", "p", "", "device profile file")
	flags.StringVarP(&o.templatePath, "template", "t", "", "configuration template file")
	flags.StringVar(&o.factsPath, "facts", "", "YAML facts passed to template scripts")
	flags.StringSliceVarP(&o.snapshots, "snapshot", "s", nil, "live settings snapshot, one per target")
	flags.StringSliceVar(&o.targets, "target", nil, "target ids, paired with --snapshot in order")
	flags.BoolVar(&o.preferSpeed, "prefer-speed", false, "prefer the faster channel for fallback-tier settings")
	flags.IntVar(&o.batchSize, "batch-size", 0, "Channel A batch size (0 uses the profile or default)")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("snapshot")
}

// target is one resolved target of a run.
type target struct {
	id       string
	snapshot string
}

func (o *reconcileOptions) resolveTargets() ([]target, error) {
	if len(o.targets) > 0 && len(o.targets) != len(o.snapshots) {
		return nil, fmt.Errorf("got %d --target values for %d snapshots", len(o.targets), len(o.snapshots))
	}
	out := make([]target, 0, len(o.snapshots))
	seen := make(map[string]bool)
	for i, path := range o.snapshots {
		id := ""
		if len(o.targets) > 0 {
			id = o.targets[i]
		} else if snap, err := channels.LoadSnapshot(path); err == nil && snap.Target != "" {
			id = snap.Target
		} else {
			id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate target %s", id)
		}
		seen[id] = true
		out = append(out, target{id: id, snapshot: path})
	}
	return out, nil
}

// load reads the profile and template once for all targets.
func (o *reconcileOptions) load(ctx context.Context, rt *runtime) (*engine.DeviceProfile, *engine.Template, error) {
	profile, err := rt.loader.LoadProfile(o.profilePath)
	if err != nil {
		return nil, nil, err
	}
	facts, err := loadFacts(o.factsPath)
	if err != nil {
		return nil, nil, err
	}
	tmpl, err := rt.loader.LoadTemplate(ctx, o.templatePath, facts)
	if err != nil {
		return nil, nil, err
	}
	return profile, tmpl, nil
}

func (o *reconcileOptions) request(rt *runtime, t target, profile *engine.DeviceProfile, tmpl *engine.Template, dryRun bool, b *backendOptions) (*engine.ReconcileRequest, error) {
	r := engine.ReconcileRequest{
		OperationID: rt.monitor.Create(engine.KindReconcile, t.id),
		Target:      t.id,
		Template:    tmpl,
		Profile:     profile,
		DryRun:      dryRun,
		PreferSpeed: o.preferSpeed,
		BatchSize:   o.batchSize,
	}
	if b != nil {
		r.CallTimeout = b.callTimeout
	}
	return engine.NewReconcileRequest(r)
}
