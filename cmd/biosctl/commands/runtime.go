package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/biosctl/pkg/config"
	"github.com/openfroyo/biosctl/pkg/engine"
	"github.com/openfroyo/biosctl/pkg/policy"
	"github.com/openfroyo/biosctl/pkg/progress"
	"github.com/openfroyo/biosctl/pkg/stores"
	"github.com/openfroyo/biosctl/pkg/telemetry"
)

// runtime holds the services a command run shares.
type runtime struct {
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	loader  *config.Loader
	monitor *progress.Monitor
	policy  *policy.Engine
	store   stores.Store
}

// newRuntime builds telemetry, the progress monitor and its observers, the
// policy engine and, when --db is set, the store. The metrics endpoint runs
// until ctx is done.
func newRuntime(ctx context.Context, g *globalOptions) (*runtime, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = g.logLevel
	cfg.Logging.Format = g.logFormat
	cfg.Tracing.Exporter = g.traceExporter
	cfg.Tracing.Enabled = g.traceExporter != "" && g.traceExporter != "none"
	cfg.Tracing.Endpoint = g.traceEndpoint
	cfg.Metrics.Enabled = g.metricsAddr != ""
	cfg.Metrics.ListenAddress = g.metricsAddr

	tel, err := telemetry.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	r := &runtime{
		tel:    tel,
		logger: logger,
		loader: config.NewLoader(config.WithLogger(logger)),
	}

	r.monitor = progress.NewMonitor(
		progress.WithLogger(logger),
		progress.WithObserver(telemetry.NewLogObserver(logger)),
	)
	if cfg.Metrics.Enabled {
		r.monitor.AddObserver(telemetry.NewMetricsObserver(tel.Metrics, r.monitor.Get))
		if err := tel.Metrics.Serve(ctx, g.metricsAddr, logger); err != nil {
			return nil, fmt.Errorf("failed to serve metrics: %w", err)
		}
	}

	r.policy, err = policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(g.policyPaths) > 0 {
		if err := r.policy.LoadPolicies(ctx, g.policyPaths); err != nil {
			return nil, err
		}
	}
	for _, name := range g.enabled {
		if err := r.policy.EnablePolicy(name); err != nil {
			return nil, fmt.Errorf("--enable-policy: %w", err)
		}
	}
	for _, name := range g.disabled {
		if err := r.policy.DisablePolicy(name); err != nil {
			return nil, fmt.Errorf("--disable-policy: %w", err)
		}
	}

	if g.dbPath != "" {
		store, err := openStore(ctx, g.dbPath)
		if err != nil {
			return nil, err
		}
		r.store = store
		r.monitor.AddObserver(stores.NewStoreObserver(store, r.monitor, logger))
	}

	return r, nil
}

func openStore(ctx context.Context, path string) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// engineOptions returns the coordinator and sequencer options for this run.
func (r *runtime) engineOptions(extra ...engine.Option) []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(r.logger),
		engine.WithTracer(r.tel.Tracer.Tracer()),
		engine.WithRecorder(r.tel.Metrics),
		engine.WithPolicyChecker(r.policy),
	}
	return append(opts, extra...)
}

// saveReconcile persists a result when a store is configured.
func (r *runtime) saveReconcile(ctx context.Context, res *engine.ReconcileResult) {
	if r.store == nil || res == nil || res.OperationID == "" {
		return
	}
	if err := r.store.SaveReconcileResult(ctx, res); err != nil {
		r.logger.Warn().Err(err).Str("operation_id", res.OperationID).Msg("Failed to persist reconcile result")
	}
}

func (r *runtime) saveFirmware(ctx context.Context, rep *engine.FirmwareReport) {
	if r.store == nil || rep == nil || rep.OperationID == "" {
		return
	}
	if err := r.store.SaveFirmwareReport(ctx, rep); err != nil {
		r.logger.Warn().Err(err).Str("operation_id", rep.OperationID).Msg("Failed to persist firmware report")
	}
}

// Close flushes traces and closes the store.
func (r *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

// cancelOnDone turns cancellation of ctx into a cooperative cancellation
// request for every listed operation. The coordinator stops at its next
// checkpoint and records the Cancelled status. The returned function stops
// the watch.
func (r *runtime) cancelOnDone(ctx context.Context, ids []string) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, id := range ids {
				if err := r.monitor.RequestCancellation(id, "interrupted by user"); err != nil && !errors.Is(err, progress.ErrOperationTerminal) {
					r.logger.Debug().Err(err).Str("operation_id", id).Msg("Cancellation request ignored")
				}
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}

// loadFacts reads a YAML facts file for template scripts.
func loadFacts(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts: %w", err)
	}
	facts := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("failed to parse facts %s: %w", path, err)
	}
	return facts, nil
}
