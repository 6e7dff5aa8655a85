// Package telemetry provides logging, metrics and tracing for biosctl.
//
// Logging uses zerolog, metrics are exposed through a private Prometheus
// registry, and tracing uses OpenTelemetry with stdout or OTLP exporters.
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	monitor := progress.NewMonitor()
//	monitor.AddObserver(telemetry.NewLogObserver(tel.Logger.Zerolog()))
//	monitor.AddObserver(telemetry.NewMetricsObserver(tel.Metrics, monitor.Get))
//
// Metrics implements engine.Recorder, so it can be handed to the coordinator
// and the firmware sequencer directly. A disabled Metrics is a no-op.
package telemetry
