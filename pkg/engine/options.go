package engine

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Operation kinds registered with the progress monitor.
const (
	KindReconcile = "reconcile"
	KindFirmware  = "firmware"
)

// DefaultCallTimeout bounds a single backend call.
const DefaultCallTimeout = 2 * time.Minute

type options struct {
	logger     zerolog.Logger
	tracer     trace.Tracer
	recorder   Recorder
	policy     PolicyChecker
	resolver   ArtifactResolver
	opener     ArtifactOpener
	reconciler *Reconciler
}

func defaultOptions() options {
	return options{
		logger:     zerolog.Nop(),
		tracer:     otel.Tracer("github.com/openfroyo/biosctl/pkg/engine"),
		recorder:   nopRecorder{},
		opener:     func(path string) (io.ReadCloser, error) { return os.Open(path) },
		reconciler: NewReconciler(),
	}
}

// Option configures a Coordinator or FirmwareSequencer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the OpenTelemetry tracer used for operation and phase spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithPolicyChecker adds a policy evaluation step to validation.
func WithPolicyChecker(p PolicyChecker) Option {
	return func(o *options) { o.policy = p }
}

// WithArtifactResolver sets how firmware artifact references become local files.
func WithArtifactResolver(r ArtifactResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithArtifactOpener overrides how local artifacts are opened for checksums.
func WithArtifactOpener(open ArtifactOpener) Option {
	return func(o *options) {
		if open != nil {
			o.opener = open
		}
	}
}

// WithReconciler overrides the reconciler, typically to pin its clock.
func WithReconciler(r *Reconciler) Option {
	return func(o *options) {
		if r != nil {
			o.reconciler = r
		}
	}
}
