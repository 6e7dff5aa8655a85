package engine

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// FirmwareRequest is a request to sequence firmware updates on one target.
type FirmwareRequest struct {
	OperationID string
	Target      string
	Items       []FirmwareItem

	// DryRun returns the plan without touching the target.
	DryRun bool

	CallTimeout time.Duration
	Poll        PollConfig
}

// Validate checks the request and fills defaults.
func (r *FirmwareRequest) Validate() error {
	if r.Target == "" {
		return NewValidationError("invalid firmware request", fmt.Errorf("target is required")).WithCode(ErrCodeInvalidRequest)
	}
	for i, item := range r.Items {
		if err := item.Component.Validate(); err != nil {
			return NewValidationError("invalid firmware request", fmt.Errorf("item %d: %w", i, err)).
				WithCode(ErrCodeInvalidRequest).WithTarget(r.Target)
		}
	}
	if r.CallTimeout < 0 {
		return NewValidationError("invalid firmware request", fmt.Errorf("call timeout must not be negative")).
			WithCode(ErrCodeInvalidRequest).WithTarget(r.Target)
	}
	if r.CallTimeout == 0 {
		r.CallTimeout = 30 * time.Minute
	}
	if r.Poll == (PollConfig{}) {
		r.Poll = PollConfig{Interval: 10 * time.Second, MaxWait: time.Hour}
	}
	if err := r.Poll.Validate(); err != nil {
		return NewValidationError("invalid firmware request", err).WithCode(ErrCodeInvalidRequest).WithTarget(r.Target)
	}
	return nil
}

// FirmwareReport is the structured outcome of a firmware run.
type FirmwareReport struct {
	OperationID string                 `json:"operation_id"`
	Target      string                 `json:"target"`
	Status      progress.Status        `json:"status"`
	Success     bool                   `json:"success"`
	DryRun      bool                   `json:"dry_run"`
	Plan        []FirmwareItem         `json:"plan"`
	Results     []FirmwareUpdateResult `json:"results"`

	// AbortedBy names the Critical item whose failure stopped the run.
	AbortedBy string `json:"aborted_by,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// PlanFirmware drops items that need no update and orders the rest by
// effective priority, then component rank. The returned items carry their
// effective priority. The input slice is not modified.
func PlanFirmware(items []FirmwareItem) []FirmwareItem {
	plan := make([]FirmwareItem, 0, len(items))
	for _, item := range items {
		if !item.UpdateRequired {
			continue
		}
		item.Priority = item.EffectivePriority()
		plan = append(plan, item)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		pi, pj := plan[i].Priority.Rank(), plan[j].Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return plan[i].Component.Rank() < plan[j].Component.Rank()
	})
	return plan
}

// FirmwareSequencer applies firmware updates one at a time. Update services
// are exclusive on a target, so items never overlap.
type FirmwareSequencer struct {
	updater FirmwareUpdater
	monitor *progress.Monitor
	opts    options
}

// NewFirmwareSequencer creates a sequencer for one target.
func NewFirmwareSequencer(updater FirmwareUpdater, monitor *progress.Monitor, opts ...Option) *FirmwareSequencer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &FirmwareSequencer{updater: updater, monitor: monitor, opts: o}
}

// Run executes the plan for req. The report is always non-nil and the
// returned error equals report.Err.
//
// A failed Critical item stops the run: later items are not attempted and do
// not appear in the results. Other failures are recorded and the run goes on.
func (s *FirmwareSequencer) Run(ctx context.Context, req *FirmwareRequest) (report *FirmwareReport, err error) {
	report = &FirmwareReport{}
	if req == nil {
		report.Status = progress.StatusFailed
		report.Err = NewValidationError("invalid firmware request", fmt.Errorf("request is nil")).WithCode(ErrCodeInvalidRequest)
		report.Error = report.Err.Error()
		return report, report.Err
	}
	r := *req
	report.Target, report.DryRun = r.Target, r.DryRun
	if err := r.Validate(); err != nil {
		report.Status = progress.StatusFailed
		report.Err = err
		report.Error = err.Error()
		return report, err
	}

	opID := r.OperationID
	if opID == "" {
		opID = s.monitor.Create(KindFirmware, r.Target)
	}
	report.OperationID = opID
	report.Plan = PlanFirmware(r.Items)

	logger := s.opts.logger.With().Str("operation_id", opID).Str("target_id", r.Target).Logger()
	ctx, span := s.opts.tracer.Start(ctx, "firmware.run", trace.WithAttributes(
		attribute.String("operation.id", opID),
		attribute.String("target.id", r.Target),
		attribute.Int("firmware.items", len(report.Plan)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("Firmware sequence fault")
			fault := NewInternalError(fmt.Sprintf("unexpected fault: %v", p), nil).
				WithCode(ErrCodePanic).WithTarget(r.Target)
			span.SetStatus(codes.Error, fault.Error())
			s.complete(report, false, fault)
		}
		err = report.Err
	}()

	total := len(report.Plan)
	if r.DryRun {
		total = 0
	}
	if err := s.monitor.Start(opID, total); err != nil {
		report.Status = progress.StatusFailed
		report.Err = NewInternalError("failed to start operation", err).WithTarget(r.Target)
		report.Error = report.Err.Error()
		return report, report.Err
	}

	if r.DryRun || len(report.Plan) == 0 {
		msg := fmt.Sprintf("%d firmware update(s) planned", len(report.Plan))
		s.log(logger, s.monitor.LogInfo(opID, msg))
		s.complete(report, true, nil)
		return report, nil
	}

	if s.updater == nil {
		s.complete(report, false, NewValidationError("no firmware updater configured", nil).
			WithCode(ErrCodeInvalidRequest).WithTarget(r.Target))
		return report, report.Err
	}

	logger.Info().Int("items", len(report.Plan)).Msg("Starting firmware sequence")
	success := true
	for i, item := range report.Plan {
		if reason, stop := s.cancelled(ctx, opID); stop {
			s.log(logger, s.monitor.CancelOperation(opID, reason))
			report.Status = progress.StatusCancelled
			report.Err = NewCancelledError(reason).WithTarget(r.Target)
			report.Error = report.Err.Error()
			span.SetStatus(codes.Error, reason)
			return report, report.Err
		}

		subtask := fmt.Sprintf("firmware-%02d-%s", i+1, strings.ToLower(string(item.Component)))
		s.log(logger, s.monitor.StartSubtask(opID, subtask))

		result := s.apply(ctx, &r, item)
		report.Results = append(report.Results, result)
		s.opts.recorder.RecordFirmwareUpdate(string(item.Component), result.Success, result.ExecutionTime)
		s.log(logger, s.monitor.CompleteSubtask(opID, subtask, result.Success))

		if result.Success {
			logger.Info().
				Str("component", string(item.Component)).
				Str("version", result.NewVersion).
				Dur("duration", result.ExecutionTime).
				Msg("Firmware updated")
			continue
		}

		success = false
		s.recordError(result.Err)
		s.log(logger, s.monitor.LogError(opID, fmt.Sprintf("%s update failed", item.Label()), result.Err))
		if item.Priority == PriorityCritical {
			report.AbortedBy = item.Label()
			err := NewChannelExecutionError(fmt.Sprintf("critical firmware item %s failed, sequence aborted", item.Label()), result.Err).
				WithTarget(r.Target).
				WithSetting(string(item.Component))
			if IsChecksum(result.Err) {
				err.Kind = ErrorKindChecksum
			}
			span.SetStatus(codes.Error, err.Error())
			s.complete(report, false, err)
			return report, err
		}
	}

	if !success {
		err = NewChannelExecutionError("one or more firmware updates failed", nil).WithTarget(r.Target)
		span.SetStatus(codes.Error, err.Error())
	}
	s.complete(report, success, err)
	return report, err
}

func (s *FirmwareSequencer) apply(ctx context.Context, req *FirmwareRequest, item FirmwareItem) FirmwareUpdateResult {
	ctx, span := s.opts.tracer.Start(ctx, "firmware.update", trace.WithAttributes(
		attribute.String("firmware.component", string(item.Component)),
		attribute.String("firmware.priority", string(item.Priority)),
	))
	defer span.End()

	start := time.Now()
	result := FirmwareUpdateResult{
		Component:  item.Component,
		Name:       item.Name,
		Priority:   item.Priority,
		OldVersion: item.CurrentVersion,
	}
	fail := func(err error) FirmwareUpdateResult {
		result.Err = err
		result.Error = err.Error()
		result.ExecutionTime = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result
	}

	path := item.ArtifactPath
	if path != "" && s.opts.resolver != nil {
		local, cleanup, err := s.opts.resolver.Resolve(ctx, path)
		if err != nil {
			return fail(NewChannelExecutionError("failed to fetch artifact", err).
				WithCode(ErrCodeArtifactMissing).WithSetting(string(item.Component)))
		}
		defer cleanup()
		path = local
	}

	if item.Checksum != "" {
		if path == "" {
			return fail(NewChecksumError("checksum supplied without artifact", nil).
				WithCode(ErrCodeArtifactMissing).WithSetting(string(item.Component)))
		}
		if err := VerifyChecksum(s.opts.opener, path, item.Checksum); err != nil {
			return fail(err)
		}
	}

	version, err := s.update(ctx, req, item, path)
	if err != nil {
		return fail(err)
	}
	if version == "" {
		version = item.LatestVersion
	}
	result.Success = true
	result.NewVersion = version
	result.ExecutionTime = time.Since(start)
	return result
}

func (s *FirmwareSequencer) update(ctx context.Context, req *FirmwareRequest, item FirmwareItem, path string) (string, error) {
	component := string(item.Component)
	if async, ok := s.updater.(AsyncFirmwareUpdater); ok {
		callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
		taskID, err := async.StartFirmwareUpdate(callCtx, item, path)
		cancel()
		if err != nil {
			return "", NewChannelExecutionError("failed to start firmware update", err).
				WithCode(ErrCodeUpdateFailed).WithSetting(component)
		}
		err = AwaitTask(ctx, req.Poll, taskID, func(ctx context.Context) (TaskState, string, error) {
			callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
			defer cancel()
			return async.TaskState(callCtx, taskID)
		})
		if err != nil {
			return "", err
		}
		return item.LatestVersion, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
	defer cancel()
	version, err := s.updater.UpdateFirmware(callCtx, item, path)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return "", NewTimeoutError("firmware update timed out", err).WithCode(ErrCodePollBudget).WithSetting(component)
		}
		return "", NewChannelExecutionError("firmware update failed", err).WithCode(ErrCodeUpdateFailed).WithSetting(component)
	}
	return version, nil
}

func (s *FirmwareSequencer) cancelled(ctx context.Context, opID string) (string, bool) {
	if s.monitor.IsCancelled(opID) {
		if op, ok := s.monitor.Get(opID); ok && op.CancelReason != "" {
			return op.CancelReason, true
		}
		return "cancellation requested", true
	}
	if ctx.Err() != nil {
		return fmt.Sprintf("context cancelled: %v", ctx.Err()), true
	}
	return "", false
}

func (s *FirmwareSequencer) complete(report *FirmwareReport, success bool, err error) {
	report.Success = success
	report.Err = err
	msg := "firmware sequence completed"
	if err != nil {
		report.Error = err.Error()
		msg = report.Error
	}
	if success {
		report.Status = progress.StatusCompleted
	} else {
		report.Status = progress.StatusFailed
	}
	if cerr := s.monitor.CompleteOperation(report.OperationID, success, msg); cerr != nil {
		s.opts.logger.Debug().Err(cerr).Str("operation_id", report.OperationID).Msg("Progress update rejected")
	}
}

func (s *FirmwareSequencer) recordError(err error) {
	if err == nil {
		return
	}
	code := ""
	var e *EngineError
	if errors.As(err, &e) {
		code = e.Code
	}
	s.opts.recorder.RecordError(string(GetErrorKind(err)), code)
}

func (s *FirmwareSequencer) log(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Debug().Err(err).Msg("Progress update rejected")
	}
}

// VerifyChecksum hashes the artifact at path and compares it with expected.
// expected is "sha256:<hex>", "sha512:<hex>" or bare hex, in which case the
// digest length selects the algorithm.
func VerifyChecksum(open ArtifactOpener, path, expected string) error {
	algo, want, err := parseChecksum(expected)
	if err != nil {
		return NewChecksumError("invalid checksum", err).WithCode(ErrCodeChecksumMismatch)
	}

	f, err := open(path)
	if err != nil {
		return NewChecksumError("cannot read artifact", err).WithCode(ErrCodeArtifactMissing).
			WithDetail("path", path)
	}
	defer f.Close()

	var h hash.Hash
	switch algo {
	case "sha512":
		h = sha512.New()
	default:
		h = sha256.New()
	}
	if _, err := io.Copy(h, f); err != nil {
		return NewChecksumError("cannot read artifact", err).WithCode(ErrCodeArtifactMissing).
			WithDetail("path", path)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return NewChecksumError(fmt.Sprintf("%s mismatch", algo), nil).
			WithCode(ErrCodeChecksumMismatch).
			WithDetail("expected", want).
			WithDetail("actual", got).
			WithDetail("path", path)
	}
	return nil
}

func parseChecksum(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	algo, digest, found := strings.Cut(s, ":")
	if !found {
		digest = s
		switch len(s) {
		case sha256.Size * 2:
			algo = "sha256"
		case sha512.Size * 2:
			algo = "sha512"
		default:
			return "", "", fmt.Errorf("cannot infer algorithm from %d hex characters", len(s))
		}
	}
	algo = strings.ToLower(algo)
	digest = strings.ToLower(digest)
	if algo != "sha256" && algo != "sha512" {
		return "", "", fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("checksum is not hex: %w", err)
	}
	return algo, digest, nil
}
