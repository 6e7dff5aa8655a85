package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// ReconcileRequest is a validated request to reconcile one target.
type ReconcileRequest struct {
	// OperationID reuses an operation created by the caller, so it can
	// request cancellation before Execute returns. Empty creates one.
	OperationID string

	Target   string
	Template *Template
	Profile  *DeviceProfile

	// DryRun stops after method analysis without side effects.
	DryRun bool

	PreferSpeed bool

	// BatchSize overrides the profile and default batch size when positive.
	BatchSize int

	// CallTimeout bounds each backend call.
	CallTimeout time.Duration

	// Poll bounds asynchronous backend tasks.
	Poll PollConfig
}

// NewReconcileRequest validates r and fills defaults.
func NewReconcileRequest(r ReconcileRequest) (*ReconcileRequest, error) {
	r = r.withDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r ReconcileRequest) withDefaults() ReconcileRequest {
	if r.CallTimeout == 0 {
		r.CallTimeout = DefaultCallTimeout
	}
	if r.Poll == (PollConfig{}) {
		r.Poll = DefaultPollConfig()
	}
	if r.Profile == nil {
		r.Profile = &DeviceProfile{}
	}
	return r
}

// Validate checks the request.
func (r *ReconcileRequest) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return NewValidationError("invalid reconcile request", fmt.Errorf(format, args...)).
			WithCode(ErrCodeInvalidRequest).
			WithTarget(r.Target)
	}
	switch {
	case r.Target == "":
		return invalid("target is required")
	case r.Template == nil:
		return invalid("template is required")
	case r.Template.ID == "":
		return invalid("template id is required")
	case r.BatchSize < 0:
		return invalid("batch size must not be negative: %d", r.BatchSize)
	case r.CallTimeout < 0:
		return invalid("call timeout must not be negative: %s", r.CallTimeout)
	}
	if err := r.Poll.Validate(); err != nil {
		return invalid("%v", err)
	}
	if r.Profile != nil && len(r.Profile.Rules) > 0 {
		if err := r.Profile.Rules.Validate(); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

// PhaseResult is the outcome of one execution phase.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// SettingResult is the outcome of one per-setting fallback attempt.
type SettingResult struct {
	Name    string      `json:"name"`
	Value   interface{} `json:"value"`
	Channel Channel     `json:"channel"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
}

// BatchResult is the outcome of one batch group.
type BatchResult struct {
	Index    int             `json:"index"`
	Channel  Channel         `json:"channel"`
	Settings []string        `json:"settings"`
	Status   BatchStatus     `json:"status"`
	Duration time.Duration   `json:"duration"`
	Error    string          `json:"error,omitempty"`
	Recovery []SettingResult `json:"recovery,omitempty"`
}

// Mismatch is a post-validation difference between desired and read-back values.
type Mismatch struct {
	Name    string      `json:"name"`
	Desired interface{} `json:"desired"`
	Actual  interface{} `json:"actual"`
}

// ReconcileResult is the structured outcome of Execute. It is never nil.
type ReconcileResult struct {
	OperationID string          `json:"operation_id"`
	Target      string          `json:"target"`
	TemplateID  string          `json:"template_id"`
	Status      progress.Status `json:"status"`
	Success     bool            `json:"success"`
	DryRun      bool            `json:"dry_run"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`

	Phases         []PhaseResult         `json:"phases"`
	Reconciliation *ReconciliationResult `json:"reconciliation,omitempty"`
	Issues         []ValidationIssue     `json:"issues,omitempty"`
	Selection      *SelectionResult      `json:"selection,omitempty"`
	Batches        []BatchResult         `json:"batches,omitempty"`
	Mismatches     []Mismatch            `json:"mismatches,omitempty"`
	Unverified     []string              `json:"unverified,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Phase returns the result of the named phase, if it ran.
func (r *ReconcileResult) Phase(p Phase) (PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr, true
		}
	}
	return PhaseResult{}, false
}

// Changed reports how many settings were staged for writing.
func (r *ReconcileResult) Changed() int {
	if r.Reconciliation == nil {
		return 0
	}
	return len(r.Reconciliation.Diff)
}

// Coordinator drives the phased execution of a reconciliation against one
// target. Each target needs its own Coordinator and channel instances.
type Coordinator struct {
	fast    FastChannel
	tool    ToolChannel
	monitor *progress.Monitor
	sel     *MethodSelector
	opts    options
}

// NewCoordinator creates a coordinator for one target. tool may be nil, in
// which case Channel B groups fail and no recovery is possible.
func NewCoordinator(fast FastChannel, tool ToolChannel, monitor *progress.Monitor, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		fast:    fast,
		tool:    tool,
		monitor: monitor,
		sel:     NewMethodSelector(),
		opts:    o,
	}
}

// execution is the per-call state of Execute.
type execution struct {
	req  *ReconcileRequest
	res  *ReconcileResult
	opID string
	caps CapabilitySet
}

// Execute runs pre-flight, reconciliation, method analysis, batch execution
// and post-validation in order. The returned result is always non-nil and
// the returned error equals result.Err.
func (c *Coordinator) Execute(ctx context.Context, req *ReconcileRequest) (res *ReconcileResult, err error) {
	res = &ReconcileResult{StartedAt: time.Now()}
	if req == nil {
		res.Status = progress.StatusFailed
		res.Err = NewValidationError("invalid reconcile request", fmt.Errorf("request is nil")).WithCode(ErrCodeInvalidRequest)
		res.Error = res.Err.Error()
		return res, res.Err
	}
	normalized := req.withDefaults()
	req = &normalized
	res.Target = req.Target
	res.DryRun = req.DryRun
	if req.Template != nil {
		res.TemplateID = req.Template.ID
	}
	if verr := req.Validate(); verr != nil {
		res.Status = progress.StatusFailed
		res.Err = verr
		res.Error = verr.Error()
		return res, verr
	}

	opID := req.OperationID
	if opID == "" {
		opID = c.monitor.Create(KindReconcile, req.Target)
	}
	res.OperationID = opID
	ex := &execution{req: req, res: res, opID: opID}

	logger := c.opts.logger.With().Str("operation_id", opID).Str("target_id", req.Target).Logger()
	ctx, span := c.opts.tracer.Start(ctx, "reconcile.execute", trace.WithAttributes(
		attribute.String("operation.id", opID),
		attribute.String("target.id", req.Target),
		attribute.String("template.id", res.TemplateID),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer func() {
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Reconciliation fault")
			c.finish(ex, false, NewInternalError(fmt.Sprintf("unexpected fault: %v", r), nil).
				WithCode(ErrCodePanic).WithTarget(req.Target))
		}
		err = res.Err
	}()

	if serr := c.monitor.Start(opID, 0); serr != nil {
		res.Status = progress.StatusFailed
		res.Err = NewInternalError("failed to start operation", serr).WithTarget(req.Target)
		res.Error = res.Err.Error()
		return res, res.Err
	}
	logger.Info().Str("template_id", res.TemplateID).Msg("Starting reconciliation")

	c.run(ctx, ex)

	logger.Info().
		Str("status", string(res.Status)).
		Bool("success", res.Success).
		Int("changes", res.Changed()).
		Int("batches", len(res.Batches)).
		Msg("Reconciliation finished")
	return res, res.Err
}

func (c *Coordinator) run(ctx context.Context, ex *execution) {
	req, res := ex.req, ex.res

	if c.checkpoint(ctx, ex) {
		return
	}
	if err := c.phase(ctx, ex, PhasePreflight, c.preflight); err != nil {
		c.finish(ex, false, err)
		return
	}

	if c.checkpoint(ctx, ex) {
		return
	}
	if err := c.phase(ctx, ex, PhaseReconcile, c.reconcile); err != nil {
		c.finish(ex, false, err)
		return
	}
	if res.Reconciliation.IsNoop() {
		c.skip(ex, PhaseMethodAnalysis, PhaseBatchExecution, PhasePostValidation)
		c.info(ex, "template already applied, no changes")
		c.finish(ex, true, nil)
		return
	}

	if c.checkpoint(ctx, ex) {
		return
	}
	if err := c.phase(ctx, ex, PhaseMethodAnalysis, c.analyze); err != nil {
		c.finish(ex, false, err)
		return
	}
	if req.DryRun {
		c.skip(ex, PhaseBatchExecution, PhasePostValidation)
		c.info(ex, fmt.Sprintf("dry run: %d batch group(s) planned, estimated %s",
			len(res.Selection.Batches), res.Selection.EstimatedTime))
		c.finish(ex, true, nil)
		return
	}

	if cancelled := c.executeBatches(ctx, ex); cancelled {
		return
	}

	if c.checkpoint(ctx, ex) {
		return
	}
	_ = c.phase(ctx, ex, PhasePostValidation, c.postValidate)

	success := len(res.Selection.Unknown) == 0
	for _, p := range res.Phases {
		success = success && (p.Success || p.Skipped)
	}
	var ferr error
	if !success {
		ferr = c.summaryError(ex)
	}
	c.finish(ex, success, ferr)
}

// phase runs fn as a monitored subtask with its own span.
func (c *Coordinator) phase(ctx context.Context, ex *execution, p Phase, fn func(context.Context, *execution) error) error {
	ctx, span := c.opts.tracer.Start(ctx, "reconcile."+string(p), trace.WithAttributes(
		attribute.String("phase", string(p)),
	))
	defer span.End()

	c.track(ex, c.monitor.StartSubtask(ex.opID, string(p)))
	start := time.Now()
	err := fn(ctx, ex)
	duration := time.Since(start)

	pr := PhaseResult{Phase: p, Success: err == nil, Duration: duration}
	if err != nil {
		pr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.recordError(err)
		c.track(ex, c.monitor.LogError(ex.opID, fmt.Sprintf("%s failed", p), err))
	}
	ex.res.Phases = append(ex.res.Phases, pr)
	c.opts.recorder.RecordPhase(string(p), err == nil, duration)
	c.track(ex, c.monitor.CompleteSubtask(ex.opID, string(p), err == nil))
	return err
}

func (c *Coordinator) skip(ex *execution, phases ...Phase) {
	for _, p := range phases {
		ex.res.Phases = append(ex.res.Phases, PhaseResult{Phase: p, Success: true, Skipped: true})
	}
}

func (c *Coordinator) preflight(ctx context.Context, ex *execution) error {
	target := ex.req.Target

	callCtx, cancel := context.WithTimeout(ctx, ex.req.CallTimeout)
	ok, msg, err := c.fast.TestConnection(callCtx)
	cancel()
	if err != nil || !ok {
		if msg == "" {
			msg = "channel A unreachable"
		}
		return NewConnectivityError(msg, err).WithCode(ErrCodeConnectionFailed).WithTarget(target)
	}

	callCtx, cancel = context.WithTimeout(ctx, ex.req.CallTimeout)
	caps, err := c.fast.DiscoverCapabilities(callCtx)
	cancel()
	if err != nil {
		return NewConnectivityError("capability discovery failed", err).WithCode(ErrCodeCapabilityProbe).WithTarget(target)
	}
	ex.caps = caps

	if p, ok := c.tool.(Prober); ok {
		callCtx, cancel = context.WithTimeout(ctx, ex.req.CallTimeout)
		err = p.Probe(callCtx)
		cancel()
		if err != nil {
			return NewConnectivityError("channel B probe failed", err).WithCode(ErrCodeCapabilityProbe).WithTarget(target)
		}
	}
	return nil
}

func (c *Coordinator) reconcile(ctx context.Context, ex *execution) error {
	req := ex.req

	callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
	live, err := c.fast.GetSettings(callCtx)
	cancel()
	if err != nil {
		return NewConnectivityError("failed to pull live configuration", err).WithCode(ErrCodePullFailed).WithTarget(req.Target)
	}

	rec := c.opts.reconciler.Reconcile(live, req.Template, req.Profile.Preserve)
	ex.res.Reconciliation = rec

	issues := c.opts.reconciler.Validate(live, rec, req.Template, RulesFromProfile(req.Profile))
	if c.opts.policy != nil && !rec.IsNoop() {
		pIssues, perr := c.opts.policy.CheckState(ctx, req.Target, rec.State, rec.Diff)
		if perr != nil {
			return NewValidationError("policy evaluation failed", perr).WithCode(ErrCodePolicyDenied).WithTarget(req.Target)
		}
		issues = append(issues, pIssues...)
	}
	ex.res.Issues = issues
	return IssuesError(req.Target, issues)
}

func (c *Coordinator) analyze(_ context.Context, ex *execution) error {
	req := ex.req
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = req.Profile.BatchSize
	}
	var rules RuleTable
	if len(req.Profile.Rules) > 0 {
		rules = DefaultRuleTable().WithOverrides(req.Profile.Rules)
	}

	sel, err := c.sel.Select(SelectionRequest{
		Settings:         ex.res.Reconciliation.Diff.Settings(),
		Methods:          req.Profile.Methods,
		PreferSpeed:      req.PreferSpeed,
		BatchSize:        batchSize,
		Rules:            rules,
		ChannelAReadOnly: len(ex.caps) > 0 && !ex.caps.Has(CapabilityWriteSettings),
	})
	if err != nil {
		return err
	}
	ex.res.Selection = sel

	// preflight, reconcile, method_analysis, each batch, post_validation
	if err := c.monitor.SetTotalSubtasks(ex.opID, 3+len(sel.Batches)+1); err != nil {
		c.track(ex, err)
	}
	for _, name := range sortedKeys(sel.Unknown) {
		c.warn(ex, fmt.Sprintf("setting %s not routed: %s", name, sel.Rationale[name]))
	}
	if len(sel.Heuristic) > 0 {
		c.info(ex, fmt.Sprintf("%d setting(s) classified by keyword rules", len(sel.Heuristic)))
	}
	return nil
}

// executeBatches runs every group in order. It returns true when the
// operation was cancelled at a checkpoint.
func (c *Coordinator) executeBatches(ctx context.Context, ex *execution) bool {
	ctx, span := c.opts.tracer.Start(ctx, "reconcile."+string(PhaseBatchExecution), trace.WithAttributes(
		attribute.Int("batch.count", len(ex.res.Selection.Batches)),
	))
	defer span.End()

	start := time.Now()
	success := true
	for _, g := range ex.res.Selection.Batches {
		if c.checkpoint(ctx, ex) {
			return true
		}
		name := g.SubtaskName()
		c.track(ex, c.monitor.StartSubtask(ex.opID, name))

		br := c.executeGroup(ctx, ex, g)
		ex.res.Batches = append(ex.res.Batches, br)
		success = success && br.Status.IsSuccess()

		c.opts.recorder.RecordBatch(string(g.Channel), string(br.Status), g.Size(), br.Duration)
		c.track(ex, c.monitor.CompleteSubtask(ex.opID, name, br.Status.IsSuccess()))
	}

	pr := PhaseResult{Phase: PhaseBatchExecution, Success: success, Duration: time.Since(start)}
	if !success {
		pr.Error = "one or more batch groups failed"
		span.SetStatus(codes.Error, pr.Error)
	}
	ex.res.Phases = append(ex.res.Phases, pr)
	c.opts.recorder.RecordPhase(string(PhaseBatchExecution), success, pr.Duration)
	return false
}

func (c *Coordinator) executeGroup(ctx context.Context, ex *execution, g BatchGroup) BatchResult {
	ctx, span := c.opts.tracer.Start(ctx, "reconcile.batch", trace.WithAttributes(
		attribute.Int("batch.index", g.Index),
		attribute.String("channel", string(g.Channel)),
		attribute.Int("batch.size", g.Size()),
	))
	defer span.End()

	start := time.Now()
	br := BatchResult{Index: g.Index, Channel: g.Channel, Settings: g.Names()}

	var err error
	if g.Channel == ChannelA {
		err = c.applyChannelA(ctx, ex, g)
	} else {
		name := br.Settings[0]
		err = c.applyChannelB(ctx, ex, name, g.Settings[name])
	}

	switch {
	case err == nil:
		br.Status = BatchStatusSucceeded
	case g.Channel == ChannelA:
		br.Error = err.Error()
		c.recordError(err)
		c.track(ex, c.monitor.LogError(ex.opID, fmt.Sprintf("batch %d failed on channel A, falling back to channel B", g.Index), err))
		br.Recovery = c.fallback(ctx, ex, g)
		br.Status = BatchStatusRecovered
		for _, sr := range br.Recovery {
			if !sr.Success {
				br.Status = BatchStatusFailed
			}
		}
	default:
		br.Error = err.Error()
		br.Status = BatchStatusFailed
		c.recordError(err)
		c.track(ex, c.monitor.LogError(ex.opID, fmt.Sprintf("batch %d failed on channel B", g.Index), err))
	}

	if !br.Status.IsSuccess() {
		span.SetStatus(codes.Error, br.Error)
	}
	br.Duration = time.Since(start)
	return br
}

func (c *Coordinator) applyChannelA(ctx context.Context, ex *execution, g BatchGroup) error {
	target := ex.req.Target
	if async, ok := c.fast.(AsyncApplier); ok {
		callCtx, cancel := context.WithTimeout(ctx, ex.req.CallTimeout)
		taskID, err := async.SubmitSettings(callCtx, g.Settings)
		cancel()
		if err != nil {
			return NewChannelExecutionError("failed to submit batch", err).WithCode(ErrCodeBatchFailed).WithTarget(target)
		}
		return AwaitTask(ctx, ex.req.Poll, taskID, func(ctx context.Context) (TaskState, string, error) {
			callCtx, cancel := context.WithTimeout(ctx, ex.req.CallTimeout)
			defer cancel()
			return async.TaskState(callCtx, taskID)
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, ex.req.CallTimeout)
	defer cancel()
	ok, err := c.fast.SetSettings(callCtx, g.Settings)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return NewTimeoutError("channel A call timed out", err).WithCode(ErrCodePollBudget).WithTarget(target)
		}
		return NewChannelExecutionError("channel A batch failed", err).WithCode(ErrCodeBatchFailed).WithTarget(target)
	}
	if !ok {
		return NewChannelExecutionError("channel A rejected batch", nil).WithCode(ErrCodeBatchFailed).WithTarget(target)
	}
	return nil
}

func (c *Coordinator) applyChannelB(ctx context.Context, ex *execution, name string, value interface{}) error {
	target := ex.req.Target
	if c.tool == nil {
		return NewChannelExecutionError("no tool channel configured", nil).WithCode(ErrCodeSettingRejected).
			WithTarget(target).WithSetting(name)
	}
	callCtx, cancel := context.WithTimeout(ctx, ex.req.CallTimeout)
	defer cancel()
	ok, err := c.tool.ApplySetting(callCtx, name, value)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return NewTimeoutError("channel B call timed out", err).WithCode(ErrCodePollBudget).
				WithTarget(target).WithSetting(name)
		}
		return NewChannelExecutionError("channel B apply failed", err).WithCode(ErrCodeSettingRejected).
			WithTarget(target).WithSetting(name)
	}
	if !ok {
		return NewChannelExecutionError("channel B rejected setting", nil).WithCode(ErrCodeSettingRejected).
			WithTarget(target).WithSetting(name)
	}
	return nil
}

// fallback re-applies every setting of a failed Channel A group through
// Channel B, one call per setting, before the next group starts.
func (c *Coordinator) fallback(ctx context.Context, ex *execution, g BatchGroup) []SettingResult {
	results := make([]SettingResult, 0, g.Size())
	for _, name := range g.Names() {
		value := g.Settings[name]
		sr := SettingResult{Name: name, Value: value, Channel: ChannelB}
		if err := c.applyChannelB(ctx, ex, name, value); err != nil {
			sr.Error = err.Error()
			c.recordError(err)
			c.warn(ex, fmt.Sprintf("recovery of %s via channel B failed: %v", name, err))
		} else {
			sr.Success = true
		}
		c.opts.recorder.RecordRecovery(sr.Success)
		results = append(results, sr)
	}
	return results
}

func (c *Coordinator) postValidate(ctx context.Context, ex *execution) error {
	req := ex.req

	callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
	actual, err := c.fast.GetSettings(callCtx)
	cancel()
	if err != nil {
		for _, br := range ex.res.Batches {
			ex.res.Unverified = append(ex.res.Unverified, br.Settings...)
		}
		return NewChannelExecutionError("failed to re-pull configuration", err).WithCode(ErrCodePullFailed).WithTarget(req.Target)
	}

	reader, canRead := c.tool.(SettingReader)
	for _, br := range ex.res.Batches {
		for _, name := range br.Settings {
			desired := ex.res.Selection.ChannelA[name]
			if br.Channel == ChannelB {
				desired = ex.res.Selection.ChannelB[name]
			}

			got, ok := actual[name]
			if !ok && canRead {
				callCtx, cancel := context.WithTimeout(ctx, req.CallTimeout)
				got, ok, err = reader.ReadSetting(callCtx, name)
				cancel()
				if err != nil {
					ok = false
				}
			}
			if !ok {
				ex.res.Unverified = append(ex.res.Unverified, name)
				c.warn(ex, fmt.Sprintf("setting %s could not be read back", name))
				continue
			}
			if !ValuesEqual(got, desired) {
				ex.res.Mismatches = append(ex.res.Mismatches, Mismatch{Name: name, Desired: desired, Actual: got})
			}
		}
	}

	if len(ex.res.Mismatches) > 0 {
		return NewValidationError(fmt.Sprintf("%d setting(s) did not take effect", len(ex.res.Mismatches)), nil).
			WithTarget(req.Target).
			WithDetail("mismatches", ex.res.Mismatches)
	}
	return nil
}

// checkpoint stops the operation when cancellation was requested through
// the monitor or the context. It returns true if the operation is now
// cancelled.
func (c *Coordinator) checkpoint(ctx context.Context, ex *execution) bool {
	reason := ""
	switch {
	case c.monitor.IsCancelled(ex.opID):
		reason = "cancellation requested"
		if op, ok := c.monitor.Get(ex.opID); ok && op.CancelReason != "" {
			reason = op.CancelReason
		}
	case ctx.Err() != nil:
		reason = fmt.Sprintf("context cancelled: %v", ctx.Err())
	default:
		return false
	}

	c.track(ex, c.monitor.CancelOperation(ex.opID, reason))
	ex.res.Status = progress.StatusCancelled
	ex.res.Err = NewCancelledError(reason).WithTarget(ex.req.Target)
	ex.res.Error = ex.res.Err.Error()
	ex.res.FinishedAt = time.Now()
	return true
}

func (c *Coordinator) finish(ex *execution, success bool, err error) {
	res := ex.res
	if res.Status.IsTerminal() {
		return
	}
	res.Success = success
	res.Err = err
	res.FinishedAt = time.Now()
	if success {
		res.Status = progress.StatusCompleted
	} else {
		res.Status = progress.StatusFailed
	}

	msg := "reconciliation completed"
	if err != nil {
		res.Error = err.Error()
		msg = res.Error
	}
	c.track(ex, c.monitor.CompleteOperation(ex.opID, success, msg))
}

func (c *Coordinator) summaryError(ex *execution) error {
	res := ex.res
	failed := 0
	for _, br := range res.Batches {
		if !br.Status.IsSuccess() {
			failed++
		}
	}
	e := NewChannelExecutionError(fmt.Sprintf("%d of %d batch group(s) failed, %d mismatch(es), %d unrouted setting(s)",
		failed, len(res.Batches), len(res.Mismatches), len(res.Selection.Unknown)), nil).
		WithTarget(ex.req.Target)
	if failed == 0 && len(res.Mismatches) > 0 {
		e.Kind = ErrorKindValidation
	}
	return e
}

func (c *Coordinator) info(ex *execution, msg string) {
	c.track(ex, c.monitor.LogInfo(ex.opID, msg))
}

func (c *Coordinator) warn(ex *execution, msg string) {
	c.track(ex, c.monitor.LogWarning(ex.opID, msg))
}

func (c *Coordinator) recordError(err error) {
	code := ""
	var e *EngineError
	if errors.As(err, &e) {
		code = e.Code
	}
	c.opts.recorder.RecordError(string(GetErrorKind(err)), code)
}

// track logs monitor bookkeeping failures. They never change the outcome.
func (c *Coordinator) track(ex *execution, err error) {
	if err != nil {
		c.opts.logger.Debug().Err(err).Str("operation_id", ex.opID).Msg("Progress update rejected")
	}
}

func batchSubtaskName(index int, ch Channel) string {
	return fmt.Sprintf("batch-%03d-%s", index, ch.Short())
}
