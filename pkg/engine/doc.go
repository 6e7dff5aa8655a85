// Package engine provides the core types and algorithms for reconciling
// server BIOS configuration and sequencing firmware updates.
//
// # Overview
//
// A reconciliation runs through a fixed, ordered set of phases driven by the
// Coordinator:
//
//  1. Pre-flight - Verify connectivity and probe channel capabilities
//  2. Reconcile - Diff the template against the pulled live configuration
//  3. Method analysis - Route each changed setting to a channel (MethodSelector)
//  4. Batch execution - Apply batch groups in order, with fallback recovery
//  5. Post-validation - Re-pull and compare every targeted setting
//
// Overall success is the logical AND of every phase outcome. A dry run stops
// after method analysis and never writes to the target.
//
// # Channels
//
// Two management channels are supported:
//
//   - FastChannel (Channel A): a batch-capable remote management API
//   - ToolChannel (Channel B): vendor command line tooling, one setting per call
//
// Channel B settings always occupy their own batch group. Channel A settings
// are chunked up to the configured batch size. When a Channel A batch fails
// the same settings are re-applied one by one through Channel B, and the
// batch is reported as recovered only if every one of them succeeds.
//
// # Method Selection
//
// MethodSelector routes settings using the device profile's MethodInfo table:
//
//	ChannelA-preferred -> Channel A
//	ChannelB-only      -> Channel B (reboot required)
//	ChannelA-fallback  -> faster channel (PreferSpeed) or more reliable one
//
// Ties on a fallback setting go to Channel B. Settings absent from the
// profile are classified by an ordered, overridable RuleTable, and fall back
// to Channel B when no rule matches. Structured values always go to Channel B.
//
// The time estimate is the sum of all batch group estimates plus a fixed
// Channel B session overhead, since batch groups run one after another.
//
// # Reconciliation
//
// Reconciler never alters a setting matching a PreservePattern (an exact name
// or a prefix ending in '*'). Validate runs before any write and reports
// preserve violations, missing required settings and conflicting pairs as
// ValidationIssues. Re-applying a template to its own output yields an empty
// Diff.
//
// # Firmware
//
// FirmwareSequencer orders update-required items by effective priority and
// component rank (BMC first) and applies them strictly one at a time. A
// failed Critical item aborts the run; later items are not attempted.
//
// # Progress and Cancellation
//
// Every phase and batch group is a subtask of a progress.Monitor operation.
// Cancellation is cooperative: any goroutine may call
// Monitor.RequestCancellation, and the owning Coordinator or
// FirmwareSequencer observes it at the next phase, batch or item boundary.
//
// # Error Handling
//
// Errors are classified by ErrorKind:
//
//   - Validation: invalid request, preserve, required or conflict violations
//   - Connectivity: pre-flight failures
//   - ChannelExecution: a backend rejected or failed a batch
//   - Checksum: a firmware artifact failed integrity validation
//   - Timeout: a poll budget or call deadline was exceeded
//   - Cancelled: the operation was cancelled cooperatively
//   - Internal: an unexpected fault caught at the coordinator boundary
//
// Use IsValidation, IsTimeout and friends, or errors.Is with an EngineError
// carrying the wanted kind and code.
//
// # Usage Example
//
//	monitor := progress.NewMonitor()
//	coord := engine.NewCoordinator(fast, tool, monitor,
//	    engine.WithLogger(logger),
//	    engine.WithRecorder(metrics),
//	)
//
//	req, err := engine.NewReconcileRequest(engine.ReconcileRequest{
//	    Target:   "server-01",
//	    Template: tmpl,
//	    Profile:  profile,
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := coord.Execute(ctx, req)
//	if err != nil {
//	    log.Printf("reconciliation %s: %v", result.Status, err)
//	}
package engine
