package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gosuri/uitable"

	"github.com/openfroyo/biosctl/pkg/engine"
)

const maxColWidth = 60

func newTable(header ...interface{}) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.Wrap = true
	table.AddRow(header...)
	return table
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPlan writes the routing decision and batch order of a dry run.
func printPlan(w io.Writer, res *engine.ReconcileResult) {
	fmt.Fprintf(w, "Target %s, template %s: %d change(s)\n", res.Target, res.TemplateID, res.Changed())
	if res.Reconciliation != nil && len(res.Reconciliation.Skipped) > 0 {
		fmt.Fprintf(w, "Preserved: %s\n", strings.Join(res.Reconciliation.Skipped, ", "))
	}
	for _, issue := range res.Issues {
		fmt.Fprintf(w, "Issue: %s\n", issue.Message)
	}
	sel := res.Selection
	if sel == nil {
		if res.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", res.Error)
		}
		return
	}

	fmt.Fprintln(w)
	table := newTable("SETTING", "VALUE", "CHANNEL", "RATIONALE")
	names := make([]string, 0, len(sel.Rationale))
	for name := range sel.Rationale {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := sel.ChannelOf(name)
		var value interface{}
		switch ch {
		case engine.ChannelA:
			value = sel.ChannelA[name]
		case engine.ChannelB:
			value = sel.ChannelB[name]
		default:
			value = sel.Unknown[name]
		}
		table.AddRow(name, formatValue(value), ch, sel.Rationale[name])
	}
	fmt.Fprintln(w, table)

	fmt.Fprintln(w)
	batches := newTable("BATCH", "CHANNEL", "SETTINGS", "ESTIMATE")
	for _, b := range sel.Batches {
		batches.AddRow(b.Index, b.Channel, strings.Join(b.Names(), ", "), b.EstimatedTime)
	}
	fmt.Fprintln(w, batches)

	fmt.Fprintf(w, "\nEstimated time: %s\n", sel.EstimatedTime)
	if len(sel.RebootRequired) > 0 {
		fmt.Fprintf(w, "Reboot required for: %s\n", strings.Join(sel.RebootRequired, ", "))
	}
	if len(sel.Heuristic) > 0 {
		fmt.Fprintf(w, "No profile entry (routed by keyword): %s\n", strings.Join(sel.Heuristic, ", "))
	}
}

// printResults writes one row per target and the batches of failed runs.
func printResults(w io.Writer, results []*engine.ReconcileResult) {
	table := newTable("TARGET", "OPERATION", "STATUS", "CHANGES", "BATCHES", "DURATION", "ERROR")
	for _, res := range results {
		if res == nil {
			continue
		}
		table.AddRow(res.Target, res.OperationID, res.Status, res.Changed(), batchSummary(res.Batches),
			duration(res.StartedAt, res.FinishedAt), res.Error)
	}
	fmt.Fprintln(w, table)

	for _, res := range results {
		if res == nil || res.Success || len(res.Batches) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s batches:\n", res.Target)
		detail := newTable("BATCH", "CHANNEL", "STATUS", "SETTINGS", "ERROR")
		for _, b := range res.Batches {
			detail.AddRow(b.Index, b.Channel, b.Status, strings.Join(b.Settings, ", "), b.Error)
			for _, rec := range b.Recovery {
				status := "ok"
				if !rec.Success {
					status = "failed"
				}
				detail.AddRow("", "  "+string(rec.Channel), status, rec.Name, rec.Error)
			}
		}
		fmt.Fprintln(w, detail)
		for _, m := range res.Mismatches {
			fmt.Fprintf(w, "Mismatch: %s\n", m.Name)
		}
	}
}

func printFirmwareReport(w io.Writer, rep *engine.FirmwareReport) {
	if rep.DryRun || len(rep.Results) == 0 {
		table := newTable("ORDER", "COMPONENT", "NAME", "PRIORITY", "CURRENT", "TARGET", "REBOOT")
		for i, item := range rep.Plan {
			table.AddRow(i+1, item.Component, item.Label(), item.Priority, item.CurrentVersion, item.LatestVersion, item.RebootRequired)
		}
		fmt.Fprintln(w, table)
		fmt.Fprintf(w, "\n%d update(s) planned for %s\n", len(rep.Plan), rep.Target)
		return
	}

	table := newTable("COMPONENT", "NAME", "PRIORITY", "RESULT", "OLD", "NEW", "DURATION", "ERROR")
	for _, r := range rep.Results {
		result := "ok"
		if !r.Success {
			result = "failed"
		}
		table.AddRow(r.Component, r.Name, r.Priority, result, r.OldVersion, r.NewVersion, r.ExecutionTime.Round(time.Millisecond), r.Error)
	}
	fmt.Fprintln(w, table)
	if rep.AbortedBy != "" {
		fmt.Fprintf(w, "\nSequence aborted by critical item %s\n", rep.AbortedBy)
	}
	fmt.Fprintf(w, "\nStatus: %s\n", rep.Status)
}

func batchSummary(batches []engine.BatchResult) string {
	counts := make(map[engine.BatchStatus]int)
	for _, b := range batches {
		counts[b.Status]++
	}
	var parts []string
	for _, s := range []engine.BatchStatus{engine.BatchStatusSucceeded, engine.BatchStatusRecovered, engine.BatchStatusFailed} {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func duration(start, end time.Time) string {
	if start.IsZero() || end.IsZero() {
		return "-"
	}
	return end.Sub(start).Round(time.Millisecond).String()
}

func formatValue(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}
