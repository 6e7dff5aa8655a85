// Package progress tracks monitored operations and their subtasks.
//
// A Monitor is an explicitly constructed registry. Each operation moves
// through a small state machine:
//
//	pending -> running -> completed | failed | cancelled
//
// Paused is reserved and never entered. Every mutating call records an
// Event in a bounded ring buffer and delivers it synchronously to the
// registered observers, so events for one operation arrive in order.
//
// Each operation has a single writer. Driving many operations concurrently
// is safe; mutating the same operation from two goroutines is not, with the
// exception of RequestCancellation, which only raises the cancellation flag
// that the owner polls at its checkpoints.
package progress
