// Package policy evaluates Open Policy Agent (OPA) Rego policies over the
// staged BIOS state of a reconciliation.
//
// The Engine implements engine.PolicyChecker. The coordinator calls it after
// the reconcile phase, before anything is written; blocking violations become
// policy validation issues and stop the operation.
//
// # Writing Policies
//
// A policy is a Rego module with a deny set in its package. The input
// document is:
//
//	{
//	  "target":   "server-01",
//	  "settings": {"BootMode": "UEFI", ...},   // full staged state
//	  "changes":  [{"name": "BootMode", "from": "Legacy", "to": "UEFI"}],
//	  "context":  {"timestamp": "...", "operation": "reconcile"}
//	}
//
// Each deny element is either a message string or an object with a message
// and optional setting and severity fields:
//
//	package site.tpm
//
//	import rego.v1
//
//	deny contains {"message": "TPM required with SecureBoot", "setting": "TpmSecurity"} if {
//	    input.settings.SecureBoot == "Enabled"
//	    input.settings.TpmSecurity == "Off"
//	}
//
// Violations with severity error or critical block execution; warning and
// info findings are logged.
//
// # Built-in Policies
//
//   - secure-boot: SecureBoot needs BootMode UEFI and CSM disabled
//   - virtualization: SR-IOV and IOMMU need VirtualizationTechnology
//   - boot-access: warns when BootTimeout is set to 0
//
// # Loading
//
// Policies are loaded from .rego files (named after the file, severity
// error) or .json definitions; directories are walked recursively.
// WatchPolicies reloads them with fsnotify when files change.
package policy
