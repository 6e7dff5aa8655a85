// Package channels provides concrete backends for the reconciliation engine.
//
// SnapshotChannel is a fast channel over a YAML file holding a target's live
// settings. It is used for offline planning and for lab targets whose
// configuration is exported by an out-of-band collector.
//
// ToolChannel and ToolFirmwareUpdater drive vendor command-line tools through
// a CommandRunner, either locally or over SSH on a management host:
//
//	client, err := ssh.NewSSHClient(ssh.DefaultConfig("mgmt-01", "root"), logger)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	tool, err := channels.NewToolChannel(channels.NewSSHRunner(client), channels.ToolConfig{
//		SetCommand: "syscfg /bcs '' {name} {value}",
//		GetCommand: "syscfg /d BIOSSETTINGS {name}",
//	}, logger)
//
// Placeholders are shell-quoted when expanded.
package channels
