// Package config loads device profiles, configuration templates and firmware
// inventories for biosctl.
//
// # Overview
//
// Files may be YAML, JSON or CUE. Whatever the format, a file is unified with
// a built-in CUE definition (#Profile, #Template or #Inventory) and then
// checked against go-playground/validator tags, so the three formats accept
// exactly the same documents. Problems are reported as a *LoadError carrying
// one ValidationError per finding, with file positions where CUE knows them.
//
// # Components
//
// Loader: decodes a file by extension, validates it and converts it to the
// engine types (engine.DeviceProfile, engine.Template, engine.FirmwareItem).
//
// SchemaRegistry: holds compiled CUE definitions. Custom definitions may be
// registered next to the built-in ones.
//
// StarlarkEvaluator: runs template scripts with a timeout and a step limit.
//
// Watcher: reports debounced writes to profile and template files.
//
// # Profiles
//
//	name:       "r750"
//	batch_size: 5
//	preserve: ["mac_address_*", "serial_number"]
//	methods: {
//		BootMode: {tier: "ChannelA-preferred", channel_a_time: "2s"}
//		MemoryTiming: {tier: "ChannelB-only", reboot_required: true}
//	}
//	conflicts: [{
//		name: "secureboot-legacy"
//		setting_a: "SecureBoot", value_a: "Enabled"
//		setting_b: "BootMode", value_b: "Legacy"
//	}]
//	rules: [{name: "gpu", keywords: ["gpu"], channel: "channel_b"}]
//
// # Template Scripts
//
// A template may carry a Starlark script, inline or in a sibling file. The
// script sees two predeclared dicts, facts and settings, and edits settings
// in place:
//
//	def tune():
//	    if facts["cpu_count"] >= 2:
//	        settings["NumaNodesPerSocket"] = 2
//
//	tune()
//
// Top-level if and for statements are not allowed, so logic lives in
// functions.
package config
