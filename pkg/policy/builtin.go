package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		secureBootPolicy(),
		virtualizationPolicy(),
		bootAccessPolicy(),
	}
}

// secureBootPolicy rejects staged states in which SecureBoot cannot work.
func secureBootPolicy() Policy {
	return Policy{
		Name:        "secure-boot",
		Description: "SecureBoot requires UEFI boot mode with the compatibility support module disabled",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"security", "boot"},
		Rego: `package biosctl.secureboot

import rego.v1

deny contains violation if {
	input.settings.SecureBoot == "Enabled"
	input.settings.BootMode == "Legacy"
	violation := {
		"message": "SecureBoot Enabled requires BootMode UEFI, staged BootMode is Legacy",
		"setting": "SecureBoot",
	}
}

deny contains violation if {
	input.settings.SecureBoot == "Enabled"
	input.settings.CSM == "Enabled"
	violation := {
		"message": "SecureBoot Enabled requires CSM Disabled",
		"setting": "CSM",
	}
}
`,
	}
}

// virtualizationPolicy checks that IO virtualization features have the
// processor support they depend on.
func virtualizationPolicy() Policy {
	return Policy{
		Name:        "virtualization",
		Description: "SR-IOV and IOMMU need processor virtualization enabled",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"virtualization"},
		Rego: `package biosctl.virtualization

import rego.v1

dependents := {"SriovGlobalEnable", "IOMMU"}

deny contains violation if {
	some name in dependents
	input.settings[name] == "Enabled"
	input.settings.VirtualizationTechnology == "Disabled"
	violation := {
		"message": sprintf("%s Enabled requires VirtualizationTechnology Enabled", [name]),
		"setting": name,
	}
}
`,
	}
}

// bootAccessPolicy warns about changes that make the setup menu hard to
// reach. Findings do not block.
func bootAccessPolicy() Policy {
	return Policy{
		Name:        "boot-access",
		Description: "Warns when a change removes the boot prompt delay",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"boot", "operations"},
		Rego: `package biosctl.bootaccess

import rego.v1

deny contains violation if {
	some change in input.changes
	change.name == "BootTimeout"
	to_number(change.to) == 0
	violation := {
		"message": "BootTimeout 0 leaves no time to enter setup",
		"setting": "BootTimeout",
	}
}
`,
	}
}
