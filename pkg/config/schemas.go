package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaProfile   = "profile"
	SchemaTemplate  = "template"
	SchemaInventory = "inventory"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source with one root definition that data is unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		SchemaProfile:   "#Profile",
		SchemaTemplate:  "#Template",
		SchemaInventory: "#Inventory",
	} {
		if err := sr.RegisterSchema(name, builtinSchemas, def); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles source and registers the definition def under
// name.
func (sr *SchemaRegistry) RegisterSchema(name, source, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, def)
	}

	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and checks the result is concrete.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSchemas = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Method: {
	tier:               "ChannelA-preferred" | "ChannelA-fallback" | "ChannelB-only"
	channel_a_time?:    #Duration
	channel_b_time?:    #Duration
	channel_a_success?: number & >=0 & <=1
	channel_b_success?: number & >=0 & <=1
	complexity?:        int & >=0
	reboot_required?:   bool
}

#Conflict: {
	name:      string & !=""
	setting_a: string & !=""
	value_a:   _
	setting_b: string & !=""
	value_b:   _
	message?:  string
}

#Rule: {
	name: string & !=""
	keywords: [string & !="", ...string & !=""]
	channel: "channel_a" | "channel_b"
}

#Profile: {
	name:         string & !=""
	device_type?: string
	batch_size?:  int & >=0
	preserve?: [...string & !=""]
	required?: [...string & !=""]
	methods?: [string]: #Method
	conflicts?: [...#Conflict]
	rules?: [...#Rule]
}

#Template: {
	id:           string & !=""
	device_type?: string
	settings?: [string]: _
	script?:      string
	script_file?: string
}

#Firmware: {
	component:        "BMC" | "BIOS" | "CPLD" | "NIC" | "Storage" | "UEFI"
	name?:            string
	current_version?: string
	latest_version:   string & !=""
	update_required?: bool
	priority?:        "Critical" | "High" | "Normal" | "Low"
	estimated_time?:  #Duration
	reboot_required?: bool
	artifact?:        string
	checksum?:        string
}

#Inventory: {
	target?: string
	items: [#Firmware, ...#Firmware]
}
`
