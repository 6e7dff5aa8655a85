package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/biosctl/pkg/engine"
)

// Extensions recognised by the loader.
var supportedExtensions = []string{".yaml", ".yml", ".json", ".cue"}

// LoadError reports every problem found in one file.
type LoadError struct {
	File   string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].String()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("%s: %d problems:\n  %s", e.File, len(e.Errors), strings.Join(msgs, "\n  "))
}

// Loader reads device profiles, templates and firmware inventories from
// YAML, JSON or CUE files. Every file is checked against the built-in CUE
// schema and the struct validation tags.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
	logger    zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithScriptTimeout bounds template scripts.
func WithScriptTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.starlark.timeout = d }
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	ctx := cuecontext.New()
	l := &Loader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		starlark:  NewStarlarkEvaluator(DefaultScriptTimeout, zerolog.Nop()),
		validator: validator.New(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "config-loader").Logger()
	l.starlark.logger = l.logger.With().Str("component", "starlark").Logger()
	return l
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadProfile loads and validates a device profile.
func (l *Loader) LoadProfile(path string) (*engine.DeviceProfile, error) {
	var pf ProfileFile
	if err := l.decodeFile(path, SchemaProfile, &pf); err != nil {
		return nil, err
	}
	profile, err := pf.ToDeviceProfile()
	if err != nil {
		return nil, &LoadError{File: path, Errors: []ValidationError{{File: path, Message: err.Error(), Severity: "error"}}}
	}
	l.logger.Debug().
		Str("file", path).
		Str("profile", profile.Name).
		Int("methods", len(profile.Methods)).
		Msg("Profile loaded")
	return profile, nil
}

// LoadTemplate loads a template and runs its script, if any. The script sees
// the predeclared globals facts and settings and may update settings in
// place. A top-level settings dict the script defines instead is merged over
// the static settings.
func (l *Loader) LoadTemplate(ctx context.Context, path string, facts map[string]interface{}) (*engine.Template, error) {
	var tf TemplateFile
	if err := l.decodeFile(path, SchemaTemplate, &tf); err != nil {
		return nil, err
	}

	settings := make(map[string]interface{}, len(tf.Settings))
	for k, v := range tf.Settings {
		settings[k] = normalizeValue(v)
	}

	script, scriptName := tf.Script, tf.ID+".star"
	if tf.ScriptFile != "" {
		scriptPath := tf.ScriptFile
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(filepath.Dir(path), scriptPath)
		}
		data, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read template script: %w", err)
		}
		script, scriptName = string(data), filepath.Base(scriptPath)
	}

	if script != "" {
		if facts == nil {
			facts = map[string]interface{}{}
		}
		res, err := l.starlark.Evaluate(ctx, scriptName, script, map[string]interface{}{
			"facts":    facts,
			"settings": settings,
		})
		if err != nil {
			return nil, fmt.Errorf("template %s script: %w", tf.ID, err)
		}
		if updated, ok := res.Inputs["settings"].(map[string]interface{}); ok {
			settings = updated
		}
		if out, ok := res.Output["settings"]; ok {
			overrides, ok := out.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("template %s script: settings must be a dict, got %T", tf.ID, out)
			}
			for k, v := range overrides {
				settings[k] = v
			}
		}
		l.logger.Debug().
			Str("template", tf.ID).
			Dur("duration", res.ExecutionTime).
			Msg("Template script evaluated")
	}

	return &engine.Template{
		ID:         tf.ID,
		DeviceType: tf.DeviceType,
		Settings:   settings,
	}, nil
}

// LoadFirmwareInventory loads a firmware inventory. The returned target is
// empty when the file does not name one.
func (l *Loader) LoadFirmwareInventory(path string) (string, []engine.FirmwareItem, error) {
	var inv InventoryFile
	if err := l.decodeFile(path, SchemaInventory, &inv); err != nil {
		return "", nil, err
	}
	items, err := inv.ToFirmwareItems()
	if err != nil {
		return "", nil, &LoadError{File: path, Errors: []ValidationError{{File: path, Message: err.Error(), Severity: "error"}}}
	}
	return inv.Target, items, nil
}

// LoadProfileDir loads every profile in dir, keyed by profile name.
func (l *Loader) LoadProfileDir(dir string) (map[string]*engine.DeviceProfile, error) {
	files, err := ListConfigFiles(dir)
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]*engine.DeviceProfile, len(files))
	var errs []error
	for _, f := range files {
		p, err := l.LoadProfile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := profiles[p.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate profile name %s", f, p.Name))
			continue
		}
		profiles[p.Name] = p
	}
	return profiles, errors.Join(errs...)
}

// ListConfigFiles returns the loadable files directly under dir, sorted.
func ListConfigFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsConfigFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsConfigFile reports whether the loader understands the file extension.
func IsConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range supportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// decodeFile decodes path into out by extension, then checks the result
// against the schema and the struct tags.
func (l *Loader) decodeFile(path, schema string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		if verrs := l.decodeCUE(path, data, schema, out); len(verrs) > 0 {
			return &LoadError{File: path, Errors: verrs}
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return &LoadError{File: path, Errors: []ValidationError{yamlError(path, err)}}
		}
		if err := l.schemas.ValidateAgainstSchema(context.Background(), schema, out); err != nil {
			return &LoadError{File: path, Errors: convertCUEErrors(path, err)}
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return &LoadError{File: path, Errors: []ValidationError{{File: path, Message: err.Error(), Severity: "error"}}}
		}
		if err := l.schemas.ValidateAgainstSchema(context.Background(), schema, out); err != nil {
			return &LoadError{File: path, Errors: convertCUEErrors(path, err)}
		}
	default:
		return fmt.Errorf("unsupported file type %q: %s", ext, path)
	}

	if err := l.validator.Struct(out); err != nil {
		return &LoadError{File: path, Errors: convertValidatorErrors(path, err)}
	}
	return nil
}

func (l *Loader) decodeCUE(path string, data []byte, schema string, out interface{}) []ValidationError {
	val := l.ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return convertCUEErrors(path, err)
	}
	unified, err := l.schemas.Unify(schema, val)
	if err != nil {
		return convertCUEErrors(path, err)
	}
	if err := unified.Decode(out); err != nil {
		return convertCUEErrors(path, err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice with
// source positions.
func convertCUEErrors(path string, err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     path,
			Message:  strings.TrimSpace(cueerrors.Details(e, nil)),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() == path {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if p := e.Path(); len(p) > 0 {
			ve.Field = strings.Join(p, ".")
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: path, Message: err.Error(), Severity: "error"})
	}
	return out
}

func convertValidatorErrors(path string, err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{File: path, Message: err.Error(), Severity: "error"}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			File:     path,
			Field:    fe.Namespace(),
			Message:  msg,
			Severity: "error",
		})
	}
	return out
}

func yamlError(path string, err error) ValidationError {
	ve := ValidationError{File: path, Message: err.Error(), Severity: "error"}
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		ve.Message = strings.Join(te.Errors, "; ")
	}
	return ve
}

// normalizeValue converts the numeric types produced by the decoders so
// scripts and comparisons see int64 for whole numbers.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
