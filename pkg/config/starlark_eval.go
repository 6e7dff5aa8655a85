package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultScriptTimeout bounds a template script.
const DefaultScriptTimeout = 30 * time.Second

// defaultMaxSteps caps the computation steps of one script.
const defaultMaxSteps = 10_000_000

// StarlarkEvaluator executes template scripts in a sandboxed thread.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration, logger zerolog.Logger) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: defaultMaxSteps,
		logger:   logger.With().Str("component", "starlark").Logger(),
	}
}

// Evaluate executes script with input as predeclared globals and returns the
// exported globals. Names starting with an underscore and functions are not
// exported. Result.Inputs reflects in-place changes to mutable inputs.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, name, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Debug().Str("script", name).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	result := &StarlarkResult{}
	output, inputs, err := se.exec(thread, name, script, input)
	result.ExecutionTime = time.Since(startTime)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("starlark execution timeout after %v: %w", se.timeout, err)
		}
		result.Error = err.Error()
		return result, err
	}
	result.Output = output
	result.Inputs = inputs
	return result, nil
}

func (se *StarlarkEvaluator) exec(thread *starlark.Thread, name, script string, input map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, name, script, predeclared)
	if err != nil {
		return nil, nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{}, len(globals))
	for gname, val := range globals {
		if len(gname) > 0 && gname[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert output %s: %w", gname, err)
		}
		output[gname] = goVal
	}

	inputs := make(map[string]interface{}, len(input))
	for key := range input {
		goVal, err := fromStarlarkValue(predeclared[key])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		inputs[key] = goVal
	}
	return output, inputs, nil
}

// toStarlarkValue converts a Go value to a Starlark value. Dict keys are
// inserted in sorted order so scripts see a deterministic iteration order.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value. Integers come
// back as int64.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
