package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5*time.Second, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: "result = 2 + 2\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "reads facts",
			script: "mode = 'UEFI' if facts['cpu_count'] > 1 else 'Legacy'\n",
			input:  map[string]interface{}{"facts": map[string]interface{}{"cpu_count": 2}},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["mode"] != "UEFI" {
					t.Errorf("expected mode=UEFI, got %v", sr.Output["mode"])
				}
			},
		},
		{
			name: "private globals and functions hidden",
			script: `
_hidden = 1
def helper():
    return 2
visible = helper()
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				want := map[string]interface{}{"visible": int64(2)}
				if diff := cmp.Diff(want, sr.Output); diff != "" {
					t.Errorf("Output mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:   "struct converts to dict",
			script: "s = struct(a = 1, b = [True, None])\n",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				want := map[string]interface{}{"a": int64(1), "b": []interface{}{true, nil}}
				if diff := cmp.Diff(want, sr.Output["s"]); diff != "" {
					t.Errorf("struct mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "syntax error",
			script:  "x = = 1\n",
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  "x = 1 // 0\n",
			wantErr: true,
		},
		{
			name:    "unsupported input",
			script:  "x = 1\n",
			input:   map[string]interface{}{"ch": make(chan int)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if result.Error == "" {
					t.Error("expected result.Error to be set")
				}
				return
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50*time.Millisecond, zerolog.Nop())
	evaluator.maxSteps = 0

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n
x = spin()
`
	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want timeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation took %v", time.Since(start))
	}
}

func TestStarlarkEvaluator_StepLimit(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute, zerolog.Nop())
	evaluator.maxSteps = 1000

	_, err := evaluator.Evaluate(context.Background(), "loop.star", "def f():\n    for i in range(100000):\n        pass\nf()\n", nil)
	if err == nil {
		t.Fatal("expected step limit error")
	}
}
