package expression

import (
	"testing"
)

func TestEvaluate_EmptyDefaultsTrue(t *testing.T) {
	eval := New()
	got, err := eval.Evaluate("", nil)
	if err != nil || !got {
		t.Errorf("empty guard = (%v, %v), want (true, nil)", got, err)
	}
}

func TestEvaluate_EnvComparison(t *testing.T) {
	eval := New()
	ctx := map[string]interface{}{
		"env": map[string]string{"BRANCH": "main", "DB": "sqlite"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`env.BRANCH == "main"`, true},
		{`env.BRANCH == "develop"`, false},
		{`env.DB == "sqlite" && env.BRANCH == "main"`, true},
		{`env.DB != "sqlite" || env.BRANCH == "main"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expr, ctx)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_NonBooleanResult(t *testing.T) {
	eval := New()
	_, err := eval.Evaluate(`1 + 1`, nil)
	if err == nil {
		t.Fatal("non-boolean guard should fail")
	}
}

func TestEvaluate_CompileError(t *testing.T) {
	eval := New()
	_, err := eval.Evaluate(`env.BRANCH ==`, nil)
	if err == nil {
		t.Fatal("syntax error should fail")
	}
}

func TestCompile_CachesPrograms(t *testing.T) {
	eval := New()
	if err := eval.Compile(`env.X == "1"`); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	eval.mu.RLock()
	defer eval.mu.RUnlock()
	if len(eval.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(eval.cache))
	}
}
