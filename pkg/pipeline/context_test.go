package pipeline

import (
	"testing"
)

func TestNewExecContext_Defaults(t *testing.T) {
	ec := NewExecContext("/work", nil, nil, nil)
	if ec.ExecutionID == "" {
		t.Error("execution id must be assigned")
	}
	if ec.Env == nil || ec.Logger == nil || ec.Credentials == nil {
		t.Error("nil collaborators must be defaulted")
	}
	if ec.WorkDir != "/work" {
		t.Errorf("WorkDir = %q", ec.WorkDir)
	}
}

func TestForkStage_IsolatesSiblingEnv(t *testing.T) {
	root := NewExecContext("/work", nil, nil, nil)
	root.Env.Set("SHARED", "yes")

	a := root.ForkStage("A")
	a.Env.Set("ONLY_A", "1")

	b := root.ForkStage("B")

	if _, ok := b.Env.Get("ONLY_A"); ok {
		t.Error("sibling stage observed another stage's mutation")
	}
	if v, _ := b.Env.Get("SHARED"); v != "yes" {
		t.Error("stage must read workflow-global env")
	}
	if a.ExecutionID != root.ExecutionID {
		t.Error("forks share the execution id")
	}
	if a.Scope != "A" {
		t.Errorf("Scope = %q", a.Scope)
	}
}

func TestForkStep_SharesStageEnv(t *testing.T) {
	root := NewExecContext("/work", nil, nil, nil)
	stage := root.ForkStage("Build")

	step1 := stage.ForkStep("sh")
	step1.Env.Set("FROM_STEP_1", "v")

	step2 := stage.ForkStep("echo")
	if v, _ := step2.Env.Get("FROM_STEP_1"); v != "v" {
		t.Error("step N+1 must observe step N's env mutations")
	}
}

func TestForkBranch_SnapshotsEnv(t *testing.T) {
	root := NewExecContext("/work", nil, nil, nil)
	stage := root.ForkStage("P")
	stage.Env.Set("AT_FORK", "1")

	branch := stage.ForkBranch("a")
	stage.Env.Set("AFTER_FORK", "2")

	if _, ok := branch.Env.Get("AFTER_FORK"); ok {
		t.Error("branch must not observe post-fork stage mutations")
	}
	if v, _ := branch.Env.Get("AT_FORK"); v != "1" {
		t.Error("branch keeps the fork-time snapshot")
	}
	if branch.Scope != "P/a" {
		t.Errorf("Scope = %q", branch.Scope)
	}
}
