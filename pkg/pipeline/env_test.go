package pipeline

import (
	"errors"
	"strings"
	"testing"

	conveyorerrors "github.com/conveyor-ci/conveyor/pkg/errors"
)

func TestEnvVars_SetGetOrder(t *testing.T) {
	env := NewEnvVars()
	env.Set("DB", "sqlite")
	env.Set("CACHE", "redis")
	env.Set("DB", "postgres") // rewrite keeps position

	if got, _ := env.Get("DB"); got != "postgres" {
		t.Errorf("Get(DB) = %q", got)
	}
	keys := env.Keys()
	if len(keys) != 2 || keys[0] != "DB" || keys[1] != "CACHE" {
		t.Errorf("Keys() = %v, want [DB CACHE]", keys)
	}
}

func TestEnvVars_ChildOverlay(t *testing.T) {
	parent := NewEnvVars()
	parent.Set("DB", "sqlite")
	parent.Set("REGION", "eu")

	child := parent.Child()
	child.Set("DB", "postgres")
	child.Set("EXTRA", "1")

	if got, _ := child.Get("DB"); got != "postgres" {
		t.Errorf("child shadows parent: got %q", got)
	}
	if got, _ := child.Get("REGION"); got != "eu" {
		t.Errorf("child reads through to parent: got %q", got)
	}

	// Parent never observes child writes.
	if _, ok := parent.Get("EXTRA"); ok {
		t.Error("parent must not see child bindings")
	}
	if got, _ := parent.Get("DB"); got != "sqlite" {
		t.Errorf("parent binding clobbered: got %q", got)
	}
}

func TestEnvVars_Expand(t *testing.T) {
	env := NewEnvVars()
	env.Set("DB", "sqlite")
	env.Set("USER", "ci")

	tests := []struct {
		in   string
		want string
	}{
		{"engine=${DB}", "engine=sqlite"},
		{"${USER}@${DB}", "ci@sqlite"},
		{"no refs here", "no refs here"},
		{"", ""},
		{"$DB is not a reference", "$DB is not a reference"},
	}
	for _, tt := range tests {
		got, err := env.Expand(tt.in)
		if err != nil {
			t.Fatalf("Expand(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvVars_ExpandUnknown(t *testing.T) {
	env := NewEnvVars()
	env.Set("DB", "sqlite")

	_, err := env.Expand("engine=${MISSING}")
	var unknown *conveyorerrors.UnknownEnvVarError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownEnvVarError", err)
	}
	if unknown.Name != "MISSING" {
		t.Errorf("Name = %q", unknown.Name)
	}
}

func TestEnvVars_ExpandNeverLeavesResolvedRefs(t *testing.T) {
	env := NewEnvVars()
	env.Set("A", "1")
	env.Set("B", "2")

	got, err := env.Expand("${A}${B}${A}")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "${") {
		t.Errorf("resolved expansion still contains a reference: %q", got)
	}
}

func TestEnvVars_SnapshotDetaches(t *testing.T) {
	parent := NewEnvVars()
	parent.Set("DB", "sqlite")
	child := parent.Child()
	child.Set("STAGE", "build")

	snap := child.Snapshot()
	parent.Set("DB", "postgres")

	if got, _ := snap.Get("DB"); got != "sqlite" {
		t.Errorf("snapshot must not track parent mutations: got %q", got)
	}
	if got, _ := snap.Get("STAGE"); got != "build" {
		t.Errorf("snapshot keeps overlay bindings: got %q", got)
	}
}

func TestEnvVars_MergeLastWriterWins(t *testing.T) {
	target := NewEnvVars()
	target.Set("DB", "sqlite")

	a := NewEnvVars()
	a.Set("DB", "postgres")
	a.Set("FROM_A", "1")

	b := NewEnvVars()
	b.Set("DB", "mysql")

	target.Merge(a)
	target.Merge(b)

	if got, _ := target.Get("DB"); got != "mysql" {
		t.Errorf("merge order must win: got %q", got)
	}
	if _, ok := target.Get("FROM_A"); !ok {
		t.Error("merged keys missing")
	}
}

func TestEnvVars_Environ(t *testing.T) {
	env := NewEnvVars()
	env.Set("A", "1")
	child := env.Child()
	child.Set("B", "2")

	got := child.Environ()
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("Environ() = %v", got)
	}
}
