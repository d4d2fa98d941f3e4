package proptree

import (
	"errors"
	"strings"
	"testing"
)

const sampleYAML = `
agent:
  docker:
    image: golang:1.22
environment:
  DB: sqlite
  CACHE: redis
  PATH_PREFIX: /opt
stages:
  - name: Build
    steps:
      - sh: go build ./...
  - name: Test
    steps:
      - sh: go test ./...
        returnStdout: true
retries: 3
unstable: false
`

func TestFromYAML_PathAddressing(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}

	image, err := root.String("agent.docker.image")
	if err != nil {
		t.Fatalf("String(agent.docker.image): %v", err)
	}
	if image != "golang:1.22" {
		t.Errorf("image = %q", image)
	}

	name, err := root.String("stages[1].name")
	if err != nil {
		t.Fatalf("String(stages[1].name): %v", err)
	}
	if name != "Test" {
		t.Errorf("stages[1].name = %q, want Test", name)
	}

	got, err := root.Bool("stages[1].steps[0].returnStdout")
	if err != nil || !got {
		t.Errorf("stages[1].steps[0].returnStdout = %v, %v, want true", got, err)
	}
}

func TestFromYAML_PreservesMappingOrder(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	env, err := root.Map("environment")
	if err != nil {
		t.Fatalf("Map(environment): %v", err)
	}
	keys := env.Keys()
	want := []string{"DB", "CACHE", "PATH_PREFIX"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestNode_PathRendering(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	node, ok := root.Get("stages[0].steps[0].sh")
	if !ok {
		t.Fatal("Get(stages[0].steps[0].sh) not found")
	}
	if node.Path() != "stages[0].steps[0].sh" {
		t.Errorf("Path() = %q", node.Path())
	}
}

func TestTypedAccessors_Errors(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}

	t.Run("key not found", func(t *testing.T) {
		_, err := root.String("agent.kubernetes.image")
		var notFound ErrKeyNotFound
		if !errors.As(err, &notFound) {
			t.Fatalf("err = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("type assertion", func(t *testing.T) {
		_, err := root.String("retries")
		var mismatch ErrTypeAssertion
		if !errors.As(err, &mismatch) {
			t.Fatalf("err = %v, want ErrTypeAssertion", err)
		}
		if mismatch.Want != "string" {
			t.Errorf("Want = %q", mismatch.Want)
		}
		// Error text must not echo the value.
		if strings.Contains(err.Error(), "3") {
			t.Error("type assertion error must not include the actual value")
		}
	})

	t.Run("defaults", func(t *testing.T) {
		if got := root.IntOr("retries", 1); got != 3 {
			t.Errorf("IntOr(retries) = %d, want 3", got)
		}
		if got := root.IntOr("missing", 7); got != 7 {
			t.Errorf("IntOr(missing) = %d, want 7", got)
		}
		if got := root.BoolOr("unstable", true); got != false {
			t.Errorf("BoolOr(unstable) = %v, want false", got)
		}
		if got := root.StringOr("agent.docker.image", "x"); got != "golang:1.22" {
			t.Errorf("StringOr = %q", got)
		}
	})
}

func TestStringMap(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	pairs, err := root.StringMap("environment")
	if err != nil {
		t.Fatalf("StringMap: %v", err)
	}
	if pairs[0][0] != "DB" || pairs[0][1] != "sqlite" {
		t.Errorf("pairs[0] = %v", pairs[0])
	}
}

func TestSlice(t *testing.T) {
	root, err := FromYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	stages, err := root.Slice("stages")
	if err != nil {
		t.Fatalf("Slice(stages): %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("len(stages) = %d, want 2", len(stages))
	}
	if stages[0].StringOr("name", "") != "Build" {
		t.Errorf("stages[0].name = %q", stages[0].StringOr("name", ""))
	}
}
