// Package-level loading: a YAML pipeline definition is parsed into a
// property tree, then built into a validated Workflow. Definitions undergo
// total validation before anything executes.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/internal/proptree"
	"github.com/conveyor-ci/conveyor/pkg/errors"
)

// LoadDefinitionFile reads, parses, builds and validates a pipeline
// definition from disk.
func LoadDefinitionFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.IOError{Op: "read", Path: path, Cause: err}
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadDefinition(data, name)
}

// LoadDefinition parses a YAML pipeline definition and validates the
// resulting workflow graph.
func LoadDefinition(data []byte, defaultName string) (*Workflow, error) {
	root, err := proptree.FromYAML(data)
	if err != nil {
		return nil, &errors.DefinitionError{
			Message:    fmt.Sprintf("malformed YAML: %v", err),
			Suggestion: "check indentation and quoting",
		}
	}

	w, err := buildWorkflow(root, defaultName)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func buildWorkflow(root *proptree.Node, defaultName string) (*Workflow, error) {
	w := &Workflow{
		Name:  root.StringOr("name", defaultName),
		Agent: Agent{Type: AgentNone},
	}

	if agent, ok := root.Get("agent"); ok && !agent.IsNull() {
		built, err := buildAgent(agent)
		if err != nil {
			return nil, err
		}
		w.Agent = built
	}

	if envNode, ok := root.Get("environment"); ok && !envNode.IsNull() {
		pairs, err := root.StringMap("environment")
		if err != nil {
			return nil, definitionErr(envNode.Path(), err)
		}
		for _, pair := range pairs {
			w.Env = append(w.Env, EnvEntry{Name: pair[0], Value: pair[1]})
		}
	}

	stages, err := root.Slice("stages")
	if err != nil {
		return nil, &errors.DefinitionError{
			Path:       "stages",
			Message:    "pipeline must declare a stages sequence",
			Suggestion: "add a top-level stages block",
		}
	}
	for _, stageNode := range stages {
		stage, err := buildStage(stageNode)
		if err != nil {
			return nil, err
		}
		w.Stages = append(w.Stages, stage)
	}

	if postNode, ok := root.Get("post"); ok && !postNode.IsNull() {
		hooks, err := buildPost(postNode)
		if err != nil {
			return nil, err
		}
		w.Post = hooks
	}

	return w, nil
}

func buildAgent(node *proptree.Node) (Agent, error) {
	if s, ok := node.Value().(string); ok {
		if s == "none" {
			return Agent{Type: AgentNone}, nil
		}
		return Agent{}, &errors.DefinitionError{
			Path:       node.Path(),
			Message:    fmt.Sprintf("unknown agent %q", s),
			Suggestion: "use `agent: none` or an `agent: docker:` block",
		}
	}

	if docker, ok := node.Get("docker"); ok && !docker.IsNull() {
		image, err := docker.String("image")
		if err != nil {
			return Agent{}, definitionErr(docker.Path()+".image", err)
		}
		return Agent{
			Type:  AgentDocker,
			Image: image,
			Label: docker.StringOr("label", ""),
			Tag:   docker.StringOr("tag", ""),
		}, nil
	}
	if _, ok := node.Get("none"); ok {
		return Agent{Type: AgentNone}, nil
	}
	return Agent{}, &errors.DefinitionError{
		Path:       node.Path(),
		Message:    "unrecognized agent block",
		Suggestion: "use `agent: none` or `agent: docker: {image: ...}`",
	}
}

func buildStage(node *proptree.Node) (Stage, error) {
	name, err := node.String("name")
	if err != nil {
		return Stage{}, definitionErr(node.Path()+".name", err)
	}

	stage := Stage{
		Name:      name,
		When:      node.StringOr("when", ""),
		Isolation: IsolationNone,
	}

	if level := node.StringOr("isolation_level", ""); level != "" {
		isolation, err := parseIsolation(level, node.Path()+".isolation_level")
		if err != nil {
			return Stage{}, err
		}
		stage.Isolation = isolation
	}

	if limitsNode, ok := node.Get("resource_limits"); ok && !limitsNode.IsNull() {
		stage.Limits = buildLimits(limitsNode)
	}

	steps, err := node.Slice("steps")
	if err == nil {
		for _, stepNode := range steps {
			built, err := buildStep(stepNode)
			if err != nil {
				return Stage{}, err
			}
			stage.Steps = append(stage.Steps, built)
		}
	}

	if postNode, ok := node.Get("post"); ok && !postNode.IsNull() {
		hooks, err := buildPost(postNode)
		if err != nil {
			return Stage{}, err
		}
		stage.Post = hooks
	}

	return stage, nil
}

// parseIsolation maps a definition-level isolation name onto a level. The
// legacy "classloader" name from ported pipelines aliases to goroutine.
func parseIsolation(level, path string) (IsolationLevel, error) {
	switch level {
	case "none":
		return IsolationNone, nil
	case "goroutine", "thread", "classloader":
		return IsolationGoroutine, nil
	case "process":
		return IsolationProcess, nil
	case "container":
		return IsolationContainer, nil
	default:
		return IsolationNone, &errors.DefinitionError{
			Path:       path,
			Message:    fmt.Sprintf("unknown isolation level %q", level),
			Suggestion: "use one of: none, goroutine, process, container",
		}
	}
}

func buildLimits(node *proptree.Node) ResourceLimits {
	lim := ResourceLimits{
		MaxMemoryMB:  int64(node.IntOr("max_memory_mb", 0)),
		MaxCPUMillis: int64(node.IntOr("max_cpu_ms", 0)),
		MaxThreads:   node.IntOr("max_threads", 0),
	}
	if _, ok := node.Get("max_wall_ms"); ok {
		lim.MaxWallMillis = int64(node.IntOr("max_wall_ms", 0))
		lim.WallExplicit = true
	}
	return lim
}

// stepModifierKeys are mapping keys that qualify a step rather than naming
// one.
var stepModifierKeys = map[string]bool{
	"returnStdout": true,
}

func buildStep(node *proptree.Node) (Step, error) {
	verb := ""
	for _, key := range node.Keys() {
		if !stepModifierKeys[key] {
			verb = key
			break
		}
	}
	if verb == "" {
		return Step{}, &errors.DefinitionError{
			Path:    node.Path(),
			Message: "step declares no operation",
		}
	}

	body, _ := node.Get(verb)

	switch verb {
	case "sh":
		command, err := scalarString(node, verb)
		if err != nil {
			return Step{}, err
		}
		return Step{
			Type:         StepShell,
			Command:      command,
			ReturnStdout: node.BoolOr("returnStdout", false),
		}, nil

	case "echo":
		message, err := scalarString(node, verb)
		if err != nil {
			return Step{}, err
		}
		return Step{Type: StepEcho, Message: message}, nil

	case "readFile":
		path, err := scalarString(node, verb)
		if err != nil {
			return Step{}, err
		}
		return Step{Type: StepReadFile, Path: path}, nil

	case "writeFile":
		file, err := body.String("file")
		if err != nil {
			return Step{}, definitionErr(body.Path()+".file", err)
		}
		return Step{
			Type:    StepWriteFile,
			Path:    file,
			Content: body.StringOr("text", ""),
		}, nil

	case "delay":
		millis, err := node.Int(verb)
		if err != nil {
			return Step{}, definitionErr(body.Path(), err)
		}
		return Step{Type: StepDelay, Duration: time.Duration(millis) * time.Millisecond}, nil

	case "checkout":
		if s, ok := body.Value().(string); ok {
			return Step{Type: StepCheckout, Repo: s}, nil
		}
		url, err := body.String("url")
		if err != nil {
			return Step{}, definitionErr(body.Path()+".url", err)
		}
		return Step{
			Type: StepCheckout,
			Repo: url,
			Ref:  body.StringOr("branch", ""),
			Dir:  body.StringOr("dir", ""),
		}, nil

	case "archiveArtifacts":
		patterns, err := patternStrings(body)
		if err != nil {
			return Step{}, err
		}
		return Step{Type: StepArchiveArtifacts, Patterns: patterns}, nil

	case "retry":
		attempts, err := body.Int("attempts")
		if err != nil {
			return Step{}, definitionErr(body.Path()+".attempts", err)
		}
		inner, err := body.Slice("steps")
		if err != nil {
			return Step{}, definitionErr(body.Path()+".steps", err)
		}
		built := Step{Type: StepRetry, Attempts: attempts}
		for _, stepNode := range inner {
			s, err := buildStep(stepNode)
			if err != nil {
				return Step{}, err
			}
			built.Body = append(built.Body, s)
		}
		return built, nil

	case "parallel":
		return buildParallel(body)

	case "step":
		name, err := body.String("name")
		if err != nil {
			return Step{}, definitionErr(body.Path()+".name", err)
		}
		built := Step{Type: StepUserDefined, Name: name}
		if argsNode, ok := body.Get("args"); ok && !argsNode.IsNull() {
			built.Args = buildArgs(argsNode)
		}
		return built, nil

	default:
		return Step{}, &errors.DefinitionError{
			Path:       node.Path() + "." + verb,
			Message:    fmt.Sprintf("unresolved step %q", verb),
			Suggestion: firstOr(errors.Suggest(fmt.Sprintf("unresolved step '%s'", verb)), ""),
		}
	}
}

// buildParallel accepts both the canonical form with an explicit branches
// mapping and the shorthand where every key is a branch.
func buildParallel(body *proptree.Node) (Step, error) {
	built := Step{Type: StepParallel, FailFast: true}

	branchSource := body
	if branches, ok := body.Get("branches"); ok && !branches.IsNull() {
		branchSource = branches
	}
	built.FailFast = body.BoolOr("failFast", true)

	for _, branchName := range branchSource.Keys() {
		if branchSource == body && (branchName == "failFast" || branchName == "branches") {
			continue
		}
		stepNodes, err := branchSource.Slice(branchName)
		if err != nil {
			return Step{}, definitionErr(branchSource.Path()+"."+branchName, err)
		}
		branch := Branch{Name: branchName}
		for _, stepNode := range stepNodes {
			s, err := buildStep(stepNode)
			if err != nil {
				return Step{}, err
			}
			branch.Steps = append(branch.Steps, s)
		}
		built.Branches = append(built.Branches, branch)
	}

	return built, nil
}

func buildPost(node *proptree.Node) ([]PostHook, error) {
	var hooks []PostHook
	for _, trigger := range node.Keys() {
		stepNodes, err := node.Slice(trigger)
		if err != nil {
			return nil, definitionErr(node.Path()+"."+trigger, err)
		}
		hook := PostHook{Trigger: Trigger(trigger)}
		for _, stepNode := range stepNodes {
			s, err := buildStep(stepNode)
			if err != nil {
				return nil, err
			}
			hook.Steps = append(hook.Steps, s)
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

func buildArgs(node *proptree.Node) Args {
	if items := node.Items(); items != nil {
		positional := make([]any, 0, len(items))
		for _, item := range items {
			positional = append(positional, item.Value())
		}
		return PositionalArgs(positional...)
	}
	named := make(map[string]any)
	for _, key := range node.Keys() {
		child, _ := node.Get(key)
		named[key] = child.Value()
	}
	return NamedArgs(named)
}

func scalarString(node *proptree.Node, key string) (string, error) {
	s, err := node.String(key)
	if err != nil {
		return "", definitionErr(node.Path()+"."+key, err)
	}
	return s, nil
}

func patternStrings(body *proptree.Node) ([]string, error) {
	if s, ok := body.Value().(string); ok {
		return []string{s}, nil
	}
	items := body.Items()
	if items == nil {
		if artifacts, err := body.String("artifacts"); err == nil {
			return []string{artifacts}, nil
		}
		if nested, err := body.Slice("artifacts"); err == nil {
			items = nested
		}
	}
	var out []string
	for _, item := range items {
		s, ok := item.Value().(string)
		if !ok {
			return nil, &errors.DefinitionError{
				Path:    item.Path(),
				Message: "artifact pattern must be a string",
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func definitionErr(path string, err error) error {
	return &errors.DefinitionError{Path: path, Message: err.Error()}
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
