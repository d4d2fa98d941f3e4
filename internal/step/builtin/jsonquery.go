package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// JSONQuery evaluates a jq expression against a JSON document, either
// inline ("json") or loaded from the workspace ("file"). Pipelines use it
// to pull fields out of tool reports without shelling out.
type JSONQuery struct{}

// Name implements step.Interface.
func (JSONQuery) Name() string { return "jsonQuery" }

// Category implements step.Interface.
func (JSONQuery) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (JSONQuery) SecurityLevel() step.SecurityLevel { return step.Trusted }

// Execute implements step.Interface.
func (JSONQuery) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	queryStr, ok := args.GetString("query")
	if !ok || queryStr == "" {
		return nil, errors.New("jsonQuery: query is required")
	}

	document, err := loadDocument(ec, args)
	if err != nil {
		return nil, err
	}

	query, err := gojq.Parse(queryStr)
	if err != nil {
		return nil, fmt.Errorf("jsonQuery: invalid query: %w", err)
	}

	var lines []string
	iter := query.RunWithContext(ctx, document)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jsonQuery: %w", err)
		}
		rendered, err := renderValue(v)
		if err != nil {
			return nil, err
		}
		lines = append(lines, rendered)
	}

	return &pipeline.StepResult{Stdout: strings.Join(lines, "\n") + "\n"}, nil
}

func loadDocument(ec *pipeline.ExecContext, args pipeline.Args) (any, error) {
	var data []byte
	if inline, ok := args.GetString("json"); ok && inline != "" {
		data = []byte(inline)
	} else if file, ok := args.GetString("file"); ok && file != "" {
		content, err := os.ReadFile(resolvePath(ec.WorkDir, file))
		if err != nil {
			return nil, &errors.IOError{Op: "read", Path: file, Cause: err}
		}
		data = content
	} else {
		return nil, errors.New("jsonQuery: either json or file is required")
	}

	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("jsonQuery: invalid JSON input: %w", err)
	}
	return document, nil
}

func renderValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jsonQuery: encode result: %w", err)
	}
	return string(encoded), nil
}
