package builtin

import (
	"github.com/conveyor-ci/conveyor/internal/step"
)

// RegisterAll registers every built-in step on the registry. Called once at
// engine init, before Freeze.
func RegisterAll(registry *step.Registry) error {
	impls := []step.Interface{
		Shell{},
		Echo{},
		ReadFile{},
		WriteFile{},
		Delay{},
		Checkout{},
		ArchiveArtifacts{},
		JSONQuery{},
	}
	for _, impl := range impls {
		if err := registry.Register(impl); err != nil {
			return err
		}
	}
	return nil
}
