package app

import (
	"context"
	"fmt"
	"strings"

	"etl-orchestrator/internal/declarative"
)

// bootActor is recorded on audit entries written by the startup apply.
const bootActor = "bootstrap"

// applyDefinitions loads, validates and applies a definitions directory. Any
// validation error aborts startup so a broken directory is never half applied.
func (a *App) applyDefinitions(ctx context.Context, dir string) error {
	desired, err := declarative.LoadDirectory(dir)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	errs := declarative.Validate(desired, declarative.ValidateOptions{
		KnownUnits: a.Units.Names(),
		Predicates: a.Predicates,
	})
	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("definitions in %s are invalid:\n  %s", dir, strings.Join(msgs, "\n  "))
	}

	res, err := a.Config.Apply(ctx, bootActor, "startup apply of "+dir, desired.SnapshotData())
	if err != nil {
		return fmt.Errorf("apply definitions: %w", err)
	}
	a.logger.Info("definitions applied", "dir", dir, "result", res.String())
	return nil
}
