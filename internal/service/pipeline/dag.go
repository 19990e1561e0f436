// Package pipeline resolves pipeline definitions into execution batches and
// drives them through the named transform and load units.
package pipeline

import (
	"fmt"
	"sort"

	"etl-orchestrator/internal/domain"
)

// ResolveOptions tunes how definitions are turned into batches.
type ResolveOptions struct {
	// StrictGroups runs each parallel group of a phase as its own batch and
	// every ungrouped pipeline alone.
	StrictGroups bool
	// DisabledPolicy decides whether a disabled dependency satisfies its
	// dependents. Empty means DisabledSatisfied.
	DisabledPolicy domain.DisabledPolicy
}

// Resolve validates the dependency graph and groups the enabled pipelines
// into ordered batches. Every dependency of a batch member is placed in a
// strictly earlier batch. Output is deterministic: batches ascend by phase
// (then group) and names are sorted within a batch.
func Resolve(pipelines []domain.PipelineDefinition, opts ResolveOptions) (*domain.Resolution, error) {
	policy := opts.DisabledPolicy
	if policy == "" {
		policy = domain.DisabledSatisfied
	}
	if policy != domain.DisabledSatisfied && policy != domain.DisabledBlocked {
		return nil, domain.ErrConfiguration("unknown disabled dependency policy %q", policy)
	}

	byName := make(map[string]domain.PipelineDefinition, len(pipelines))
	names := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		if p.Name == "" {
			return nil, domain.ErrConfiguration("pipeline definition without a name")
		}
		if _, dup := byName[p.Name]; dup {
			return nil, domain.ErrConfiguration("duplicate pipeline name %q", p.Name)
		}
		byName[p.Name] = p
		names = append(names, p.Name)
	}
	sort.Strings(names)

	deps := make(map[string][]string, len(names))
	for _, name := range names {
		p := byName[name]
		seen := make(map[string]struct{}, len(p.DependsOn))
		for _, d := range p.DependsOn {
			if d == name {
				return nil, domain.ErrConfiguration("pipeline %q depends on itself", name)
			}
			if _, ok := byName[d]; !ok {
				return nil, domain.ErrConfiguration("pipeline %q depends on unknown pipeline %q", name, d)
			}
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			deps[name] = append(deps[name], d)
		}
		sort.Strings(deps[name])
	}

	if err := detectCycle(names, deps); err != nil {
		return nil, err
	}

	phases := computePhases(names, deps, byName)

	res := &domain.Resolution{}
	blocked := make(map[string]bool)
	if policy == domain.DisabledBlocked {
		memo := make(map[string]string, len(names))
		for _, name := range names {
			if !byName[name].Enabled {
				continue
			}
			if by := disabledAncestor(name, deps, byName, memo); by != "" {
				blocked[name] = true
				res.Blocked = append(res.Blocked, domain.BlockedPipeline{
					Name:   name,
					Reason: fmt.Sprintf("dependency %s is disabled", by),
				})
			}
		}
	}

	byPhase := make(map[int][]string)
	for _, name := range names {
		p := byName[name]
		if !p.Enabled || blocked[name] {
			continue
		}
		if len(deps[name]) > 0 && phases[name] > p.ExecutionOrder {
			res.Warnings = append(res.Warnings, domain.PhaseOverrideWarning{
				Name:     name,
				Declared: p.ExecutionOrder,
				Computed: phases[name],
			})
		}
		byPhase[phases[name]] = append(byPhase[phases[name]], name)
	}

	phaseKeys := make([]int, 0, len(byPhase))
	for ph := range byPhase {
		phaseKeys = append(phaseKeys, ph)
	}
	sort.Ints(phaseKeys)

	for _, ph := range phaseKeys {
		members := byPhase[ph]
		if !opts.StrictGroups {
			res.Batches = append(res.Batches, domain.Batch{Phase: ph, Pipelines: members})
			continue
		}
		res.Batches = append(res.Batches, strictBatches(ph, members, byName)...)
	}
	return res, nil
}

// strictBatches splits one phase into a batch per parallel group (ascending)
// followed by a singleton batch per ungrouped pipeline. members is sorted.
func strictBatches(phase int, members []string, byName map[string]domain.PipelineDefinition) []domain.Batch {
	groups := make(map[int][]string)
	var ungrouped []string
	for _, name := range members {
		if g := byName[name].ParallelGroup; g != nil {
			groups[*g] = append(groups[*g], name)
		} else {
			ungrouped = append(ungrouped, name)
		}
	}
	groupKeys := make([]int, 0, len(groups))
	for g := range groups {
		groupKeys = append(groupKeys, g)
	}
	sort.Ints(groupKeys)

	out := make([]domain.Batch, 0, len(groupKeys)+len(ungrouped))
	for _, g := range groupKeys {
		group := g
		out = append(out, domain.Batch{Phase: phase, Group: &group, Pipelines: groups[g]})
	}
	for _, name := range ungrouped {
		out = append(out, domain.Batch{Phase: phase, Pipelines: []string{name}})
	}
	return out
}

// detectCycle walks dependsOn edges depth-first with a recursion stack.
func detectCycle(names []string, deps map[string][]string) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(names))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		stack = append(stack, name)
		for _, d := range deps[name] {
			switch color[d] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == d {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return &domain.CycleDetectedError{Names: append(cycle, d)}
			case white:
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// computePhases assigns max(executionOrder, 1 + max dependency phase) to
// every pipeline, disabled ones included. The graph must be acyclic.
func computePhases(names []string, deps map[string][]string, byName map[string]domain.PipelineDefinition) map[string]int {
	phases := make(map[string]int, len(names))
	var phaseOf func(name string) int
	phaseOf = func(name string) int {
		if ph, ok := phases[name]; ok {
			return ph
		}
		ph := byName[name].ExecutionOrder
		for _, d := range deps[name] {
			if dp := phaseOf(d) + 1; dp > ph {
				ph = dp
			}
		}
		phases[name] = ph
		return ph
	}
	for _, name := range names {
		phaseOf(name)
	}
	return phases
}

// disabledAncestor returns the first disabled pipeline reachable through
// dependsOn edges, or "" when every ancestor is enabled.
func disabledAncestor(name string, deps map[string][]string, byName map[string]domain.PipelineDefinition, memo map[string]string) string {
	if by, ok := memo[name]; ok {
		return by
	}
	by := ""
	for _, d := range deps[name] {
		if !byName[d].Enabled {
			by = d
			break
		}
		if up := disabledAncestor(d, deps, byName, memo); up != "" {
			by = up
			break
		}
	}
	memo[name] = by
	return by
}
