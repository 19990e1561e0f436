package pipeline

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-orchestrator/internal/domain"
)

func def(name string, deps ...string) domain.PipelineDefinition {
	return domain.PipelineDefinition{
		Name:       name,
		EntityType: "TEST",
		DependsOn:  deps,
		SourceType: domain.SourceSingle,
		LoadType:   domain.LoadFull,
		Enabled:    true,
	}
}

func withOrder(p domain.PipelineDefinition, order int) domain.PipelineDefinition {
	p.ExecutionOrder = order
	return p
}

func withGroup(p domain.PipelineDefinition, group int) domain.PipelineDefinition {
	p.ParallelGroup = &group
	return p
}

func disabled(p domain.PipelineDefinition) domain.PipelineDefinition {
	p.Enabled = false
	return p
}

func batchNames(res *domain.Resolution) [][]string {
	out := make([][]string, 0, len(res.Batches))
	for _, b := range res.Batches {
		out = append(out, b.Pipelines)
	}
	return out
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		pipelines []domain.PipelineDefinition
		opts      ResolveOptions
		want      [][]string
	}{
		{
			name:      "empty",
			pipelines: nil,
			want:      [][]string{},
		},
		{
			name:      "two roots and a join",
			pipelines: []domain.PipelineDefinition{def("C", "A", "B"), def("B"), def("A")},
			want:      [][]string{{"A", "B"}, {"C"}},
		},
		{
			name:      "linear chain",
			pipelines: []domain.PipelineDefinition{def("A"), def("B", "A"), def("C", "B")},
			want:      [][]string{{"A"}, {"B"}, {"C"}},
		},
		{
			name: "diamond",
			pipelines: []domain.PipelineDefinition{
				def("extract"), def("left", "extract"), def("right", "extract"), def("join", "left", "right"),
			},
			want: [][]string{{"extract"}, {"left", "right"}, {"join"}},
		},
		{
			name: "explicit order delays an independent pipeline",
			pipelines: []domain.PipelineDefinition{
				def("A"), withOrder(def("late"), 2), def("B", "A"),
			},
			want: [][]string{{"A"}, {"B"}, {"late"}},
		},
		{
			name: "groups share a phase in non-strict mode",
			pipelines: []domain.PipelineDefinition{
				withGroup(def("a1"), 1), withGroup(def("b1"), 2), def("solo"),
			},
			want: [][]string{{"a1", "b1", "solo"}},
		},
		{
			name: "strict mode splits groups then singletons",
			pipelines: []domain.PipelineDefinition{
				withGroup(def("b1"), 2), withGroup(def("a1"), 1), withGroup(def("a2"), 1),
				def("z_solo"), def("m_solo"), def("next", "a1"),
			},
			opts: ResolveOptions{StrictGroups: true},
			want: [][]string{{"a1", "a2"}, {"b1"}, {"m_solo"}, {"z_solo"}, {"next"}},
		},
		{
			name: "disabled dependency satisfied by default",
			pipelines: []domain.PipelineDefinition{
				disabled(def("A")), def("B", "A"), def("C", "B"),
			},
			want: [][]string{{"B"}, {"C"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Resolve(tt.pipelines, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, batchNames(res))
		})
	}
}

func TestResolve_DisabledBlockedPolicy(t *testing.T) {
	res, err := Resolve([]domain.PipelineDefinition{
		disabled(def("A")), def("B", "A"), def("C", "B"), def("D"),
	}, ResolveOptions{DisabledPolicy: domain.DisabledBlocked})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"D"}}, batchNames(res))
	assert.Equal(t, []domain.BlockedPipeline{
		{Name: "B", Reason: "dependency A is disabled"},
		{Name: "C", Reason: "dependency A is disabled"},
	}, res.Blocked)
}

func TestResolve_UnknownPolicy(t *testing.T) {
	_, err := Resolve([]domain.PipelineDefinition{def("A")}, ResolveOptions{DisabledPolicy: "maybe"})
	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestResolve_PhaseOverrideWarning(t *testing.T) {
	res, err := Resolve([]domain.PipelineDefinition{
		withOrder(def("A"), 1),
		withOrder(def("B", "A"), 1),
		withOrder(def("C", "A"), 5),
	}, ResolveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []domain.PhaseOverrideWarning{{Name: "B", Declared: 1, Computed: 2}}, res.Warnings)
	require.Len(t, res.Batches, 3)
	assert.Equal(t, 1, res.Batches[0].Phase)
	assert.Equal(t, 2, res.Batches[1].Phase)
	assert.Equal(t, 5, res.Batches[2].Phase)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name      string
		pipelines []domain.PipelineDefinition
		errMsg    string
	}{
		{
			name:      "unknown dependency",
			pipelines: []domain.PipelineDefinition{def("A", "ghost")},
			errMsg:    `depends on unknown pipeline "ghost"`,
		},
		{
			name:      "self dependency",
			pipelines: []domain.PipelineDefinition{def("A", "A")},
			errMsg:    "depends on itself",
		},
		{
			name:      "duplicate name",
			pipelines: []domain.PipelineDefinition{def("A"), def("A")},
			errMsg:    "duplicate pipeline name",
		},
		{
			name:      "missing name",
			pipelines: []domain.PipelineDefinition{def("")},
			errMsg:    "without a name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.pipelines, ResolveOptions{})
			var ce *domain.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Error(), tt.errMsg)
		})
	}
}

func TestResolve_CycleDetected(t *testing.T) {
	tests := []struct {
		name      string
		pipelines []domain.PipelineDefinition
		members   []string
	}{
		{
			name:      "two node cycle",
			pipelines: []domain.PipelineDefinition{def("A", "B"), def("B", "A")},
			members:   []string{"A", "B"},
		},
		{
			name: "cycle behind a root",
			pipelines: []domain.PipelineDefinition{
				def("root"), def("x", "root", "z"), def("y", "x"), def("z", "y"),
			},
			members: []string{"x", "y", "z"},
		},
		{
			name:      "cycle through a disabled pipeline",
			pipelines: []domain.PipelineDefinition{disabled(def("A", "B")), def("B", "A")},
			members:   []string{"A", "B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.pipelines, ResolveOptions{})
			var cy *domain.CycleDetectedError
			require.ErrorAs(t, err, &cy)
			require.NotEmpty(t, cy.Names)
			assert.Equal(t, cy.Names[0], cy.Names[len(cy.Names)-1], "path closes the cycle")
			for _, n := range cy.Names {
				assert.Contains(t, tt.members, n)
			}
		})
	}
}

// TestResolve_DependenciesInEarlierBatches checks random acyclic graphs.
func TestResolve_DependenciesInEarlierBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		n := 2 + rng.Intn(25)
		pipelines := make([]domain.PipelineDefinition, n)
		for i := 0; i < n; i++ {
			p := def(fmt.Sprintf("p%02d", i))
			p.ExecutionOrder = rng.Intn(4)
			if rng.Intn(3) == 0 {
				p = withGroup(p, rng.Intn(3))
			}
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					p.DependsOn = append(p.DependsOn, fmt.Sprintf("p%02d", j))
				}
			}
			pipelines[i] = p
		}
		rng.Shuffle(n, func(i, j int) { pipelines[i], pipelines[j] = pipelines[j], pipelines[i] })

		for _, strict := range []bool{false, true} {
			res, err := Resolve(pipelines, ResolveOptions{StrictGroups: strict})
			require.NoError(t, err)

			batchOf := make(map[string]int)
			for i, b := range res.Batches {
				for _, name := range b.Pipelines {
					_, dup := batchOf[name]
					require.False(t, dup, "%s scheduled twice", name)
					batchOf[name] = i
				}
			}
			require.Len(t, batchOf, n)
			for _, p := range pipelines {
				for _, d := range p.DependsOn {
					assert.Less(t, batchOf[d], batchOf[p.Name], "%s must precede %s", d, p.Name)
				}
			}

			again, err := Resolve(pipelines, ResolveOptions{StrictGroups: strict})
			require.NoError(t, err)
			assert.Equal(t, res, again)
		}
	}
}
