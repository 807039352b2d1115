package selector

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/probe"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeNodes(ids ...string) []*types.Node {
	nodes := make([]*types.Node, len(ids))
	for i, id := range ids {
		nodes[i] = &types.Node{ID: id}
	}
	return nodes
}

func cpuNodes(loads map[string]float64, order ...string) types.Topology {
	top := make(types.Topology, 0, len(order))
	for _, id := range order {
		top = append(top, &types.Node{ID: id, Metrics: types.NodeMetrics{CurrentCPULoad: loads[id]}})
	}
	return top
}

func TestBuildNormalization(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for k := 1; k <= 50; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			nodes := make([]*types.Node, k)
			loads := make([]float64, k)
			for i := range nodes {
				nodes[i] = &types.Node{ID: fmt.Sprintf("n%d", i)}
				loads[i] = 0.001 + r.Float64()*100
			}

			s, err := Build(nodes, loads)
			require.NoError(t, err)
			assert.Equal(t, k, s.Len())

			entries := s.Entries()
			require.Len(t, entries, k)
			assert.InDelta(t, 1.0, entries[k-1].Cumulative, 1e-9)

			seen := map[string]bool{}
			for i, e := range entries {
				if i > 0 {
					assert.Greater(t, e.Cumulative, entries[i-1].Cumulative)
				}
				assert.False(t, seen[e.Node.ID], "node %s appears twice", e.Node.ID)
				seen[e.Node.ID] = true
			}
		})
	}
}

func TestBuildZeroLoadSubstitution(t *testing.T) {
	tests := []struct {
		name  string
		loads []float64
		want  []float64
	}{
		{"zeros take the non-zero average", []float64{0, 10, 0}, []float64{10, 10, 10}},
		{"average of several non-zero", []float64{2, 0, 4}, []float64{2, 3, 4}},
		{"all zero falls back to one", []float64{0, 0}, []float64{1, 1}},
		{"no zeros untouched", []float64{1, 4}, []float64{1, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := make([]*types.Node, len(tt.loads))
			for i := range nodes {
				nodes[i] = &types.Node{ID: fmt.Sprintf("n%d", i)}
			}

			s, err := Build(nodes, tt.loads)
			require.NoError(t, err)

			for i, e := range s.Entries() {
				assert.InDelta(t, tt.want[i], e.Load, 1e-12)
			}
		})
	}
}

func TestBuildInverseWeights(t *testing.T) {
	s, err := Build(makeNodes("a", "b"), []float64{1, 4})
	require.NoError(t, err)

	entries := s.Entries()
	// total load 5: weights 5/1 and 5/4
	assert.InDelta(t, 5.0, entries[0].Weight, 1e-12)
	assert.InDelta(t, 1.25, entries[1].Weight, 1e-12)
	assert.InDelta(t, 0.8, entries[0].Cumulative, 1e-12)
	assert.Equal(t, 1.0, entries[1].Cumulative)
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(nil, nil)
	assert.ErrorIs(t, err, balancer.ErrEmptyTopology)

	_, err = Build(makeNodes("a", "b"), []float64{1, -0.5})
	assert.True(t, errors.Is(err, ErrInvalidProbeOutput))
	assert.Contains(t, err.Error(), "node b")

	assert.Panics(t, func() {
		_, _ = Build(makeNodes("a"), []float64{1, 2})
	})
}

func TestBuildRejectsNonFiniteLoads(t *testing.T) {
	tests := []struct {
		name string
		load float64
	}{
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *Selector
			var err error
			assert.NotPanics(t, func() {
				s, err = Build(makeNodes("a", "b"), []float64{2, tt.load})
			})
			assert.ErrorIs(t, err, ErrInvalidProbeOutput)
			assert.Nil(t, s)
		})
	}
}

func TestPickAtCeiling(t *testing.T) {
	s, err := Build(makeNodes("a", "b"), []float64{1, 4})
	require.NoError(t, err)

	assert.Equal(t, "a", s.PickAt(0).ID)
	assert.Equal(t, "a", s.PickAt(0.79).ID)
	assert.Equal(t, "a", s.PickAt(0.8).ID)
	assert.Equal(t, "b", s.PickAt(0.81).ID)
	assert.Equal(t, "b", s.PickAt(0.999999).ID)
	assert.Equal(t, "b", s.PickAt(1.5).ID)
}

func TestInverseLoadSelectionBias(t *testing.T) {
	s, err := Build(makeNodes("light", "heavy"), []float64{1, 4})
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(1, 2))
	counts := map[string]int{}
	for i := 0; i < 100000; i++ {
		counts[s.PickWith(r).ID]++
	}

	ratio := float64(counts["light"]) / float64(counts["heavy"])
	assert.InDelta(t, 4.0, ratio, 0.2)
}

func TestCPUProbeScenario(t *testing.T) {
	top := cpuNodes(map[string]float64{"A": 0.2, "B": 0.8, "C": 0.2}, "A", "B", "C")

	s, err := New(top, probe.CPUProbe{}, nil)
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(3, 4))
	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		counts[s.PickWith(r).ID]++
	}

	// weights are total/load: A and C 6, B 1.5
	assert.Greater(t, counts["A"], 2*counts["B"])
	assert.Greater(t, counts["C"], 2*counts["B"])
	assert.InDelta(t, 4.0, float64(counts["A"])/float64(counts["B"]), 0.6)
	assert.InDelta(t, 1.0, float64(counts["A"])/float64(counts["C"]), 0.1)
}

func TestNewUsesJobsSentAndSkipsDuplicates(t *testing.T) {
	top := types.Topology{{ID: "a"}, nil, {ID: "b"}, {ID: "a"}}
	seen := map[string]int{}

	p := probe.Func(func(n *types.Node, sent int) float64 {
		seen[n.ID] = sent
		return float64(sent)
	})
	sent := map[string]int{"a": 3, "b": 1}

	s, err := New(top, p, func(id string) int { return sent[id] })
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, map[string]int{"a": 3, "b": 1}, seen)
}

func TestSinglePoint(t *testing.T) {
	s, err := New(types.Topology{{ID: "only"}}, probe.CPUProbe{}, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, "only", s.Pick().ID)
	}
}
