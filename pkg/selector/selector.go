package selector

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/benbjohnson/immutable"
	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/probe"
	"github.com/cuemby/gridbalance/pkg/types"
	"github.com/pkg/errors"
)

// ErrInvalidProbeOutput is returned when a probe scores a node below zero,
// NaN or infinite
var ErrInvalidProbeOutput = errors.New("invalid probe output")

// Entry describes how one node was weighted
type Entry struct {
	Node *types.Node

	// Load after zero-load substitution
	Load float64

	// Weight before normalization (total load / load)
	Weight float64

	// Cumulative normalized weight; the entry owns (previous, Cumulative]
	Cumulative float64
}

type cumulativeComparer struct{}

func (cumulativeComparer) Compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Selector draws nodes with probability proportional to inverse load. A
// Selector is immutable once built and safe for concurrent use.
type Selector struct {
	cumulative *immutable.SortedMap[float64, *types.Node]
	entries    []Entry
}

// New probes every node of topology and builds a selector. jobsSent reports
// the jobs sent to a node since its last metrics update and may be nil.
func New(topology types.Topology, p probe.LoadProbe, jobsSent func(nodeID string) int) (*Selector, error) {
	nodes := make([]*types.Node, 0, len(topology))
	loads := make([]float64, 0, len(topology))
	seen := make(map[string]struct{}, len(topology))

	for _, node := range topology {
		if node == nil {
			continue
		}
		if _, dup := seen[node.ID]; dup {
			continue
		}
		seen[node.ID] = struct{}{}

		sent := 0
		if jobsSent != nil {
			sent = jobsSent(node.ID)
		}
		nodes = append(nodes, node)
		loads = append(loads, p.Load(node, sent))
	}

	return Build(nodes, loads)
}

// Build creates a selector from raw probe outputs. loads[i] belongs to nodes[i].
func Build(nodes []*types.Node, loads []float64) (*Selector, error) {
	if len(nodes) == 0 {
		return nil, balancer.ErrEmptyTopology
	}
	if len(nodes) != len(loads) {
		panic(fmt.Sprintf("selector: %d nodes but %d loads", len(nodes), len(loads)))
	}

	corrected := make([]float64, len(loads))
	var totalLoad float64
	zeroCount := 0

	for i, l := range loads {
		if l < 0 || math.IsNaN(l) || math.IsInf(l, 1) {
			return nil, errors.Wrapf(ErrInvalidProbeOutput, "node %s scored %v", nodes[i].ID, l)
		}
		if l == 0 {
			zeroCount++
		}
		totalLoad += l
		corrected[i] = l
	}

	// A node reporting exactly 0 has no data; treat it as an average node.
	if zeroCount > 0 {
		substitute := 1.0
		if nonZero := len(loads) - zeroCount; nonZero > 0 && totalLoad > 0 {
			substitute = totalLoad / float64(nonZero)
		}

		totalLoad = 0
		for i := range corrected {
			if corrected[i] == 0 {
				corrected[i] = substitute
			}
			totalLoad += corrected[i]
		}
	}

	weights := make([]float64, len(corrected))
	var totalWeight float64
	for i, l := range corrected {
		if l <= 0 {
			panic(fmt.Sprintf("selector: non-positive corrected load %v for node %s", l, nodes[i].ID))
		}
		weights[i] = totalLoad / l
		totalWeight += weights[i]
	}
	if totalWeight <= 0 || math.IsInf(totalWeight, 0) || math.IsNaN(totalWeight) {
		panic(fmt.Sprintf("selector: invalid total weight %v", totalWeight))
	}

	builder := immutable.NewSortedMapBuilder[float64, *types.Node](cumulativeComparer{})
	entries := make([]Entry, len(nodes))

	var cumulative, prev float64
	for i, node := range nodes {
		cumulative += weights[i] / totalWeight
		key := cumulative
		if i == len(nodes)-1 {
			// absorb floating-point drift
			key = 1.0
		}
		if i > 0 && key <= prev {
			key = math.Nextafter(prev, math.Inf(1))
		}
		prev = key

		builder.Set(key, node)
		entries[i] = Entry{
			Node:       node,
			Load:       corrected[i],
			Weight:     weights[i],
			Cumulative: key,
		}
	}

	return &Selector{
		cumulative: builder.Map(),
		entries:    entries,
	}, nil
}

// Pick draws a node
func (s *Selector) Pick() *types.Node {
	return s.PickAt(rand.Float64())
}

// PickWith draws a node using the given source
func (s *Selector) PickWith(r *rand.Rand) *types.Node {
	return s.PickAt(r.Float64())
}

// PickAt returns the first node whose cumulative weight is >= x, x in [0,1)
func (s *Selector) PickAt(x float64) *types.Node {
	itr := s.cumulative.Iterator()
	itr.Seek(x)
	if _, node, ok := itr.Next(); ok {
		return node
	}
	// only reachable for x >= 1
	itr.Last()
	_, node, _ := itr.Next()
	return node
}

// Len returns the number of nodes in the selector
func (s *Selector) Len() int {
	return s.cumulative.Len()
}

// Entries returns the weighting of every node in topology order
func (s *Selector) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
