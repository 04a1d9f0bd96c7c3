// Package pipeline orders and executes the stages of a processing run.
//
// A workflow compiles to an immutable StageGraph: provision the toolchain,
// install the wrapper package, fetch the fixture dataset, adapt the
// notebook script, execute it, harvest the image artifacts. The graph is
// validated up front and carries a deterministic identity so that run
// records and caches can be correlated across attempts.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"sarpipe/internal/step"
)

// GraphHash is the deterministic identity of a StageGraph. It is computed
// solely from stage definition content and dependency structure, and is
// stable across insertion order of stages and edges.
type GraphHash string

// String returns the hex form of the hash.
func (h GraphHash) String() string { return string(h) }

// StageDefHash is the identity of a stage definition as used by the graph.
//
// This is intentionally distinct from step.StepHash (the execution/cache
// identity): graph identity is declarative and does not read input files.
type StageDefHash string

// String returns the hex form of the hash.
func (h StageDefHash) String() string { return string(h) }

// Edge is a dependency relation: To runs only after From completes
// successfully.
type Edge struct {
	From string
	To   string
}

// StageNode is an immutable node in the StageGraph.
type StageNode struct {
	Name           string
	Step           step.Step
	DefinitionHash StageDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's
// canonical ordering.
func (n *StageNode) CanonicalIndex() int { return n.canonicalIndex }

type edgeIndex struct {
	from int
	to   int
}

// StageGraph is an immutable, validated DAG of pipeline stages.
//
// It is safe for concurrent read access.
type StageGraph struct {
	nodesByName map[string]*StageNode
	nodes       []*StageNode // canonical order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)

	hash GraphHash
}

// NewStageGraph builds and validates a StageGraph.
//
// Validation runs immediately and rejects:
//   - empty or duplicate stage names
//   - edges referencing unknown stages
//   - duplicate edges
//   - self-loops
//   - any cycle (direct or indirect)
func NewStageGraph(stages []step.Step, edges []Edge) (*StageGraph, error) {
	if len(stages) == 0 {
		return nil, invalidf("no stages")
	}

	nodesByName := make(map[string]*StageNode, len(stages))
	nodes := make([]*StageNode, 0, len(stages))

	for _, s := range stages {
		if s.Name == "" {
			return nil, invalidf("stage name is required")
		}
		if _, exists := nodesByName[s.Name]; exists {
			return nil, invalidf("duplicate stage name: %q", s.Name)
		}

		defHash := computeStageDefHash(s.Inputs, s.Env, s.Run)
		node := &StageNode{Name: s.Name, Step: s, DefinitionHash: defHash}
		nodesByName[s.Name] = node
		nodes = append(nodes, node)
	}

	// Canonicalize nodes: sort by definition hash, name as stable tie-breaker.
	sort.Slice(nodes, func(i, j int) bool {
		ai, aj := nodes[i], nodes[j]
		if ai.DefinitionHash != aj.DefinitionHash {
			return ai.DefinitionHash < aj.DefinitionHash
		}
		return ai.Name < aj.Name
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	nameToIndex := make(map[string]int, len(nodes))
	for _, n := range nodes {
		nameToIndex[n.Name] = n.canonicalIndex
	}

	// Canonicalize edges: map to indices, reject invalid, sort, reject dups.
	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromNode, okFrom := nodesByName[e.From]
		toNode, okTo := nodesByName[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown stage (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown stage (to): %q", e.To)
		}
		if fromNode.Name == toNode.Name {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}

		pair := edgeIndex{from: nameToIndex[fromNode.Name], to: nameToIndex[toNode.Name]}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &StageGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the stable identity for this graph.
func (g *StageGraph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *StageGraph) Node(name string) (*StageNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *StageGraph) Nodes() []*StageNode {
	out := make([]*StageNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical
// order.
func (g *StageGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the topological depth of the named stage: the length of
// the longest path from any root to it.
func (g *StageGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

func (g *StageGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	order := g.topoOrderIndices()
	for _, u := range order {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

// TopologicalOrder returns a deterministic topological ordering of stage
// names. The graph is validated on construction, so this cannot fail.
func (g *StageGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

func (g *StageGraph) computeGraphHash() GraphHash {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		h.Write(data)
	}

	// Nodes (canonical order)
	writeField([]byte{byte(len(g.nodes))})
	for _, n := range g.nodes {
		writeField([]byte(n.DefinitionHash))
	}

	// Edges (canonical order)
	writeField([]byte{byte(len(g.edges))})
	for _, e := range g.edges {
		writeField([]byte{byte(e.from >> 24), byte(e.from >> 16), byte(e.from >> 8), byte(e.from)})
		writeField([]byte{byte(e.to >> 24), byte(e.to >> 16), byte(e.to >> 8), byte(e.to)})
	}

	return GraphHash(hex.EncodeToString(h.Sum(nil)))
}
