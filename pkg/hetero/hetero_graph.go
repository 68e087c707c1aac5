package hetero

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// MessageType identifies a relation between two node types
type MessageType struct {
	Src string
	Rel string
	Dst string
}

func (mt MessageType) String() string {
	return fmt.Sprintf("(%s, %s, %s)", mt.Src, mt.Rel, mt.Dst)
}

// EdgeIndex holds edge endpoints as per-type local node indices
type EdgeIndex struct {
	Src []int
	Dst []int
}

// Len returns the number of edges
func (e EdgeIndex) Len() int {
	return len(e.Src)
}

// Clone returns a copy that shares no memory with e
func (e EdgeIndex) Clone() EdgeIndex {
	out := EdgeIndex{Src: make([]int, len(e.Src)), Dst: make([]int, len(e.Dst))}
	copy(out.Src, e.Src)
	copy(out.Dst, e.Dst)
	return out
}

// Append adds a single edge
func (e *EdgeIndex) Append(src, dst int) {
	e.Src = append(e.Src, src)
	e.Dst = append(e.Dst, dst)
}

// HeteroGraph represents a heterogeneous graph in tensor form
type HeteroGraph struct {
	// Node features: node_type -> [num_nodes][feature_dim]
	NodeFeature map[string][][]float64

	// Edges by message type
	EdgeIndex   map[MessageType]EdgeIndex
	EdgeFeature map[MessageType][][]float64

	directed     bool
	nodeTypes    []string
	messageTypes []MessageType
}

// New builds a heterogeneous graph from tensors.
// Slices are shared with the caller, not copied.
func New(
	edgeIndex map[MessageType]EdgeIndex,
	edgeFeature map[MessageType][][]float64,
	nodeFeature map[string][][]float64,
	directed bool,
) (*HeteroGraph, error) {
	hg := &HeteroGraph{
		NodeFeature: nodeFeature,
		EdgeIndex:   edgeIndex,
		EdgeFeature: edgeFeature,
		directed:    directed,
	}
	if hg.EdgeFeature == nil {
		hg.EdgeFeature = make(map[MessageType][][]float64)
	}

	for nodeType := range nodeFeature {
		hg.nodeTypes = append(hg.nodeTypes, nodeType)
	}
	sort.Strings(hg.nodeTypes)

	for mt, index := range edgeIndex {
		srcNodes, ok := nodeFeature[mt.Src]
		if !ok {
			return nil, errors.Errorf("message type %s: unknown source node type %q", mt, mt.Src)
		}
		dstNodes, ok := nodeFeature[mt.Dst]
		if !ok {
			return nil, errors.Errorf("message type %s: unknown target node type %q", mt, mt.Dst)
		}
		if len(index.Src) != len(index.Dst) {
			return nil, errors.Errorf("message type %s: %d sources but %d targets", mt, len(index.Src), len(index.Dst))
		}
		for i := range index.Src {
			if index.Src[i] < 0 || index.Src[i] >= len(srcNodes) || index.Dst[i] < 0 || index.Dst[i] >= len(dstNodes) {
				return nil, errors.Errorf("message type %s: edge %d (%d -> %d) out of range", mt, i, index.Src[i], index.Dst[i])
			}
		}
		if feat, ok := hg.EdgeFeature[mt]; ok && len(feat) != index.Len() {
			return nil, errors.Errorf("message type %s: %d edge features for %d edges", mt, len(feat), index.Len())
		}
		hg.messageTypes = append(hg.messageTypes, mt)
	}
	SortMessageTypes(hg.messageTypes)

	return hg, nil
}

// FromAnnotated converts an annotated multigraph into tensor form.
// Nodes of each type are numbered in the order they appear in g.
func FromAnnotated(g *AnnotatedGraph) (*HeteroGraph, error) {
	nodeFeature := make(map[string][][]float64)
	local := make(map[int64]int, len(g.Nodes))
	nodeType := make(map[int64]string, len(g.Nodes))

	for _, node := range g.Nodes {
		if _, dup := local[node.ID]; dup {
			return nil, errors.Errorf("duplicate node %d", node.ID)
		}
		local[node.ID] = len(nodeFeature[node.Type])
		nodeType[node.ID] = node.Type
		nodeFeature[node.Type] = append(nodeFeature[node.Type], node.Feature)
	}

	edgeIndex := make(map[MessageType]EdgeIndex)
	edgeFeature := make(map[MessageType][][]float64)
	for _, edge := range g.Edges {
		srcType, okSrc := nodeType[edge.Source]
		dstType, okDst := nodeType[edge.Target]
		if !okSrc || !okDst {
			return nil, errors.Errorf("edge %d -> %d references an unknown node", edge.Source, edge.Target)
		}

		mt := MessageType{Src: srcType, Rel: edge.Type, Dst: dstType}
		index := edgeIndex[mt]
		index.Append(local[edge.Source], local[edge.Target])
		edgeIndex[mt] = index
		edgeFeature[mt] = append(edgeFeature[mt], edge.Feature)
	}

	return New(edgeIndex, edgeFeature, nodeFeature, g.Directed)
}

// Rebuild constructs a fresh graph from this graph's own tensors
func (hg *HeteroGraph) Rebuild() (*HeteroGraph, error) {
	return New(hg.EdgeIndex, hg.EdgeFeature, hg.NodeFeature, hg.IsDirected())
}

// IsDirected reports whether edges are directed
func (hg *HeteroGraph) IsDirected() bool {
	return hg.directed
}

// NodeTypes returns node types in sorted order
func (hg *HeteroGraph) NodeTypes() []string {
	return append([]string(nil), hg.nodeTypes...)
}

// MessageTypes returns message types in sorted order
func (hg *HeteroGraph) MessageTypes() []MessageType {
	return append([]MessageType(nil), hg.messageTypes...)
}

// NumNodes returns the node count of a type
func (hg *HeteroGraph) NumNodes(nodeType string) int {
	return len(hg.NodeFeature[nodeType])
}

// NumEdges returns the edge count of a message type
func (hg *HeteroGraph) NumEdges(mt MessageType) int {
	return hg.EdgeIndex[mt].Len()
}

// TotalEdges returns the edge count over all message types
func (hg *HeteroGraph) TotalEdges() int {
	total := 0
	for _, index := range hg.EdgeIndex {
		total += index.Len()
	}
	return total
}

// NumNodeFeatures returns the feature width of a node type
func (hg *HeteroGraph) NumNodeFeatures(nodeType string) int {
	rows := hg.NodeFeature[nodeType]
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}

// SortMessageTypes orders message types by source, relation then target.
// Relations that parse as integers sort numerically.
func SortMessageTypes(mts []MessageType) {
	sort.Slice(mts, func(i, j int) bool {
		a, b := mts[i], mts[j]
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		if a.Rel != b.Rel {
			return relLess(a.Rel, b.Rel)
		}
		return a.Dst < b.Dst
	})
}

func relLess(a, b string) bool {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && x != y {
		return x < y
	}
	return a < b
}
