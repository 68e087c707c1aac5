package hetero

import (
	"fmt"
	"strconv"

	"github.com/cnclabs/hetlink/pkg/knowledge"
)

const (
	// DefaultNodeType is the single node type of the WordNet transform
	DefaultNodeType = "n1"
	// DefaultInputDim is the width of the constant node feature
	DefaultInputDim = 5
)

// AnnotatedNode is a node of the transformed multigraph
type AnnotatedNode struct {
	ID      int64
	Type    string
	Feature []float64
}

func (n AnnotatedNode) String() string {
	return fmt.Sprintf("(%d, {node_type: %s, node_feature: %v})", n.ID, n.Type, n.Feature)
}

// AnnotatedEdge is an edge of the transformed multigraph
type AnnotatedEdge struct {
	Source  int64
	Target  int64
	Key     int64
	Type    string
	Feature []float64
}

func (e AnnotatedEdge) String() string {
	return fmt.Sprintf("(%d, %d, {edge_feature: %v, edge_type: %s})", e.Source, e.Target, e.Feature, e.Type)
}

// AnnotatedGraph is a multigraph whose nodes and edges carry a type and a feature vector
type AnnotatedGraph struct {
	Nodes    []AnnotatedNode
	Edges    []AnnotatedEdge
	Directed bool
}

// WNTransform tags every node with type "n1" and an all-ones feature of width
// inputDim, and every edge with its label as type and a one-hot feature of
// width numEdgeTypes. Labels must lie in [0, numEdgeTypes).
func WNTransform(kg *knowledge.KnowledgeGraph, numEdgeTypes, inputDim int) *AnnotatedGraph {
	g := &AnnotatedGraph{
		Nodes:    make([]AnnotatedNode, 0, kg.NumEntities),
		Edges:    make([]AnnotatedEdge, 0, kg.NumEdges),
		Directed: true,
	}

	for id := int64(0); id < kg.NumEntities; id++ {
		feature := make([]float64, inputDim)
		for d := range feature {
			feature[d] = 1.0
		}
		g.Nodes = append(g.Nodes, AnnotatedNode{ID: id, Type: DefaultNodeType, Feature: feature})
	}

	for _, edge := range kg.Edges {
		feature := make([]float64, numEdgeTypes)
		feature[edge.Label] = 1.0
		g.Edges = append(g.Edges, AnnotatedEdge{
			Source:  edge.Source,
			Target:  edge.Target,
			Key:     edge.Key,
			Type:    strconv.FormatInt(edge.Label, 10),
			Feature: feature,
		})
	}

	return g
}
