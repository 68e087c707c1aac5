package hetero

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnclabs/hetlink/pkg/knowledge"
)

func loadGraph(t *testing.T, edges string) *knowledge.KnowledgeGraph {
	t.Helper()
	kg := knowledge.NewKnowledgeGraph()
	require.NoError(t, kg.ReadEdgeList(strings.NewReader(edges)))
	return kg
}

func TestWNTransformNodeFeatures(t *testing.T) {
	kg := loadGraph(t, "0 1 0\n1 2 1\n2 0 2\n")

	for _, inputDim := range []int{1, DefaultInputDim, 8} {
		g := WNTransform(kg, kg.NumEdgeTypes(), inputDim)
		require.Len(t, g.Nodes, 3)
		for _, node := range g.Nodes {
			assert.Equal(t, DefaultNodeType, node.Type)
			require.Len(t, node.Feature, inputDim)
			for _, v := range node.Feature {
				assert.Equal(t, 1.0, v)
			}
		}
	}
}

func TestWNTransformEdgeFeatures(t *testing.T) {
	kg := loadGraph(t, "0 1 0\n1 2 3\n2 0 2\n0 1 1\n")
	g := WNTransform(kg, 4, DefaultInputDim)

	require.Len(t, g.Edges, len(kg.Edges))
	for i, edge := range g.Edges {
		label := kg.Edges[i].Label
		assert.Equal(t, strconv.FormatInt(label, 10), edge.Type)
		assert.Equal(t, kg.Edges[i].Source, edge.Source)
		assert.Equal(t, kg.Edges[i].Target, edge.Target)

		ones := 0
		for d, v := range edge.Feature {
			if d == int(label) {
				assert.Equal(t, 1.0, v)
			} else {
				assert.Equal(t, 0.0, v)
			}
			if v == 1.0 {
				ones++
			}
		}
		assert.Equal(t, 1, ones)
	}
}

func TestWNTransformTwoLabels(t *testing.T) {
	kg := knowledge.NewKnowledgeGraph()
	a, b := kg.AddNode("a"), kg.AddNode("b")
	kg.AddEdge(a, b, 1)

	g := WNTransform(kg, 2, DefaultInputDim)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, []float64{0, 1}, g.Edges[0].Feature)
	assert.Equal(t, "1", g.Edges[0].Type)
}

func TestWNTransformLabelOutOfRangePanics(t *testing.T) {
	kg := loadGraph(t, "0 1 5\n")
	assert.Panics(t, func() { WNTransform(kg, 1, DefaultInputDim) })
}

func TestFromAnnotatedAndRebuild(t *testing.T) {
	kg := loadGraph(t, "0 1 0\n1 2 1\n2 0 0\n0 1 1\n")
	hg, err := FromAnnotated(WNTransform(kg, 2, DefaultInputDim))
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultNodeType}, hg.NodeTypes())
	assert.Equal(t, 3, hg.NumNodes(DefaultNodeType))
	assert.Equal(t, DefaultInputDim, hg.NumNodeFeatures(DefaultNodeType))
	assert.True(t, hg.IsDirected())

	mt0 := MessageType{Src: DefaultNodeType, Rel: "0", Dst: DefaultNodeType}
	mt1 := MessageType{Src: DefaultNodeType, Rel: "1", Dst: DefaultNodeType}
	assert.Equal(t, []MessageType{mt0, mt1}, hg.MessageTypes())
	assert.Equal(t, []int{0, 2}, hg.EdgeIndex[mt0].Src)
	assert.Equal(t, []int{1, 0}, hg.EdgeIndex[mt0].Dst)
	assert.Equal(t, 2, hg.NumEdges(mt1))
	assert.Equal(t, 4, hg.TotalEdges())

	rebuilt, err := hg.Rebuild()
	require.NoError(t, err)
	assert.Equal(t, hg.MessageTypes(), rebuilt.MessageTypes())
	assert.Equal(t, hg.EdgeIndex, rebuilt.EdgeIndex)
	assert.Equal(t, hg.NodeFeature, rebuilt.NodeFeature)
	assert.Equal(t, hg.IsDirected(), rebuilt.IsDirected())
}

func TestNewRejectsBadTensors(t *testing.T) {
	nodes := map[string][][]float64{"n1": {{1}, {1}}}
	mt := MessageType{Src: "n1", Rel: "0", Dst: "n1"}

	tests := []struct {
		name  string
		index map[MessageType]EdgeIndex
		feat  map[MessageType][][]float64
	}{
		{
			name:  "OutOfRange",
			index: map[MessageType]EdgeIndex{mt: {Src: []int{0}, Dst: []int{2}}},
		},
		{
			name:  "UnknownNodeType",
			index: map[MessageType]EdgeIndex{{Src: "n2", Rel: "0", Dst: "n1"}: {Src: []int{0}, Dst: []int{1}}},
		},
		{
			name:  "LengthMismatch",
			index: map[MessageType]EdgeIndex{mt: {Src: []int{0, 1}, Dst: []int{1}}},
		},
		{
			name:  "FeatureMismatch",
			index: map[MessageType]EdgeIndex{mt: {Src: []int{0}, Dst: []int{1}}},
			feat:  map[MessageType][][]float64{mt: {{1}, {1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.index, tt.feat, nodes, true)
			assert.Error(t, err)
		})
	}
}

func TestSortMessageTypesNumeric(t *testing.T) {
	mts := []MessageType{
		{Src: "n1", Rel: "10", Dst: "n1"},
		{Src: "n1", Rel: "2", Dst: "n1"},
		{Src: "n1", Rel: "1", Dst: "n1"},
	}
	SortMessageTypes(mts)
	assert.Equal(t, "1", mts[0].Rel)
	assert.Equal(t, "2", mts[1].Rel)
	assert.Equal(t, "10", mts[2].Rel)
}
