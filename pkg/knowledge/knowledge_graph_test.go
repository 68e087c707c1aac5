package knowledge

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEdgeList(t *testing.T) {
	kg := NewKnowledgeGraph()
	input := `# head tail label
0 1 0
0 1 2
1 2 1

2 0 0
`
	require.NoError(t, kg.ReadEdgeList(strings.NewReader(input)))

	assert.Equal(t, int64(3), kg.NumEntities)
	assert.Equal(t, int64(4), kg.NumEdges)
	assert.Equal(t, []int64{0, 2, 1}, kg.EdgeLabels())
	assert.Equal(t, 3, kg.NumEdgeTypes())

	parallel := kg.EdgesBetween(0, 1)
	require.Len(t, parallel, 2)
	assert.Equal(t, int64(0), parallel[0].Key)
	assert.Equal(t, int64(1), parallel[1].Key)
	assert.Equal(t, int64(2), parallel[1].Label)

	assert.Empty(t, kg.EdgesBetween(1, 0))
}

func TestReadEdgeListErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "TooFewFields", input: "0 1\n"},
		{name: "BadLabel", input: "0 1 x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewKnowledgeGraph().ReadEdgeList(strings.NewReader(tt.input))
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestReadNodeLink(t *testing.T) {
	doc := `{
  "directed": true,
  "multigraph": true,
  "graph": {},
  "nodes": [{"n_id": 0, "id": 0}, {"n_id": 1, "id": 1}, {"n_id": 2, "id": 5871}],
  "links": [
    {"source": 0, "target": 5871, "key": 0, "id": 0, "e_label": 3},
    {"source": 0, "target": 5871, "key": 1, "id": 1, "e_label": 1},
    {"source": 1, "target": 0, "key": 0, "id": 2, "e_label": 0}
  ]
}`
	kg := NewKnowledgeGraph()
	require.NoError(t, kg.ReadNodeLink(strings.NewReader(doc)))

	assert.Equal(t, int64(3), kg.NumEntities)
	assert.Equal(t, int64(3), kg.NumEdges)

	target := kg.EntityHash["5871"]
	assert.Equal(t, int64(2), target)

	edges := kg.EdgesBetween(kg.EntityHash["0"], target)
	require.Len(t, edges, 2)
	assert.Equal(t, int64(3), edges[0].Label)
	assert.Equal(t, int64(1), edges[1].Label)
}

func TestReadNodeLinkMissingLabel(t *testing.T) {
	doc := `{"nodes": [{"id": 0}, {"id": 1}], "links": [{"source": 0, "target": 1}]}`
	err := NewKnowledgeGraph().ReadNodeLink(strings.NewReader(doc))
	assert.ErrorContains(t, err, "e_label")
}

func TestLoadGraphResolvesPickleSibling(t *testing.T) {
	dir := t.TempDir()
	pickle := filepath.Join(dir, "WN18.gpickle")
	require.NoError(t, os.WriteFile(pickle, []byte{0x80, 0x04, 0x95}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WN18.txt"), []byte("a b 0\nb c 1\n"), 0o644))

	resolved, err := ResolvePath(pickle)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "WN18.txt"), resolved)

	var progress bytes.Buffer
	kg := NewKnowledgeGraph()
	kg.Out = &progress
	require.NoError(t, kg.LoadGraph(pickle))
	assert.Equal(t, int64(2), kg.NumEdges)
	assert.Contains(t, progress.String(), "Loading knowledge graph from: "+filepath.Join(dir, "WN18.txt"))
	assert.Contains(t, progress.String(), "\t2 edges\n")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "WN18.json"),
		[]byte(`{"nodes":[{"id":"x"},{"id":"y"}],"links":[{"source":"x","target":"y","e_label":0}]}`), 0o644))
	resolved, err = ResolvePath(pickle)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "WN18.json"), resolved)
}

func TestLoadGraphPickleOnly(t *testing.T) {
	dir := t.TempDir()
	pickle := filepath.Join(dir, "WN18.gpickle")
	require.NoError(t, os.WriteFile(pickle, []byte{0x80, 0x04}, 0o644))

	err := NewKnowledgeGraph().LoadGraph(pickle)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPickleUnsupported))
}

func TestLoadGraphMissingFile(t *testing.T) {
	err := NewKnowledgeGraph().LoadGraph(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
