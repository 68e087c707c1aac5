package knowledge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const monitor = 10000

// ErrPickleUnsupported is returned when only a Python pickle of the graph is available
var ErrPickleUnsupported = errors.New("python pickle graphs are not supported, export the graph as node-link JSON or an edge list")

// Node is a vertex of the raw multigraph
type Node struct {
	ID   int64  // n_id
	Name string // identifier as written in the input file
}

// Edge is a directed edge carrying a categorical label
type Edge struct {
	ID     int64
	Source int64
	Target int64
	Key    int64 // distinguishes parallel edges between the same pair
	Label  int64 // e_label
}

// KnowledgeGraph is a directed multigraph with one categorical label per edge
type KnowledgeGraph struct {
	// Entity mapping: name -> node id
	EntityHash map[string]int64
	EntityKeys []string

	Edges []Edge

	// Statistics
	NumEntities int64
	NumEdges    int64

	// Indexed structures
	OutIndex  map[int64][]int64    // source -> edge indices
	PairIndex map[[2]int64][]int64 // (source, target) -> edge indices

	// Distinct edge labels in first-seen order
	LabelKeys []int64
	labelSeen map[int64]bool

	// Out receives loading progress, os.Stdout by default
	Out io.Writer
}

// NewKnowledgeGraph creates an empty multigraph
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		EntityHash: make(map[string]int64),
		EntityKeys: make([]string, 0),
		Edges:      make([]Edge, 0),
		OutIndex:   make(map[int64][]int64),
		PairIndex:  make(map[[2]int64][]int64),
		LabelKeys:  make([]int64, 0),
		labelSeen:  make(map[int64]bool),
		Out:        os.Stdout,
	}
}

// ResolvePath maps a .gpickle path onto a readable sibling.
// The .json sibling is preferred over .txt.
func ResolvePath(filename string) (string, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".gpickle") {
		return filename, nil
	}
	if ok, err := isReadableGraph(filename); err == nil && ok {
		return filename, nil
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, ext := range []string{".json", ".txt"} {
		candidate := base + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.Wrapf(ErrPickleUnsupported, "no .json or .txt sibling for %s", filename)
}

// isReadableGraph reports whether the file exists and is not a pickle stream
func isReadableGraph(filename string) (bool, error) {
	file, err := os.Open(filename)
	if err != nil {
		return false, err
	}
	defer file.Close()

	head := make([]byte, 1)
	if _, err := io.ReadFull(file, head); err != nil {
		return false, err
	}
	// pickle protocol 2+ streams start with PROTO (0x80)
	return head[0] != 0x80, nil
}

// LoadGraph loads the multigraph from a node-link JSON document or an edge list.
// Edge list format: source target e_label
// Example: "0 5871 3"
func (kg *KnowledgeGraph) LoadGraph(filename string) error {
	path, err := ResolvePath(filename)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", path)
	}

	fmt.Fprintln(kg.Out, "Loading knowledge graph from:", path)

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		err = kg.ReadNodeLink(bytes.NewReader(data))
	} else {
		err = kg.ReadEdgeList(bytes.NewReader(data))
	}
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	fmt.Fprintf(kg.Out, "Knowledge graph loaded:\n")
	fmt.Fprintf(kg.Out, "\t%d nodes\n", kg.NumEntities)
	fmt.Fprintf(kg.Out, "\t%d edges\n", kg.NumEdges)
	fmt.Fprintf(kg.Out, "\t%d edge labels\n", len(kg.LabelKeys))

	return nil
}

// ReadEdgeList parses "source target e_label" lines
func (kg *KnowledgeGraph) ReadEdgeList(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 3 {
			return errors.Errorf("line %d: expected \"source target e_label\", got %q", lineNo, line)
		}

		label, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "line %d: invalid e_label", lineNo)
		}

		source := kg.getOrCreateEntity(parts[0])
		target := kg.getOrCreateEntity(parts[1])
		kg.AddEdge(source, target, label)

		if kg.NumEdges%monitor == 0 {
			fmt.Fprintf(kg.Out, "\r\t# of edges: %d", kg.NumEdges)
		}
	}
	fmt.Fprintf(kg.Out, "\r\t# of edges: %d\n", kg.NumEdges)

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "error reading edge list")
	}
	return nil
}

type nodeLinkDocument struct {
	Directed   bool             `json:"directed"`
	Multigraph bool             `json:"multigraph"`
	Nodes      []map[string]any `json:"nodes"`
	Links      []map[string]any `json:"links"`
	Edges      []map[string]any `json:"edges"` // networkx >= 3.4 name for links
}

// ReadNodeLink parses the networkx node-link JSON layout
func (kg *KnowledgeGraph) ReadNodeLink(r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc nodeLinkDocument
	if err := dec.Decode(&doc); err != nil {
		return errors.Wrap(err, "decode node-link document")
	}

	for i, node := range doc.Nodes {
		id, ok := node["id"]
		if !ok {
			return errors.Errorf("node %d: missing id", i)
		}
		kg.getOrCreateEntity(jsonKey(id))
	}

	links := doc.Links
	if len(links) == 0 {
		links = doc.Edges
	}
	for i, link := range links {
		src, okSrc := link["source"]
		dst, okDst := link["target"]
		if !okSrc || !okDst {
			return errors.Errorf("link %d: missing source or target", i)
		}
		raw, ok := link["e_label"]
		if !ok {
			return errors.Errorf("link %d: missing e_label", i)
		}
		label, err := strconv.ParseInt(jsonKey(raw), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "link %d: invalid e_label", i)
		}

		kg.AddEdge(kg.getOrCreateEntity(jsonKey(src)), kg.getOrCreateEntity(jsonKey(dst)), label)
	}
	return nil
}

// jsonKey renders a decoded JSON scalar the way node names are stored
func jsonKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// AddEdge appends a labeled edge; parallel edges get increasing keys
func (kg *KnowledgeGraph) AddEdge(source, target, label int64) Edge {
	pair := [2]int64{source, target}
	idx := int64(len(kg.Edges))
	edge := Edge{
		ID:     idx,
		Source: source,
		Target: target,
		Key:    int64(len(kg.PairIndex[pair])),
		Label:  label,
	}
	kg.Edges = append(kg.Edges, edge)
	kg.OutIndex[source] = append(kg.OutIndex[source], idx)
	kg.PairIndex[pair] = append(kg.PairIndex[pair], idx)

	if !kg.labelSeen[label] {
		kg.labelSeen[label] = true
		kg.LabelKeys = append(kg.LabelKeys, label)
	}
	kg.NumEdges = int64(len(kg.Edges))
	return edge
}

// AddNode registers a node by name and returns its id
func (kg *KnowledgeGraph) AddNode(name string) int64 {
	return kg.getOrCreateEntity(name)
}

// getOrCreateEntity gets or creates an entity ID
func (kg *KnowledgeGraph) getOrCreateEntity(name string) int64 {
	if id, exists := kg.EntityHash[name]; exists {
		return id
	}

	id := int64(len(kg.EntityKeys))
	kg.EntityHash[name] = id
	kg.EntityKeys = append(kg.EntityKeys, name)
	kg.NumEntities = int64(len(kg.EntityKeys))
	return id
}

// Node returns the node with the given id
func (kg *KnowledgeGraph) Node(id int64) (Node, bool) {
	if id < 0 || id >= int64(len(kg.EntityKeys)) {
		return Node{}, false
	}
	return Node{ID: id, Name: kg.EntityKeys[id]}, true
}

// EdgesBetween returns all parallel edges from source to target
func (kg *KnowledgeGraph) EdgesBetween(source, target int64) []Edge {
	indices := kg.PairIndex[[2]int64{source, target}]
	edges := make([]Edge, 0, len(indices))
	for _, idx := range indices {
		edges = append(edges, kg.Edges[idx])
	}
	return edges
}

// EdgeLabels returns the distinct edge labels in first-seen order
func (kg *KnowledgeGraph) EdgeLabels() []int64 {
	out := make([]int64, len(kg.LabelKeys))
	copy(out, kg.LabelKeys)
	return out
}

// NumEdgeTypes is the number of distinct labels.
// Labels are assumed to be contiguous from 0.
func (kg *KnowledgeGraph) NumEdgeTypes() int {
	return len(kg.LabelKeys)
}
