package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/pkg/hetero"
)

const (
	// TaskLinkPred is the only supported task
	TaskLinkPred = "link_pred"

	// ModeDisjoint separates message-passing edges from supervision edges in the train split
	ModeDisjoint = "disjoint"
	// ModeAll uses every train edge for both message passing and supervision
	ModeAll = "all"

	// negative sampling gives up after this many draws per requested negative
	maxDrawsPerNegative = 50
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrUnknownMode = errors.New("unknown edge train mode")
	ErrEmptyGraph  = errors.New("graph has no edges")
)

// Options configures dataset construction
type Options struct {
	Task             string
	EdgeTrainMode    string
	EdgeMessageRatio float64
	NegSamplingRatio float64
	Seed             int64
}

// DefaultOptions returns link prediction in disjoint mode with one negative per positive
func DefaultOptions() Options {
	return Options{
		Task:             TaskLinkPred,
		EdgeTrainMode:    ModeDisjoint,
		EdgeMessageRatio: 0.8,
		NegSamplingRatio: 1.0,
		Seed:             1,
	}
}

// Validate checks option values
func (o Options) Validate() error {
	if o.Task != TaskLinkPred {
		return errors.Wrapf(ErrUnknownTask, "%q", o.Task)
	}
	if o.EdgeTrainMode != ModeDisjoint && o.EdgeTrainMode != ModeAll {
		return errors.Wrapf(ErrUnknownMode, "%q (want %s or %s)", o.EdgeTrainMode, ModeDisjoint, ModeAll)
	}
	if o.EdgeMessageRatio <= 0 || o.EdgeMessageRatio >= 1 {
		return errors.Errorf("edge_message_ratio must be in (0, 1), got %v", o.EdgeMessageRatio)
	}
	if o.NegSamplingRatio <= 0 {
		return errors.Errorf("neg_sampling_ratio must be positive, got %v", o.NegSamplingRatio)
	}
	return nil
}

// GraphDataset wraps one heterogeneous graph for link prediction
type GraphDataset struct {
	graph *hetero.HeteroGraph
	opts  Options
	rng   *rand.Rand

	// every edge of the graph, used to reject false negatives
	edgeSet map[hetero.MessageType]map[[2]int]bool
}

// New creates a link prediction dataset over g
func New(g *hetero.HeteroGraph, opts Options) (*GraphDataset, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if g.TotalEdges() == 0 {
		return nil, ErrEmptyGraph
	}

	d := &GraphDataset{
		graph:   g,
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		edgeSet: make(map[hetero.MessageType]map[[2]int]bool),
	}
	for _, mt := range g.MessageTypes() {
		index := g.EdgeIndex[mt]
		set := make(map[[2]int]bool, index.Len())
		for i := range index.Src {
			set[[2]int{index.Src[i], index.Dst[i]}] = true
		}
		d.edgeSet[mt] = set
	}
	return d, nil
}

// Graph returns the wrapped graph
func (d *GraphDataset) Graph() *hetero.HeteroGraph {
	return d.graph
}

// Options returns the dataset options
func (d *GraphDataset) Options() Options {
	return d.opts
}

// Split partitions every message type's edges into train, val and test.
// Only transductive splits are supported: all nodes stay visible to every split.
func (d *GraphDataset) Split(transductive bool, ratios []float64) (train, val, test *Split, err error) {
	if !transductive {
		return nil, nil, nil, errors.New("inductive split needs more than one graph")
	}
	if len(ratios) != 3 {
		return nil, nil, nil, errors.Errorf("split ratio needs 3 entries, got %d", len(ratios))
	}
	sum := 0.0
	for _, r := range ratios {
		if r < 0 {
			return nil, nil, nil, errors.Errorf("negative split ratio %v", r)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, nil, nil, errors.Errorf("split ratios must sum to 1, got %v", sum)
	}

	train = d.newSplit("train", true)
	val = d.newSplit("val", false)
	test = d.newSplit("test", false)

	for _, mt := range d.graph.MessageTypes() {
		index := d.graph.EdgeIndex[mt]
		perm := d.rng.Perm(index.Len())
		nTrain, nVal := splitSizes(index.Len(), ratios)

		trainEdges := pick(index, perm[:nTrain])
		valEdges := pick(index, perm[nTrain:nTrain+nVal])
		testEdges := pick(index, perm[nTrain+nVal:])

		// train: message passing on train edges, supervised on train edges
		// (or on a held-out part of them in disjoint mode)
		if d.opts.EdgeTrainMode == ModeDisjoint {
			msg, sup := d.disjoint(trainEdges)
			train.message[mt] = msg
			train.positives[mt] = sup
		} else {
			train.message[mt] = trainEdges
			train.positives[mt] = trainEdges.Clone()
		}

		// val: message passing on all train edges
		val.message[mt] = trainEdges.Clone()
		val.positives[mt] = valEdges

		// test: message passing on train and val edges
		testMsg := trainEdges.Clone()
		testMsg.Src = append(testMsg.Src, valEdges.Src...)
		testMsg.Dst = append(testMsg.Dst, valEdges.Dst...)
		test.message[mt] = testMsg
		test.positives[mt] = testEdges
	}

	// val and test negatives are drawn once
	for _, split := range []*Split{val, test} {
		for mt, pos := range split.positives {
			split.negatives[mt] = d.sampleNegatives(mt, pos.Len(), split.rng)
		}
	}

	return train, val, test, nil
}

// splitSizes returns train and val counts for n edges; test gets the rest.
// Once n >= 3 every split receives at least one edge.
func splitSizes(n int, ratios []float64) (int, int) {
	if n < 3 {
		return n, 0
	}
	nTrain := int(float64(n) * ratios[0])
	nVal := int(float64(n) * ratios[1])
	if nTrain < 1 {
		nTrain = 1
	}
	if nVal < 1 {
		nVal = 1
	}
	for nTrain+nVal > n-1 {
		if nTrain > nVal {
			nTrain--
		} else {
			nVal--
		}
	}
	return nTrain, nVal
}

func pick(index hetero.EdgeIndex, ids []int) hetero.EdgeIndex {
	out := hetero.EdgeIndex{Src: make([]int, 0, len(ids)), Dst: make([]int, 0, len(ids))}
	for _, i := range ids {
		out.Append(index.Src[i], index.Dst[i])
	}
	return out
}

// disjoint splits train edges into message-passing and supervision parts.
// A single edge is supervised only; the two parts never share an edge.
func (d *GraphDataset) disjoint(edges hetero.EdgeIndex) (hetero.EdgeIndex, hetero.EdgeIndex) {
	n := edges.Len()
	if n < 2 {
		return hetero.EdgeIndex{Src: []int{}, Dst: []int{}}, edges.Clone()
	}

	nMsg := int(float64(n) * d.opts.EdgeMessageRatio)
	if nMsg < 1 {
		nMsg = 1
	}
	if nMsg > n-1 {
		nMsg = n - 1
	}

	perm := d.rng.Perm(n)
	return pick(edges, perm[:nMsg]), pick(edges, perm[nMsg:])
}

// sampleNegatives draws ceil(ratio * positives) node pairs that are not edges of mt
func (d *GraphDataset) sampleNegatives(mt hetero.MessageType, positives int, rng *rand.Rand) hetero.EdgeIndex {
	want := int(math.Ceil(d.opts.NegSamplingRatio * float64(positives)))
	out := hetero.EdgeIndex{Src: make([]int, 0, want), Dst: make([]int, 0, want)}

	numSrc := d.graph.NumNodes(mt.Src)
	numDst := d.graph.NumNodes(mt.Dst)
	if want == 0 || numSrc == 0 || numDst == 0 {
		return out
	}

	existing := d.edgeSet[mt]
	for draws := 0; out.Len() < want && draws < want*maxDrawsPerNegative; draws++ {
		src := rng.Intn(numSrc)
		dst := rng.Intn(numDst)
		if existing[[2]int{src, dst}] {
			continue
		}
		out.Append(src, dst)
	}
	return out
}
