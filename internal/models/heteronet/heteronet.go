package heteronet

import (
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sort"

	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/pkg/dataset"
	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// HeteroNet is a two-layer heterogeneous GraphSAGE network that scores
// candidate edges by the dot product of their endpoint embeddings
type HeteroNet struct {
	conv1 *HeteroConv
	conv2 *HeteroConv

	dropouts1 map[string]nn.Dropout
	dropouts2 map[string]nn.Dropout

	nodeTypes []string
	inputDims map[string]int
	hidden    int
	dropout   float64

	training bool
	workers  int
	seed     int64
	rng      *rand.Rand
}

// Option customises a HeteroNet
type Option func(*HeteroNet)

// WithWorkers sets how many goroutines dense layers may use
func WithWorkers(workers int) Option {
	return func(m *HeteroNet) {
		if workers > 0 {
			m.workers = workers
		}
	}
}

// WithSeed seeds weight initialisation and dropout
func WithSeed(seed int64) Option {
	return func(m *HeteroNet) {
		m.seed = seed
	}
}

// New builds the network for the node and message types of g
func New(g *hetero.HeteroGraph, hidden int, dropout float64, opts ...Option) *HeteroNet {
	m := &HeteroNet{
		dropouts1: make(map[string]nn.Dropout),
		dropouts2: make(map[string]nn.Dropout),
		nodeTypes: g.NodeTypes(),
		inputDims: make(map[string]int),
		hidden:    hidden,
		dropout:   dropout,
		training:  true,
		workers:   runtime.NumCPU(),
		seed:      1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rng = rand.New(rand.NewSource(m.seed))

	for _, nodeType := range m.nodeTypes {
		m.inputDims[nodeType] = g.NumNodeFeatures(nodeType)
		m.dropouts1[nodeType] = nn.Dropout{P: dropout}
		m.dropouts2[nodeType] = nn.Dropout{P: dropout}
	}

	convs1 := make(map[hetero.MessageType]*SAGEConv)
	convs2 := make(map[hetero.MessageType]*SAGEConv)
	for _, mt := range g.MessageTypes() {
		convs1[mt] = NewSAGEConv(mt, m.inputDims[mt.Src], m.inputDims[mt.Dst], hidden, m.rng)
	}
	for _, mt := range g.MessageTypes() {
		convs2[mt] = NewSAGEConv(mt, hidden, hidden, hidden, m.rng)
	}
	m.conv1 = NewHeteroConv(convs1)
	m.conv2 = NewHeteroConv(convs2)

	return m
}

// PrintSettings writes the model configuration to w
func (m *HeteroNet) PrintSettings(w io.Writer) {
	fmt.Fprintln(w, "Model Setting:")
	fmt.Fprintf(w, "\tnode types:\t\t%d\n", len(m.nodeTypes))
	fmt.Fprintf(w, "\tmessage types:\t\t%d\n", len(m.conv1.order))
	fmt.Fprintf(w, "\thidden size:\t\t%d\n", m.hidden)
	fmt.Fprintf(w, "\tdropout:\t\t%.2f\n", m.dropout)
	fmt.Fprintf(w, "\tparameters:\t\t%d\n", m.NumParams())
	fmt.Fprintf(w, "\tworkers:\t\t%d\n", m.workers)
}

// Train switches dropout on
func (m *HeteroNet) Train() {
	m.training = true
}

// Eval switches dropout off
func (m *HeteroNet) Eval() {
	m.training = false
}

// Training reports whether the model is in training mode
func (m *HeteroNet) Training() bool {
	return m.training
}

// Params returns every learnable tensor, conv1 first
func (m *HeteroNet) Params() []*nn.Param {
	return append(m.conv1.Params(), m.conv2.Params()...)
}

// NumParams returns the number of scalar parameters
func (m *HeteroNet) NumParams() int {
	total := 0
	for _, p := range m.Params() {
		total += len(p.Value)
	}
	return total
}

// ZeroGrad clears all gradients
func (m *HeteroNet) ZeroGrad() {
	nn.ZeroGrad(m.Params())
}

// Clone returns a deep copy sharing no parameter memory with m
func (m *HeteroNet) Clone() *HeteroNet {
	c := &HeteroNet{
		conv1:     m.conv1.Clone(),
		conv2:     m.conv2.Clone(),
		dropouts1: make(map[string]nn.Dropout, len(m.dropouts1)),
		dropouts2: make(map[string]nn.Dropout, len(m.dropouts2)),
		nodeTypes: append([]string(nil), m.nodeTypes...),
		inputDims: make(map[string]int, len(m.inputDims)),
		hidden:    m.hidden,
		dropout:   m.dropout,
		training:  m.training,
		workers:   m.workers,
		seed:      m.seed,
		rng:       rand.New(rand.NewSource(m.seed)),
	}
	for k, v := range m.dropouts1 {
		c.dropouts1[k] = v
	}
	for k, v := range m.dropouts2 {
		c.dropouts2[k] = v
	}
	for k, v := range m.inputDims {
		c.inputDims[k] = v
	}
	return c
}

// Pass holds the predictions of one forward pass and the activations needed
// to run it backward
type Pass struct {
	// Pred maps each candidate message type to one score per candidate edge
	Pred map[hetero.MessageType][]float64

	batch *dataset.Batch

	act1   map[string]*nn.Matrix // dropout1 output, LeakyReLU input
	mask1  map[string][]float64
	cache1 *heteroCache

	h1     map[string]*nn.Matrix
	act2   map[string]*nn.Matrix
	mask2  map[string][]float64
	cache2 *heteroCache

	h2 map[string]*nn.Matrix
}

// Forward computes edge scores for every candidate edge in the batch.
// In eval mode Forward does not mutate the model and may run concurrently.
func (m *HeteroNet) Forward(b *dataset.Batch) (*Pass, error) {
	pass := &Pass{
		Pred:  make(map[hetero.MessageType][]float64),
		batch: b,
		mask1: make(map[string][]float64),
		mask2: make(map[string][]float64),
	}

	x := make(map[string]*nn.Matrix, len(b.NodeFeature))
	for nodeType, rows := range b.NodeFeature {
		x[nodeType] = nn.FromRows(rows)
	}

	pass.act1 = m.dropoutAll(x, m.dropouts1, pass.mask1)
	r1 := leakyAll(pass.act1)
	pass.h1, pass.cache1 = m.conv1.forward(r1, b.EdgeIndex, m.workers)

	pass.act2 = m.dropoutAll(pass.h1, m.dropouts2, pass.mask2)
	r2 := leakyAll(pass.act2)
	pass.h2, pass.cache2 = m.conv2.forward(r2, b.EdgeIndex, m.workers)

	for _, mt := range b.LabelTypes() {
		first, okSrc := pass.h2[mt.Src]
		second, okDst := pass.h2[mt.Dst]
		if !okSrc || !okDst {
			return nil, errors.Errorf("message type %s: no embeddings for its node types", mt)
		}

		index := b.EdgeLabelIndex[mt]
		scores := make([]float64, index.Len())
		for k := range scores {
			u, v := index.Src[k], index.Dst[k]
			if u >= first.Rows || v >= second.Rows {
				return nil, errors.Errorf("message type %s: candidate %d (%d -> %d) out of range", mt, k, u, v)
			}
			scores[k] = nn.Dot(first.Row(u), second.Row(v))
		}
		pass.Pred[mt] = scores
	}
	return pass, nil
}

func (m *HeteroNet) dropoutAll(x map[string]*nn.Matrix, dropouts map[string]nn.Dropout, masks map[string][]float64) map[string]*nn.Matrix {
	out := make(map[string]*nn.Matrix, len(x))
	for _, nodeType := range sortedKeys(x) {
		y, mask := dropouts[nodeType].Forward(x[nodeType], m.training, m.rng)
		out[nodeType] = y
		masks[nodeType] = mask
	}
	return out
}

func leakyAll(x map[string]*nn.Matrix) map[string]*nn.Matrix {
	out := make(map[string]*nn.Matrix, len(x))
	for nodeType, v := range x {
		out[nodeType] = nn.LeakyReLU(v)
	}
	return out
}

func sortedKeys(x map[string]*nn.Matrix) []string {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Loss sums, over message types, the mean BCE-with-logits of sigmoid(score)
// against the labels, so scores pass through two sigmoids. The returned
// gradients are taken with respect to the raw scores.
func (m *HeteroNet) Loss(pred map[hetero.MessageType][]float64, labels map[hetero.MessageType][]float64) (float64, map[hetero.MessageType][]float64) {
	total := 0.0
	grads := make(map[hetero.MessageType][]float64, len(pred))

	for mt, scores := range pred {
		probs := make([]float64, len(scores))
		for k, s := range scores {
			probs[k] = nn.Sigmoid(s)
		}

		loss, dProbs := nn.BCEWithLogits(probs, labels[mt])
		total += loss

		dScores := make([]float64, len(scores))
		for k, p := range probs {
			dScores[k] = dProbs[k] * p * (1 - p)
		}
		grads[mt] = dScores
	}
	return total, grads
}

// Backward accumulates parameter gradients for the scores' upstream gradients
func (m *HeteroNet) Backward(pass *Pass, dPred map[hetero.MessageType][]float64) {
	hidden := make(map[string]int, len(pass.h2))
	dH2 := make(map[string]*nn.Matrix, len(pass.h2))
	for nodeType, h := range pass.h2 {
		dH2[nodeType] = nn.NewMatrix(h.Rows, h.Cols)
		hidden[nodeType] = h.Cols
	}

	for _, mt := range pass.batch.LabelTypes() {
		grads, ok := dPred[mt]
		if !ok {
			continue
		}
		index := pass.batch.EdgeLabelIndex[mt]
		first, second := pass.h2[mt.Src], pass.h2[mt.Dst]
		dFirst, dSecond := dH2[mt.Src], dH2[mt.Dst]
		for k, g := range grads {
			if g == 0 {
				continue
			}
			u, v := index.Src[k], index.Dst[k]
			hu, hv := first.Row(u), second.Row(v)
			du, dv := dFirst.Row(u), dSecond.Row(v)
			for d := range du {
				du[d] += g * hv[d]
				dv[d] += g * hu[d]
			}
		}
	}

	dR2 := m.conv2.backward(pass.cache2, dH2, hidden, m.workers)
	dH1 := make(map[string]*nn.Matrix, len(dR2))
	for nodeType, g := range dR2 {
		dAct := nn.LeakyReLUBackward(pass.act2[nodeType], g)
		dH1[nodeType] = m.dropouts2[nodeType].Backward(dAct, pass.mask2[nodeType])
	}

	// input features are constants, so conv1's input gradient is dropped
	m.conv1.backward(pass.cache1, dH1, m.inputDims, m.workers)
}
