package dataset

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// Batch is one collated graph ready for the model
type Batch struct {
	NodeFeature map[string][][]float64

	// Message-passing edges
	EdgeIndex map[hetero.MessageType]hetero.EdgeIndex

	// Candidate edges and their 0/1 ground truth, per message type
	EdgeLabelIndex map[hetero.MessageType]hetero.EdgeIndex
	EdgeLabel      map[hetero.MessageType][]float64

	device nn.Device
}

// LabelTypes returns the message types that have candidate edges, sorted
func (b *Batch) LabelTypes() []hetero.MessageType {
	mts := make([]hetero.MessageType, 0, len(b.EdgeLabelIndex))
	for mt, index := range b.EdgeLabelIndex {
		if index.Len() > 0 {
			mts = append(mts, mt)
		}
	}
	hetero.SortMessageTypes(mts)
	return mts
}

// NumNodes returns the node count of a type
func (b *Batch) NumNodes(nodeType string) int {
	return len(b.NodeFeature[nodeType])
}

// NumCandidates returns the number of candidate edges over all types
func (b *Batch) NumCandidates() int {
	total := 0
	for _, labels := range b.EdgeLabel {
		total += len(labels)
	}
	return total
}

// To places the batch on a device. Tensors always stay in host memory.
func (b *Batch) To(device nn.Device) *Batch {
	b.device = device
	return b
}

// Device returns the device set by To
func (b *Batch) Device() nn.Device {
	return b.device
}

// Split is one of the train/val/test partitions of a dataset
type Split struct {
	Name string

	dataset   *GraphDataset
	message   map[hetero.MessageType]hetero.EdgeIndex
	positives map[hetero.MessageType]hetero.EdgeIndex
	negatives map[hetero.MessageType]hetero.EdgeIndex

	// resample draws fresh negatives every time a batch is built
	resample bool
	rng      *rand.Rand
}

func (d *GraphDataset) newSplit(name string, resample bool) *Split {
	return &Split{
		Name:      name,
		dataset:   d,
		message:   make(map[hetero.MessageType]hetero.EdgeIndex),
		positives: make(map[hetero.MessageType]hetero.EdgeIndex),
		negatives: make(map[hetero.MessageType]hetero.EdgeIndex),
		resample:  resample,
		rng:       rand.New(rand.NewSource(d.rng.Int63())),
	}
}

// MessageEdges returns the message-passing edges of a type
func (s *Split) MessageEdges(mt hetero.MessageType) hetero.EdgeIndex {
	return s.message[mt]
}

// PositiveEdges returns the supervision edges of a type
func (s *Split) PositiveEdges(mt hetero.MessageType) hetero.EdgeIndex {
	return s.positives[mt]
}

// NumPositives returns the number of supervision edges over all types
func (s *Split) NumPositives() int {
	total := 0
	for _, index := range s.positives {
		total += index.Len()
	}
	return total
}

// Batch builds the split's graph batch. Not safe for concurrent use on the same split.
func (s *Split) Batch() *Batch {
	b := &Batch{
		NodeFeature:    s.dataset.graph.NodeFeature,
		EdgeIndex:      s.message,
		EdgeLabelIndex: make(map[hetero.MessageType]hetero.EdgeIndex),
		EdgeLabel:      make(map[hetero.MessageType][]float64),
	}

	for mt, pos := range s.positives {
		if pos.Len() == 0 {
			continue
		}
		neg := s.negatives[mt]
		if s.resample {
			neg = s.dataset.sampleNegatives(mt, pos.Len(), s.rng)
		}

		index := pos.Clone()
		index.Src = append(index.Src, neg.Src...)
		index.Dst = append(index.Dst, neg.Dst...)

		labels := make([]float64, index.Len())
		for i := 0; i < pos.Len(); i++ {
			labels[i] = 1
		}

		b.EdgeLabelIndex[mt] = index
		b.EdgeLabel[mt] = labels
	}
	return b
}

// Loader iterates over a split in batches
type Loader struct {
	split     *Split
	batchSize int
}

// NewLoader creates a loader. A split holds one graph, so batch size must be 1.
func NewLoader(split *Split, batchSize int) (*Loader, error) {
	if batchSize != 1 {
		return nil, errors.Errorf("batch size must be 1 for a single-graph split, got %d", batchSize)
	}
	return &Loader{split: split, batchSize: batchSize}, nil
}

// Name returns the split name
func (l *Loader) Name() string {
	return l.split.Name
}

// Batches collates the split into batches
func (l *Loader) Batches() []*Batch {
	return []*Batch{l.split.Batch()}
}
