package heteronet

import (
	"math/rand"

	"github.com/cnclabs/hetlink/pkg/hetero"
	"github.com/cnclabs/hetlink/pkg/nn"
)

// SAGEConv is a GraphSAGE convolution for one message type:
// out = lin_update([lin_neigh(mean_{j->i} x_j) || lin_self(x_i)])
type SAGEConv struct {
	MessageType hetero.MessageType
	LinNeigh    *nn.Linear
	LinSelf     *nn.Linear
	LinUpdate   *nn.Linear
}

// NewSAGEConv creates a convolution reading inNeigh-wide source features and
// inSelf-wide target features
func NewSAGEConv(mt hetero.MessageType, inNeigh, inSelf, out int, rng *rand.Rand) *SAGEConv {
	prefix := mt.Rel + "."
	return &SAGEConv{
		MessageType: mt,
		LinNeigh:    nn.NewLinear(prefix+"lin_neigh", inNeigh, out, rng),
		LinSelf:     nn.NewLinear(prefix+"lin_self", inSelf, out, rng),
		LinUpdate:   nn.NewLinear(prefix+"lin_update", 2*out, out, rng),
	}
}

// Params returns the learnable tensors
func (c *SAGEConv) Params() []*nn.Param {
	params := c.LinNeigh.Params()
	params = append(params, c.LinSelf.Params()...)
	return append(params, c.LinUpdate.Params()...)
}

// Clone returns an independent copy
func (c *SAGEConv) Clone() *SAGEConv {
	return &SAGEConv{
		MessageType: c.MessageType,
		LinNeigh:    c.LinNeigh.Clone(),
		LinSelf:     c.LinSelf.Clone(),
		LinUpdate:   c.LinUpdate.Clone(),
	}
}

// convCache keeps what SAGEConv needs to run backward
type convCache struct {
	src, dst []int
	counts   []int
	numSrc   int
	aggr     *nn.Matrix
	xSelf    *nn.Matrix
	cat      *nn.Matrix
}

func (c *SAGEConv) forward(xSrc, xDst *nn.Matrix, edges hetero.EdgeIndex, workers int) (*nn.Matrix, *convCache) {
	src, dst := edges.Src, edges.Dst
	if c.MessageType.Src == c.MessageType.Dst {
		src, dst = nn.RemoveSelfLoops(src, dst)
	}

	aggr, counts := nn.ScatterMean(xSrc, src, dst, xDst.Rows)
	neigh := c.LinNeigh.Forward(aggr, workers)
	self := c.LinSelf.Forward(xDst, workers)
	cat := nn.Concat(neigh, self)
	out := c.LinUpdate.Forward(cat, workers)

	return out, &convCache{
		src:    src,
		dst:    dst,
		counts: counts,
		numSrc: xSrc.Rows,
		aggr:   aggr,
		xSelf:  xDst,
		cat:    cat,
	}
}

// backward returns gradients for the source and target features
func (c *SAGEConv) backward(cache *convCache, dOut *nn.Matrix, workers int) (*nn.Matrix, *nn.Matrix) {
	dCat := c.LinUpdate.Backward(cache.cat, dOut, workers)
	dNeigh, dSelf := nn.Split(dCat, c.LinNeigh.Out)

	dAggr := c.LinNeigh.Backward(cache.aggr, dNeigh, workers)
	dxDst := c.LinSelf.Backward(cache.xSelf, dSelf, workers)
	dxSrc := nn.ScatterMeanBackward(dAggr, cache.src, cache.dst, cache.counts, cache.numSrc)
	return dxSrc, dxDst
}

// HeteroConv applies one SAGEConv per message type and sums the results per target node type
type HeteroConv struct {
	Convs map[hetero.MessageType]*SAGEConv
	order []hetero.MessageType
}

// NewHeteroConv wraps the per-message-type convolutions
func NewHeteroConv(convs map[hetero.MessageType]*SAGEConv) *HeteroConv {
	hc := &HeteroConv{Convs: convs}
	for mt := range convs {
		hc.order = append(hc.order, mt)
	}
	hetero.SortMessageTypes(hc.order)
	return hc
}

// Params returns the learnable tensors in message type order
func (hc *HeteroConv) Params() []*nn.Param {
	var params []*nn.Param
	for _, mt := range hc.order {
		params = append(params, hc.Convs[mt].Params()...)
	}
	return params
}

// Clone returns an independent copy
func (hc *HeteroConv) Clone() *HeteroConv {
	convs := make(map[hetero.MessageType]*SAGEConv, len(hc.Convs))
	for mt, conv := range hc.Convs {
		convs[mt] = conv.Clone()
	}
	return NewHeteroConv(convs)
}

type heteroCache struct {
	convs map[hetero.MessageType]*convCache
	rows  map[string]int
}

// forward runs message passing over edgeIndex. Node types that receive no
// message are absent from the result.
func (hc *HeteroConv) forward(
	x map[string]*nn.Matrix,
	edgeIndex map[hetero.MessageType]hetero.EdgeIndex,
	workers int,
) (map[string]*nn.Matrix, *heteroCache) {
	out := make(map[string]*nn.Matrix)
	cache := &heteroCache{
		convs: make(map[hetero.MessageType]*convCache),
		rows:  make(map[string]int),
	}
	for nodeType, m := range x {
		cache.rows[nodeType] = m.Rows
	}

	for _, mt := range hc.order {
		xSrc, okSrc := x[mt.Src]
		xDst, okDst := x[mt.Dst]
		if !okSrc || !okDst {
			continue
		}

		y, c := hc.Convs[mt].forward(xSrc, xDst, edgeIndex[mt], workers)
		cache.convs[mt] = c
		if acc, ok := out[mt.Dst]; ok {
			acc.AddInPlace(y)
		} else {
			out[mt.Dst] = y
		}
	}
	return out, cache
}

func (hc *HeteroConv) backward(cache *heteroCache, dOut map[string]*nn.Matrix, cols map[string]int, workers int) map[string]*nn.Matrix {
	dx := make(map[string]*nn.Matrix)
	grad := func(nodeType string) *nn.Matrix {
		if m, ok := dx[nodeType]; ok {
			return m
		}
		m := nn.NewMatrix(cache.rows[nodeType], cols[nodeType])
		dx[nodeType] = m
		return m
	}

	for _, mt := range hc.order {
		c, ok := cache.convs[mt]
		if !ok {
			continue
		}
		dy, ok := dOut[mt.Dst]
		if !ok {
			continue
		}

		dxSrc, dxDst := hc.Convs[mt].backward(c, dy, workers)
		grad(mt.Src).AddInPlace(dxSrc)
		grad(mt.Dst).AddInPlace(dxDst)
	}
	return dx
}
