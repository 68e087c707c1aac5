package nn

import (
	"math"
	"math/rand"
)

// LeakySlope is the negative slope of LeakyReLU
const LeakySlope = 0.01

// Param is a learnable tensor with its gradient
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter of the given size
func NewParam(name string, size int) *Param {
	return &Param{Name: name, Value: make([]float64, size), Grad: make([]float64, size)}
}

// ZeroGrad resets the gradient
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Clone returns a deep copy of value and gradient
func (p *Param) Clone() *Param {
	out := NewParam(p.Name, len(p.Value))
	copy(out.Value, p.Value)
	copy(out.Grad, p.Grad)
	return out
}

// Linear is a fully connected layer: y = x W^T + b
type Linear struct {
	In     int
	Out    int
	Weight *Param // [Out][In]
	Bias   *Param // [Out]
}

// NewLinear creates a layer with weights drawn from U(-1/sqrt(in), 1/sqrt(in))
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParam(name+".weight", out*in),
		Bias:   NewParam(name+".bias", out),
	}

	bound := 1.0 / math.Sqrt(float64(in))
	for i := range l.Weight.Value {
		l.Weight.Value[i] = (rng.Float64()*2 - 1) * bound
	}
	for i := range l.Bias.Value {
		l.Bias.Value[i] = (rng.Float64()*2 - 1) * bound
	}
	return l
}

// Params returns the learnable tensors
func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}

// Clone returns an independent copy
func (l *Linear) Clone() *Linear {
	return &Linear{In: l.In, Out: l.Out, Weight: l.Weight.Clone(), Bias: l.Bias.Clone()}
}

// Forward computes x W^T + b for every row of x
func (l *Linear) Forward(x *Matrix, workers int) *Matrix {
	y := NewMatrix(x.Rows, l.Out)
	w := l.Weight.Value
	b := l.Bias.Value

	Parallel(x.Rows, workers, func(start, end int) {
		for n := start; n < end; n++ {
			in := x.Row(n)
			out := y.Row(n)
			for o := 0; o < l.Out; o++ {
				out[o] = b[o] + Dot(w[o*l.In:(o+1)*l.In], in)
			}
		}
	})
	return y
}

// Backward accumulates weight and bias gradients and returns dL/dx
func (l *Linear) Backward(x, dy *Matrix, workers int) *Matrix {
	w := l.Weight.Value
	gw := l.Weight.Grad
	gb := l.Bias.Grad

	// Each worker owns a range of output units, so gradient rows are disjoint
	Parallel(l.Out, workers, func(start, end int) {
		for o := start; o < end; o++ {
			row := gw[o*l.In : (o+1)*l.In]
			for n := 0; n < x.Rows; n++ {
				g := dy.At(n, o)
				if g == 0 {
					continue
				}
				gb[o] += g
				in := x.Row(n)
				for i := range row {
					row[i] += g * in[i]
				}
			}
		}
	})

	dx := NewMatrix(x.Rows, l.In)
	Parallel(x.Rows, workers, func(start, end int) {
		for n := start; n < end; n++ {
			grad := dy.Row(n)
			out := dx.Row(n)
			for o, g := range grad {
				if g == 0 {
					continue
				}
				weights := w[o*l.In : (o+1)*l.In]
				for i := range out {
					out[i] += g * weights[i]
				}
			}
		}
	})
	return dx
}

// Dropout zeroes inputs with probability P during training and rescales the rest
type Dropout struct {
	P float64
}

// Forward returns the output and the mask needed for Backward.
// Outside training the input is returned unchanged with a nil mask.
func (d Dropout) Forward(x *Matrix, training bool, rng *rand.Rand) (*Matrix, []float64) {
	if !training || d.P <= 0 {
		return x, nil
	}

	out := NewMatrix(x.Rows, x.Cols)
	mask := make([]float64, len(x.Data))
	if d.P >= 1 {
		return out, mask
	}

	scale := 1.0 / (1.0 - d.P)
	for i, v := range x.Data {
		if rng.Float64() >= d.P {
			mask[i] = scale
			out.Data[i] = v * scale
		}
	}
	return out, mask
}

// Backward applies the dropout mask to the upstream gradient
func (d Dropout) Backward(dy *Matrix, mask []float64) *Matrix {
	if mask == nil {
		return dy
	}
	dx := NewMatrix(dy.Rows, dy.Cols)
	for i, g := range dy.Data {
		dx.Data[i] = g * mask[i]
	}
	return dx
}

// LeakyReLU applies max(x, slope*x) element-wise
func LeakyReLU(x *Matrix) *Matrix {
	out := NewMatrix(x.Rows, x.Cols)
	for i, v := range x.Data {
		if v < 0 {
			v *= LeakySlope
		}
		out.Data[i] = v
	}
	return out
}

// LeakyReLUBackward propagates dy through LeakyReLU evaluated at x
func LeakyReLUBackward(x, dy *Matrix) *Matrix {
	dx := NewMatrix(dy.Rows, dy.Cols)
	for i, g := range dy.Data {
		if x.Data[i] < 0 {
			g *= LeakySlope
		}
		dx.Data[i] = g
	}
	return dx
}

// BCEWithLogits returns the mean binary cross-entropy of sigmoid(logits)
// against targets and the gradient with respect to each logit.
func BCEWithLogits(logits, targets []float64) (float64, []float64) {
	n := len(logits)
	grad := make([]float64, n)
	if n == 0 {
		return 0, grad
	}

	loss := 0.0
	for i, z := range logits {
		y := targets[i]
		// max(z, 0) - z*y + log(1 + exp(-|z|)) is the stable form
		loss += math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
		grad[i] = (Sigmoid(z) - y) / float64(n)
	}
	return loss / float64(n), grad
}
