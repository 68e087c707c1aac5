package nn

import "math"

// Adam implements the Adam optimizer with L2 weight decay folded into the gradient
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[*Param][]float64
	v    map[*Param][]float64
}

// NewAdam creates an optimizer with the usual betas and epsilon
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[*Param][]float64),
		v:           make(map[*Param][]float64),
	}
}

// ZeroGrad clears the gradients of all params
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Steps returns how many updates have been applied
func (a *Adam) Steps() int {
	return a.step
}

// Step applies one update to every param
func (a *Adam) Step(params []*Param) {
	a.step++
	bias1 := 1.0 - math.Pow(a.Beta1, float64(a.step))
	bias2 := 1.0 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(p.Value))
			a.m[p] = m
			a.v[p] = make([]float64, len(p.Value))
		}
		v := a.v[p]

		for i := range p.Value {
			g := p.Grad[i] + a.WeightDecay*p.Value[i]
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g

			mHat := m[i] / bias1
			vHat := v[i] / bias2
			p.Value[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}
