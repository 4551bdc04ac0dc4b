package nn

import (
	"math"

	"github.com/ollama/gradtts/ml"
)

type Linear struct {
	Weight *ml.Tensor `param:"weight"`
	Bias   *ml.Tensor `param:"bias"`
}

func (m *Linear) Forward(t *ml.Tensor) *ml.Tensor {
	return ml.Linear(t, m.Weight, m.Bias)
}

// NewLinear returns a layer initialised like torch.nn.Linear: weights and
// bias are drawn from U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, r *ml.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	return &Linear{
		Weight: r.Uniform(-bound, bound, out, in),
		Bias:   r.Uniform(-bound, bound, out),
	}
}
