package gradtts

import (
	"math"

	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/ml/nn"
)

// sinusoidalEmbedding returns [len(t), dim] features: the first half
// sin(scale*t*f_i), the second half cos(scale*t*f_i) with
// f_i = exp(-i*ln(10000)/(half-1)).
func sinusoidalEmbedding(t []float64, dim int, scale float64) *ml.Tensor {
	half := dim / 2
	step := math.Log(10000) / float64(half-1)

	emb := ml.Zeros(len(t), dim)
	data := emb.Data()
	for b, tb := range t {
		row := data[b*dim : (b+1)*dim]
		for i := range half {
			arg := scale * tb * math.Exp(-float64(i)*step)
			row[i] = math.Sin(arg)
			row[half+i] = math.Cos(arg)
		}
	}

	return emb
}

// TimeEmbedding maps diffusion times to the conditioning vector shared by
// all residual blocks.
type TimeEmbedding struct {
	FC1 *nn.Linear `param:"0"`
	FC2 *nn.Linear `param:"1"`
}

func newTimeEmbedding(dim int, r *ml.Rand) *TimeEmbedding {
	return &TimeEmbedding{
		FC1: nn.NewLinear(dim, 4*dim, r),
		FC2: nn.NewLinear(4*dim, dim, r),
	}
}

// Forward returns [len(t), dim].
func (m *TimeEmbedding) Forward(t []float64, dim int, scale float64) *ml.Tensor {
	x := sinusoidalEmbedding(t, dim, scale)
	x = ml.Mish(m.FC1.Forward(x))
	return m.FC2.Forward(x)
}
