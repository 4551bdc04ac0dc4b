package nn

import (
	"math"

	"github.com/ollama/gradtts/ml"
)

type Conv2D struct {
	Weight *ml.Tensor `param:"weight"`
	Bias   *ml.Tensor `param:"bias"`
}

func (m *Conv2D) Forward(t *ml.Tensor, stride, pad int) *ml.Tensor {
	return ml.Conv2D(t, m.Weight, m.Bias, stride, pad)
}

// NewConv2D draws a k×k kernel from U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func NewConv2D(in, out, k int, r *ml.Rand) *Conv2D {
	bound := 1 / math.Sqrt(float64(in*k*k))
	return &Conv2D{
		Weight: r.Uniform(-bound, bound, out, in, k, k),
		Bias:   r.Uniform(-bound, bound, out),
	}
}

// ConvTranspose2D stores its kernel as [out, in, kh, kw] like Conv2D.
type ConvTranspose2D struct {
	Weight *ml.Tensor `param:"weight"`
	Bias   *ml.Tensor `param:"bias"`
}

func (m *ConvTranspose2D) Forward(t *ml.Tensor, stride, pad int) *ml.Tensor {
	return ml.ConvTranspose2D(t, m.Weight, m.Bias, stride, pad)
}

func NewConvTranspose2D(in, out, k int, r *ml.Rand) *ConvTranspose2D {
	// torch computes fan_in of transposed kernels from the output channels
	bound := 1 / math.Sqrt(float64(out*k*k))
	return &ConvTranspose2D{
		Weight: r.Uniform(-bound, bound, out, in, k, k),
		Bias:   r.Uniform(-bound, bound, out),
	}
}
