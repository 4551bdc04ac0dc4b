package nn

import (
	"github.com/ollama/gradtts/ml"
)

type GroupNorm struct {
	Weight *ml.Tensor `param:"weight"`
	Bias   *ml.Tensor `param:"bias"`
}

func (m *GroupNorm) Forward(t *ml.Tensor, groups int, eps float64) *ml.Tensor {
	return ml.GroupNorm(t, m.Weight, m.Bias, groups, eps)
}

func NewGroupNorm(channels int) *GroupNorm {
	return &GroupNorm{Weight: ml.Ones(channels), Bias: ml.Zeros(channels)}
}
