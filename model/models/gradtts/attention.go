package gradtts

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/ml/nn"
)

// LinearAttention is multi-head attention with linear cost in the number
// of positions, wrapped as x + g*attn(x). G starts at zero so a fresh
// block is the identity.
type LinearAttention struct {
	QKV *nn.Conv2D `param:"to_qkv"`
	Out *nn.Conv2D `param:"to_out"`
	G   *ml.Tensor `param:"g"`
}

func newLinearAttention(dim, heads, headDim int, r *ml.Rand) *LinearAttention {
	qkv := nn.NewConv2D(dim, 3*heads*headDim, 1, r)
	qkv.Bias = nil

	return &LinearAttention{
		QKV: qkv,
		Out: nn.NewConv2D(heads*headDim, dim, 1, r),
		G:   ml.Zeros(1),
	}
}

// Forward applies the residual attention to x [B, C, F, T].
func (a *LinearAttention) Forward(x *ml.Tensor, heads int) *ml.Tensor {
	return ml.Add(x, ml.Mul(a.attend(x, heads), a.G))
}

func (a *LinearAttention) attend(x *ml.Tensor, heads int) *ml.Tensor {
	b, f, t := x.Dim(0), x.Dim(2), x.Dim(3)
	qkv := a.QKV.Forward(x, 1, 0)

	hidden := qkv.Dim(1) / 3
	if hidden*3 != qkv.Dim(1) || hidden%heads != 0 {
		panic(fmt.Sprintf("gradtts: %d qkv channels do not split into 3 x %d heads", qkv.Dim(1), heads))
	}

	c, n := hidden/heads, f*t

	// channels are laid out (qkv, heads, c) so every head is a
	// contiguous [c, n] matrix
	data := qkv.Data()
	at := func(bi, part, h int) []float64 {
		off := ((bi*3+part)*heads + h) * c * n
		return data[off : off+c*n]
	}

	out := ml.Zeros(b, hidden, f, t)
	for bi := range b {
		for h := range heads {
			q := mat.NewDense(c, n, at(bi, 0, h))
			k := ml.New(at(bi, 1, h), c, n)
			v := mat.NewDense(c, n, at(bi, 2, h))

			// softmax over positions, in place on the scratch qkv tensor
			ml.Softmax(k)

			// context[d, e] = sum_n k[d, n] v[e, n]
			var context mat.Dense
			context.Mul(mat.NewDense(c, n, k.Data()), v.T())

			// out[e, n] = sum_d context[d, e] q[d, n]
			off := (bi*heads + h) * c * n
			dst := mat.NewDense(c, n, out.Data()[off:off+c*n])
			dst.Mul(context.T(), q)
		}
	}

	return a.Out.Forward(out, 1, 0)
}
