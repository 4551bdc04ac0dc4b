// blocks.go - Faltungsbausteine des U-Nets
//
// Dieses Modul enthaelt:
// - Block: Conv 3x3 -> GroupNorm -> Mish, maskiert
// - ResnetBlock: zwei Blocks mit Zeit-Konditionierung und Residualpfad
//
// Masken haben die Form [B, 1, 1, T] und werden gegen [B, C, F, T] gebroadcastet.
package gradtts

import (
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/ml/nn"
)

const groupNormEps = 1e-5

type Block struct {
	Conv *nn.Conv2D    `param:"conv"`
	Norm *nn.GroupNorm `param:"norm"`
}

func newBlock(in, out int, r *ml.Rand) *Block {
	return &Block{
		Conv: nn.NewConv2D(in, out, 3, r),
		Norm: nn.NewGroupNorm(out),
	}
}

func (b *Block) Forward(x, mask *ml.Tensor, groups int) *ml.Tensor {
	x = b.Conv.Forward(ml.Mul(x, mask), 1, 1)
	x = b.Norm.Forward(x, groups, groupNormEps)
	return ml.Mul(ml.Mish(x), mask)
}

type ResnetBlock struct {
	MLP    *nn.Linear `param:"mlp"`
	Block1 *Block     `param:"block1"`
	Block2 *Block     `param:"block2"`

	// Proj is nil when input and output channels match.
	Proj *nn.Conv2D `param:"res_conv"`
}

func newResnetBlock(in, out, timeDim int, r *ml.Rand) *ResnetBlock {
	b := &ResnetBlock{
		MLP:    nn.NewLinear(timeDim, out, r),
		Block1: newBlock(in, out, r),
		Block2: newBlock(out, out, r),
	}

	if in != out {
		b.Proj = nn.NewConv2D(in, out, 1, r)
	}

	return b
}

// Forward takes x [B, C, F, T], mask [B, 1, 1, T] and the time embedding [B, D].
func (b *ResnetBlock) Forward(x, mask, temb *ml.Tensor, groups int) *ml.Tensor {
	h := b.Block1.Forward(x, mask, groups)

	t := b.MLP.Forward(ml.Mish(temb))
	h = ml.Add(h, t.Reshape(t.Dim(0), t.Dim(1), 1, 1))
	h = b.Block2.Forward(h, mask, groups)

	res := ml.Mul(x, mask)
	if b.Proj != nil {
		res = b.Proj.Forward(res, 1, 0)
	}

	return ml.Add(h, res)
}
