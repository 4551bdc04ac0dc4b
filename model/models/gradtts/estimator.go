// estimator.go - Score-Schaetzer (U-Net mit linearer Attention)
//
// Dieses Modul enthaelt:
// - DownLevel / UpLevel: eine Aufloesungsstufe der Pyramide
// - Estimator: Aufbau aus der Stufenliste und Forward
// - CheckShapes / FixLength: Formvorgaben fuer Aufrufer
//
// Die Maskenpyramide entsteht durch Striding der Eingabemaske, damit sie
// exakt zu den Stride-2-Faltungen passt. Skips und Masken werden in
// umgekehrter Reihenfolge vom Stack genommen.
package gradtts

import (
	"fmt"

	"github.com/emirpasic/gods/v2/stacks/arraystack"

	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/ml/nn"
)

type DownLevel struct {
	Resnet1 *ResnetBlock     `param:"resnet1"`
	Resnet2 *ResnetBlock     `param:"resnet2"`
	Attn    *LinearAttention `param:"attn"`

	// Down is nil on the deepest level.
	Down *nn.Conv2D `param:"down"`
}

type UpLevel struct {
	Resnet1 *ResnetBlock        `param:"resnet1"`
	Resnet2 *ResnetBlock        `param:"resnet2"`
	Attn    *LinearAttention    `param:"attn"`
	Up      *nn.ConvTranspose2D `param:"up"`
}

// Estimator predicts the score of the noisy distribution at time t.
type Estimator struct {
	TimeMLP *TimeEmbedding `param:"time_mlp"`

	Downs     []*DownLevel     `param:"downs"`
	MidBlock1 *ResnetBlock     `param:"mid_block1"`
	MidAttn   *LinearAttention `param:"mid_attn"`
	MidBlock2 *ResnetBlock     `param:"mid_block2"`
	Ups       []*UpLevel       `param:"ups"`

	FinalBlock *Block     `param:"final_block"`
	FinalConv  *nn.Conv2D `param:"final_conv"`

	opts Options
}

// channels returns the channel count of every resolution, input first.
func (o Options) channels() []int {
	dims := []int{2}
	for _, m := range o.DimMults {
		dims = append(dims, o.Dim*m)
	}
	return dims
}

// newEstimator builds a randomly initialised network from the level list.
func newEstimator(o Options, r *ml.Rand) *Estimator {
	dims := o.channels()
	levels := o.Levels()

	e := &Estimator{
		TimeMLP: newTimeEmbedding(o.Dim, r),
		opts:    o,
	}

	for i := range levels {
		in, out := dims[i], dims[i+1]
		level := &DownLevel{
			Resnet1: newResnetBlock(in, out, o.Dim, r),
			Resnet2: newResnetBlock(out, out, o.Dim, r),
			Attn:    newLinearAttention(out, o.Heads, o.HeadDim, r),
		}
		if i < levels-1 {
			level.Down = nn.NewConv2D(out, out, 3, r)
		}
		e.Downs = append(e.Downs, level)
	}

	mid := dims[len(dims)-1]
	e.MidBlock1 = newResnetBlock(mid, mid, o.Dim, r)
	e.MidAttn = newLinearAttention(mid, o.Heads, o.HeadDim, r)
	e.MidBlock2 = newResnetBlock(mid, mid, o.Dim, r)

	for i := levels - 1; i > 0; i-- {
		in, out := dims[i], dims[i+1]
		e.Ups = append(e.Ups, &UpLevel{
			Resnet1: newResnetBlock(2*out, in, o.Dim, r),
			Resnet2: newResnetBlock(in, in, o.Dim, r),
			Attn:    newLinearAttention(in, o.Heads, o.HeadDim, r),
			Up:      nn.NewConvTranspose2D(in, in, 4, r),
		})
	}

	e.FinalBlock = newBlock(o.Dim, o.Dim, r)
	e.FinalConv = nn.NewConv2D(o.Dim, 1, 1, r)
	return e
}

// Multiple is the factor feature and time lengths must be divisible by.
func (e *Estimator) Multiple() int {
	return 1 << (e.opts.Levels() - 1)
}

// CheckShapes validates x and mu [B, F, T] against mask [B, 1, T] or [B, T].
func (e *Estimator) CheckShapes(x, mask, mu *ml.Tensor) error {
	if x.Rank() != 3 || !ml.SameShape(x, mu) {
		return fmt.Errorf("%w: x %v and mu %v must share shape [B, F, T]", ErrInvariantViolation, x.Shape(), mu.Shape())
	}

	b, f, t := x.Dim(0), x.Dim(1), x.Dim(2)
	switch {
	case mask.Rank() == 3 && mask.Dim(0) == b && mask.Dim(1) == 1 && mask.Dim(2) == t:
	case mask.Rank() == 2 && mask.Dim(0) == b && mask.Dim(1) == t:
	default:
		return fmt.Errorf("%w: mask %v does not match x %v", ErrInvariantViolation, mask.Shape(), x.Shape())
	}

	if m := e.Multiple(); f%m != 0 || t%m != 0 || t == 0 {
		return fmt.Errorf("%w: feature bins %d and frames %d must be positive multiples of %d", ErrInvariantViolation, f, t, m)
	}

	return nil
}

// FixLength rounds a frame count up to the next length the network accepts.
func (e *Estimator) FixLength(n int) int {
	m := e.Multiple()
	return max(m, (n+m-1)/m*m)
}

// rank3Mask returns mask as [B, 1, T].
func rank3Mask(mask *ml.Tensor) *ml.Tensor {
	if mask.Rank() == 2 {
		return mask.Unsqueeze(1)
	}
	return mask
}

// Forward returns the score estimate [B, F, T] for x [B, F, T] at times t.
// It panics when the shapes violate CheckShapes.
func (e *Estimator) Forward(x, mask, mu *ml.Tensor, t []float64) *ml.Tensor {
	if err := e.CheckShapes(x, mask, mu); err != nil {
		panic(err)
	}

	if len(t) != x.Dim(0) {
		panic(fmt.Sprintf("gradtts: %d times for batch of %d", len(t), x.Dim(0)))
	}

	o := e.opts
	temb := e.TimeMLP.Forward(t, o.Dim, o.PEScale)

	h := ml.Concat(1, mu.Unsqueeze(1), x.Unsqueeze(1))
	mask = rank3Mask(mask).Unsqueeze(1)

	hiddens := arraystack.New[*ml.Tensor]()
	masks := arraystack.New[*ml.Tensor]()
	masks.Push(mask)

	for _, level := range e.Downs {
		m, _ := masks.Peek()
		h = level.Resnet1.Forward(h, m, temb, o.Groups)
		h = level.Resnet2.Forward(h, m, temb, o.Groups)
		h = level.Attn.Forward(h, o.Heads)
		hiddens.Push(h)

		h = ml.Mul(h, m)
		if level.Down != nil {
			h = level.Down.Forward(h, 2, 1)
		}
		masks.Push(ml.Stride(m, -1, 2))
	}

	// the deepest level has no downsample, so its strided mask is unused
	masks.Pop()

	m, _ := masks.Peek()
	h = e.MidBlock1.Forward(h, m, temb, o.Groups)
	h = e.MidAttn.Forward(h, o.Heads)
	h = e.MidBlock2.Forward(h, m, temb, o.Groups)

	for _, level := range e.Ups {
		m, _ := masks.Pop()
		skip, _ := hiddens.Pop()

		h = ml.Concat(1, h, skip)
		h = level.Resnet1.Forward(h, m, temb, o.Groups)
		h = level.Resnet2.Forward(h, m, temb, o.Groups)
		h = level.Attn.Forward(h, o.Heads)
		h = level.Up.Forward(ml.Mul(h, m), 2, 1)
	}

	h = e.FinalBlock.Forward(h, mask, o.Groups)
	out := e.FinalConv.Forward(ml.Mul(h, mask), 1, 0)
	return ml.Mul(out, mask).Squeeze(1)
}

// missing lists required parameters that were not loaded.
func (e *Estimator) missing() []string {
	var names []string
	need := func(ok bool, name string, args ...any) {
		if !ok {
			names = append(names, fmt.Sprintf(name, args...))
		}
	}

	levels := e.opts.Levels()
	need(e.TimeMLP != nil && e.TimeMLP.FC1 != nil && e.TimeMLP.FC2 != nil, "time_mlp")
	need(len(e.Downs) == levels, "downs")
	for i, level := range e.Downs {
		need(level != nil && level.Resnet1.complete() && level.Resnet2.complete(), "downs.%d resnet", i)
		need(level != nil && level.Attn.complete(), "downs.%d.attn", i)
		need(level != nil && (i == levels-1 || level.Down != nil), "downs.%d.down", i)
	}

	need(e.MidBlock1.complete() && e.MidBlock2.complete(), "mid_block")
	need(e.MidAttn.complete(), "mid_attn")

	need(len(e.Ups) == levels-1, "ups")
	for i, level := range e.Ups {
		need(level != nil && level.Resnet1.complete() && level.Resnet2.complete(), "ups.%d resnet", i)
		need(level != nil && level.Attn.complete(), "ups.%d.attn", i)
		need(level != nil && level.Up != nil && level.Up.Weight != nil, "ups.%d.up", i)
	}

	need(e.FinalBlock.complete(), "final_block")
	need(e.FinalConv != nil && e.FinalConv.Weight != nil, "final_conv")
	return names
}

func (b *Block) complete() bool {
	return b != nil && b.Conv != nil && b.Conv.Weight != nil && b.Norm != nil
}

func (b *ResnetBlock) complete() bool {
	return b != nil && b.MLP != nil && b.Block1.complete() && b.Block2.complete()
}

func (a *LinearAttention) complete() bool {
	return a != nil && a.QKV != nil && a.Out != nil && a.G != nil
}
