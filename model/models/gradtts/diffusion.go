// diffusion.go - Vorwaerts- und Rueckwaerts-SDE des Decoders
//
// Dieses Modul enthaelt:
// - ForwardDiffusion / LossT / ComputeLoss: Verrauschen und Trainingsverlust
// - ReverseDiffusion / Forward: Euler-Integration der Rueckwaerts-SDE
//
// Alle Zufallszahlen kommen aus Diffusion.Rand.
package gradtts

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ollama/gradtts/ml"
)

// ErrInvariantViolation marks calls that break the decoder's contract,
// e.g. mismatched shapes or the stochastic solver on an edit path.
var ErrInvariantViolation = errors.New("invariant violation")

// DefaultLossOffset keeps sampled loss times away from 0 and 1.
const DefaultLossOffset = 1e-5

type Diffusion struct {
	Estimator *Estimator
	Schedule  Schedule

	// NFeats normalises the loss per valid element.
	NFeats int

	Rand *ml.Rand

	// Progress is called after every integration step if set.
	Progress func(step, total int)
}

// perBatch returns f(t_b) as a [B, 1, 1] tensor for broadcasting.
func perBatch(t []float64, f func(float64) float64) *ml.Tensor {
	out := ml.Zeros(len(t), 1, 1)
	for i, tb := range t {
		out.Data()[i] = f(tb)
	}
	return out
}

func repeat(t float64, n int) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = t
	}
	return ts
}

// checkTimes panics unless t holds one time in (0, 1) per batch element.
func checkTimes(t []float64, batch int) {
	if len(t) != batch {
		panic(fmt.Sprintf("gradtts: %d times for batch of %d", len(t), batch))
	}

	for _, tb := range t {
		if !(tb > 0 && tb < 1) {
			panic(fmt.Sprintf("gradtts: diffusion time %v outside (0, 1)", tb))
		}
	}
}

// ForwardDiffusion samples x_t from the closed-form marginal of the forward
// SDE started at x0. It returns x_t and the noise z, both masked. It panics
// on times outside (0, 1).
func (d *Diffusion) ForwardDiffusion(x0, mask, mu *ml.Tensor, t []float64) (xt, z *ml.Tensor) {
	checkTimes(t, x0.Dim(0))
	mask = rank3Mask(mask)

	decay := perBatch(t, func(tb float64) float64 {
		return math.Exp(-0.5 * d.Schedule.CumulativeNoise(tb))
	})
	std := perBatch(t, d.std)

	mean := ml.Add(ml.Mul(x0, decay), ml.Mul(mu, ml.AddScalar(ml.Scale(decay, -1), 1)))
	z = d.Rand.Normal(x0.Shape()...)
	xt = ml.Add(mean, ml.Mul(z, std))
	return ml.Mul(xt, mask), ml.Mul(z, mask)
}

// std is the standard deviation of the forward marginal at t.
func (d *Diffusion) std(t float64) float64 {
	return math.Sqrt(1 - math.Exp(-d.Schedule.CumulativeNoise(t)))
}

// LossT is the score matching loss at fixed times t, averaged over valid
// elements.
func (d *Diffusion) LossT(x0, mask, mu *ml.Tensor, t []float64) float64 {
	xt, z := d.ForwardDiffusion(x0, mask, mu, t)

	est := d.Estimator.Forward(xt, mask, mu, t)
	est = ml.Mul(est, perBatch(t, d.std))

	return ml.SumSquares(ml.Add(est, z)) / (ml.Sum(mask) * float64(d.NFeats))
}

// ComputeLoss draws one time per batch element and returns LossT.
func (d *Diffusion) ComputeLoss(x0, mask, mu *ml.Tensor) float64 {
	return d.ComputeLossOffset(x0, mask, mu, DefaultLossOffset)
}

// ComputeLossOffset is ComputeLoss with sampled times clamped to
// [offset, 1-offset]. offset must lie in (0, 0.5].
func (d *Diffusion) ComputeLossOffset(x0, mask, mu *ml.Tensor, offset float64) float64 {
	t := d.Rand.Uniform(0, 1, x0.Dim(0)).Data()
	for i := range t {
		t[i] = min(max(t[i], offset), 1-offset)
	}

	return d.LossT(x0, mask, mu, t)
}

// drift is the deterministic reverse step 0.5*(mu - x - est)*beta*h.
func drift(x, mu, est *ml.Tensor, betaH float64) *ml.Tensor {
	return ml.Scale(ml.Sub(ml.Sub(mu, x), est), 0.5*betaH)
}

func (d *Diffusion) progress(step, total int) {
	if d.Progress != nil {
		d.Progress(step, total)
	}
}

func checkSteps(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: need at least one step, got %d", ErrInvariantViolation, n)
	}
	return nil
}

// ReverseDiffusion integrates the reverse SDE from z over n equal steps
// with midpoint times 1-(i+0.5)/n. With stoc set the stochastic solver
// adds Gaussian noise every step.
func (d *Diffusion) ReverseDiffusion(z, mask, mu *ml.Tensor, n int, stoc bool) (*ml.Tensor, error) {
	if err := d.Estimator.CheckShapes(z, mask, mu); err != nil {
		return nil, err
	}

	if err := checkSteps(n); err != nil {
		return nil, err
	}

	mask = rank3Mask(mask)
	h := 1 / float64(n)
	xt := ml.Mul(z, mask)
	for i := range n {
		start := time.Now()
		t := 1 - (float64(i)+0.5)*h
		betaH := d.Schedule.Noise(t) * h

		est := d.Estimator.Forward(xt, mask, mu, repeat(t, z.Dim(0)))

		var dxt *ml.Tensor
		if stoc {
			dxt = ml.Scale(ml.Sub(ml.Scale(ml.Sub(mu, xt), 0.5), est), betaH)
			dxt = ml.Add(dxt, ml.Scale(d.Rand.Normal(z.Shape()...), math.Sqrt(betaH)))
		} else {
			dxt = drift(xt, mu, est, betaH)
		}

		xt = ml.Mul(ml.Sub(xt, dxt), mask)

		slog.Debug("reverse diffusion step", "step", i+1, "total", n, "t", t, "duration", time.Since(start))
		d.progress(i+1, n)
	}

	return xt, nil
}

// Forward generates features from noise z. It is ReverseDiffusion.
func (d *Diffusion) Forward(z, mask, mu *ml.Tensor, n int, stoc bool) (*ml.Tensor, error) {
	return d.ReverseDiffusion(z, mask, mu, n, stoc)
}
