// edit.go - Bearbeitung ueber zwei parallele Trajektorien
//
// Dieses Modul enthaelt:
// - SoftenMask: weicher Uebergang an den Raendern einer Edit-Maske
// - DoubleForwardPitch: Edit mit gleicher Laenge (z.B. Tonhoehe)
// - DoubleForwardText: Edit mit verschobenem Bereich (z.B. ersetzte Woerter)
//
// Beide laufen nur mit dem deterministischen Loeser.
package gradtts

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ollama/gradtts/ml"
)

type EditOptions struct {
	// Soften blurs the edit mask boundary before blending.
	Soften bool

	// NSoften is the half width of the softening kernel in frames.
	NSoften int
}

func DefaultEditOptions() EditOptions {
	return EditOptions{Soften: true, NSoften: 20}
}

func (o EditOptions) validate() error {
	if o.Soften && o.NSoften < 1 {
		return fmt.Errorf("%w: n_soften must be positive, got %d", ErrInvariantViolation, o.NSoften)
	}
	return nil
}

// softenReach bounds the softening half width. Kernel weights 2^-d with
// d >= softenReach underflow to zero and the normaliser is exactly 2, so
// wider kernels give the same result.
const softenReach = 1076

// softenKernel returns 2^((n-1)-|n-1-i|) for i in [0, 2n-1), normalised by
// the sum of its first n entries. Both are scaled by 2^(1-n) so the weights
// stay finite for every n.
func softenKernel(n int) []float64 {
	norm := 2 - math.Exp2(float64(1-n))
	kernel := make([]float64, 2*n-1)
	for i := range kernel {
		kernel[i] = math.Exp2(-float64(abs(n-1-i))) / norm
	}
	return kernel
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SoftenMask smooths mask along its last axis with a triangular
// power-of-two kernel and returns mask + (1-mask)*smoothed. The ends are
// replicate padded.
func SoftenMask(mask *ml.Tensor, n int) *ml.Tensor {
	if n < 1 {
		panic(fmt.Sprintf("gradtts: invalid softening width %d", n))
	}

	n = min(n, softenReach)

	kernel := softenKernel(n)
	padded := ml.ReplicatePad(mask, -1, n-1, n-1)

	t := mask.Dim(-1)
	width := padded.Dim(-1)
	smoothed := ml.Zeros(mask.Shape()...)
	src, dst := padded.Data(), smoothed.Data()
	for row := range mask.Len() / t {
		in := src[row*width : (row+1)*width]
		for j := range t {
			var sum float64
			for i, k := range kernel {
				sum += k * in[j+i]
			}
			dst[row*t+j] = sum
		}
	}

	return ml.Add(mask, ml.Mul(ml.AddScalar(ml.Scale(mask, -1), 1), smoothed))
}

func checkEditMask(m, like *ml.Tensor, name string) (*ml.Tensor, error) {
	m = rank3Mask(m)
	if m.Rank() != 3 || m.Dim(0) != like.Dim(0) || m.Dim(1) != 1 || m.Dim(2) != like.Dim(2) {
		return nil, fmt.Errorf("%w: %s %v does not match %v", ErrInvariantViolation, name, m.Shape(), like.Shape())
	}
	return m, nil
}

// blend returns (1-g)*own + g*other.
func blend(g, own, other *ml.Tensor) *ml.Tensor {
	return ml.Add(ml.Mul(ml.AddScalar(ml.Scale(g, -1), 1), own), ml.Mul(g, other))
}

// DoubleForwardPitch runs the original and the edited trajectory in
// lockstep. Inside maskEdit the edited trajectory follows its own drift
// from muEdit, outside it follows the original drift. Both share mask.
func (d *Diffusion) DoubleForwardPitch(z, zEdit, mu, muEdit, mask, maskEdit *ml.Tensor, n int, stoc bool, opts EditOptions) (xt, xtEdit *ml.Tensor, err error) {
	if stoc {
		return nil, nil, fmt.Errorf("%w: stochastic solver is not supported for editing", ErrInvariantViolation)
	}

	if err := d.Estimator.CheckShapes(z, mask, mu); err != nil {
		return nil, nil, err
	}

	if err := d.Estimator.CheckShapes(zEdit, mask, muEdit); err != nil {
		return nil, nil, err
	}

	if err := checkSteps(n); err != nil {
		return nil, nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, nil, err
	}

	maskEdit, err = checkEditMask(maskEdit, z, "edit mask")
	if err != nil {
		return nil, nil, err
	}

	if opts.Soften {
		maskEdit = SoftenMask(maskEdit, opts.NSoften)
	}

	mask = rank3Mask(mask)
	h := 1 / float64(n)
	xt = ml.Mul(z, mask)
	xtEdit = ml.Mul(zEdit, mask)
	for i := range n {
		start := time.Now()
		t := 1 - (float64(i)+0.5)*h
		betaH := d.Schedule.Noise(t) * h
		ts := repeat(t, z.Dim(0))

		dxt := drift(xt, mu, d.Estimator.Forward(xt, mask, mu, ts), betaH)
		dxtEdit := drift(xtEdit, muEdit, d.Estimator.Forward(xtEdit, mask, muEdit, ts), betaH)

		xt = ml.Mul(ml.Sub(xt, dxt), mask)
		xtEdit = ml.Mul(ml.Sub(xtEdit, blend(maskEdit, dxt, dxtEdit)), mask)

		slog.Debug("pitch edit step", "step", i+1, "total", n, "t", t, "duration", time.Since(start))
		d.progress(i+1, n)
	}

	return xt, xtEdit, nil
}

// CheckSpan returns an error unless frames [i2, j2) of src frames can be
// moved to i1 of dst frames. Callers that pad their inputs should check against the
// unpadded frame counts.
func CheckSpan(i1, i2, j2, src, dst int) error {
	if i2 < 0 || i2 > j2 || j2 > src || i1 < 0 || i1+(j2-i2) > dst {
		return fmt.Errorf("%w: span [%d, %d) of %d frames does not fit at %d of %d frames", ErrInvariantViolation, i2, j2, src, i1, dst)
	}
	return nil
}

// DoubleForwardText runs the original trajectory over mask and the edited
// one over maskEditNet. Each step the original drift of frames [i2, j2) is
// moved to [i1, i1+j2-i2) and blended with the edited drift under
// maskEditGrad. j1 marks the end of the edited span and does not enter the
// update.
func (d *Diffusion) DoubleForwardText(z, zEdit, mu, muEdit, mask, maskEditNet, maskEditGrad *ml.Tensor, i1, j1, i2, j2, n int, stoc bool, opts EditOptions) (xt, xtEdit *ml.Tensor, err error) {
	if stoc {
		return nil, nil, fmt.Errorf("%w: stochastic solver is not supported for editing", ErrInvariantViolation)
	}

	if err := d.Estimator.CheckShapes(z, mask, mu); err != nil {
		return nil, nil, err
	}

	if err := d.Estimator.CheckShapes(zEdit, maskEditNet, muEdit); err != nil {
		return nil, nil, err
	}

	if z.Dim(0) != zEdit.Dim(0) || z.Dim(1) != zEdit.Dim(1) {
		return nil, nil, fmt.Errorf("%w: source %v and edit %v differ in batch or feature bins", ErrInvariantViolation, z.Shape(), zEdit.Shape())
	}

	if err := checkSteps(n); err != nil {
		return nil, nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, nil, err
	}

	maskEditGrad, err = checkEditMask(maskEditGrad, zEdit, "edit gradient mask")
	if err != nil {
		return nil, nil, err
	}

	if err := CheckSpan(i1, i2, j2, z.Dim(2), zEdit.Dim(2)); err != nil {
		return nil, nil, err
	}

	if opts.Soften {
		maskEditGrad = SoftenMask(maskEditGrad, opts.NSoften)
	}

	slog.Debug("text edit", "source", fmt.Sprintf("[%d, %d)", i2, j2), "target", fmt.Sprintf("[%d, %d)", i1, j1))

	mask = rank3Mask(mask)
	maskEditNet = rank3Mask(maskEditNet)
	h := 1 / float64(n)
	xt = ml.Mul(z, mask)
	xtEdit = ml.Mul(zEdit, maskEditNet)
	for i := range n {
		start := time.Now()
		t := 1 - (float64(i)+0.5)*h
		betaH := d.Schedule.Noise(t) * h
		ts := repeat(t, z.Dim(0))

		dxt := drift(xt, mu, d.Estimator.Forward(xt, mask, mu, ts), betaH)
		dxtEdit := drift(xtEdit, muEdit, d.Estimator.Forward(xtEdit, maskEditNet, muEdit, ts), betaH)

		xt = ml.Mul(ml.Sub(xt, dxt), mask)

		dxtTrg := ml.Place(ml.Zeros(dxtEdit.Shape()...), ml.Narrow(dxt, -1, i2, j2-i2), -1, i1)
		xtEdit = ml.Mul(ml.Sub(xtEdit, blend(maskEditGrad, dxtEdit, dxtTrg)), maskEditNet)

		slog.Debug("text edit step", "step", i+1, "total", n, "t", t, "duration", time.Since(start))
		d.progress(i+1, n)
	}

	return xt, xtEdit, nil
}
