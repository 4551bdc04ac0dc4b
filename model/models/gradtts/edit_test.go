package gradtts

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/gradtts/ml"
)

func TestSoftenKernel(t *testing.T) {
	cases := map[int][]float64{
		1: {1},
		2: {1.0 / 3, 2.0 / 3, 1.0 / 3},
		3: {1.0 / 7, 2.0 / 7, 4.0 / 7, 2.0 / 7, 1.0 / 7},
	}

	for n, want := range cases {
		if diff := cmp.Diff(want, softenKernel(n), approx); diff != "" {
			t.Errorf("n=%d kernel mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestSoftenKernelWide(t *testing.T) {
	for _, n := range []int{1023, 1024, 1100} {
		kernel := softenKernel(n)
		for i, k := range kernel {
			if math.IsNaN(k) || math.IsInf(k, 0) {
				t.Fatalf("n=%d: Gewicht %d ist %v", n, i, k)
			}
		}

		// for large n the normaliser is exactly 2 and the weights are 2^-d/2
		center := n - 1
		narrow := softenKernel(60)
		for d := range 20 {
			if kernel[center+d] != narrow[59+d] || kernel[center-d] != narrow[59-d] {
				t.Errorf("n=%d: Gewicht im Abstand %d ist %v, erwartet %v", n, d, kernel[center+d], narrow[59+d])
			}
		}

		if kernel[center] != 0.5 {
			t.Errorf("n=%d: Mitte %v statt 0.5", n, kernel[center])
		}
	}
}

func TestSoftenMaskWide(t *testing.T) {
	mask := ml.New([]float64{0, 0, 1, 0, 0}, 1, 1, 5)
	want := SoftenMask(mask, 60)

	for _, n := range []int{1024, 1100, 1 << 30} {
		got := SoftenMask(mask, n)
		for i, v := range got.Data() {
			if math.IsNaN(v) {
				t.Fatalf("n=%d: Position %d ist NaN", n, i)
			}
		}

		if diff := cmp.Diff(want.Data(), got.Data()); diff != "" {
			t.Errorf("n=%d mismatch (-want +got):\n%s", n, diff)
		}
	}

	if diff := cmp.Diff([]float64{0.125, 0.25, 1, 0.25, 0.125}, want.Data(), approx); diff != "" {
		t.Errorf("soft mask mismatch (-want +got):\n%s", diff)
	}
}

func TestSoftenMask(t *testing.T) {
	mask := ml.New([]float64{0, 0, 1, 0, 0}, 1, 1, 5)
	got := SoftenMask(mask, 2)
	want := []float64{0, 1.0 / 3, 1, 1.0 / 3, 0}
	if diff := cmp.Diff(want, got.Data(), approx); diff != "" {
		t.Errorf("soft mask mismatch (-want +got):\n%s", diff)
	}

	// replicate padding keeps an edit at the border at full strength
	edge := SoftenMask(ml.New([]float64{1, 0, 0, 0}, 1, 1, 4), 2)
	if diff := cmp.Diff([]float64{1, 1.0 / 3, 0, 0}, edge.Data(), approx); diff != "" {
		t.Errorf("edge mismatch (-want +got):\n%s", diff)
	}

	for _, v := range []float64{0, 1} {
		flat := SoftenMask(ml.Full(v, 2, 1, 6), 3)
		if diff := cmp.Diff(ml.Full(v, 2, 1, 6).Data(), flat.Data(), approx); diff != "" {
			t.Errorf("konstante Maske %v veraendert (-want +got):\n%s", v, diff)
		}
	}
}

func editInputs() (z, mu, muEdit, mask *ml.Tensor) {
	r := ml.NewRand(99)
	return r.Normal(2, 8, 8), r.Normal(2, 8, 8), r.Normal(2, 8, 8), paddedMask(8, 8, 6)
}

func TestDoubleForwardPitchZeroMask(t *testing.T) {
	z, mu, muEdit, mask := editInputs()
	d := testDiffusion(t, 1)

	xt, xtEdit, err := d.DoubleForwardPitch(z, z, mu, muEdit, mask, ml.Zeros(2, 1, 8), 3, false, DefaultEditOptions())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(xt.Data(), xtEdit.Data()); diff != "" {
		t.Errorf("leere Edit-Maske sollte das Original liefern (-xt +xtEdit):\n%s", diff)
	}

	want, err := d.ReverseDiffusion(z, mask, mu, 3, false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want.Data(), xt.Data(), approx); diff != "" {
		t.Errorf("Originaltrajektorie mismatch (-want +got):\n%s", diff)
	}
}

func TestDoubleForwardPitchFullMask(t *testing.T) {
	z, mu, muEdit, mask := editInputs()
	zEdit := ml.NewRand(5).Normal(2, 8, 8)
	d := testDiffusion(t, 1)

	_, xtEdit, err := d.DoubleForwardPitch(z, zEdit, mu, muEdit, mask, ml.Ones(2, 1, 8), 3, false, DefaultEditOptions())
	if err != nil {
		t.Fatal(err)
	}

	want, err := d.ReverseDiffusion(zEdit, mask, muEdit, 3, false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want.Data(), xtEdit.Data(), approx); diff != "" {
		t.Errorf("volle Edit-Maske sollte der unabhaengigen Trajektorie folgen (-want +got):\n%s", diff)
	}
}

func TestDoubleForwardPitchBlend(t *testing.T) {
	z, mu, muEdit, mask := editInputs()
	d := testDiffusion(t, 1)

	maskEdit := ml.Zeros(2, 8)
	for i := 2; i < 4; i++ {
		maskEdit.Set(1, 0, i)
		maskEdit.Set(1, 1, i)
	}

	xt, xtEdit, err := d.DoubleForwardPitch(z, z, mu, muEdit, mask, maskEdit, 2, false, EditOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if cmp.Equal(xt.Data(), xtEdit.Data()) {
		t.Error("Edit hat keine Wirkung")
	}

	for f := range 8 {
		for i := 6; i < 8; i++ {
			if xtEdit.At(1, f, i) != 0 {
				t.Fatalf("gepolsterte Position (%d, %d) nicht null", f, i)
			}
		}
	}
}

func TestDoubleForwardTextIdentity(t *testing.T) {
	z, mu, _, mask := editInputs()
	d := testDiffusion(t, 1)

	// moving the whole span onto itself with a full gradient mask reproduces
	// the original trajectory
	xt, xtEdit, err := d.DoubleForwardText(z, z, mu, mu, mask, mask, ml.Ones(2, 1, 8), 0, 8, 0, 8, 2, false, DefaultEditOptions())
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(xt.Data(), xtEdit.Data(), approx); diff != "" {
		t.Errorf("Identitaets-Edit mismatch (-xt +xtEdit):\n%s", diff)
	}
}

func TestDoubleForwardTextZeroGradient(t *testing.T) {
	r := ml.NewRand(17)
	z, mu, mask := r.Normal(1, 8, 8), r.Normal(1, 8, 8), ml.Ones(1, 1, 8)
	zEdit, muEdit, maskNet := r.Normal(1, 8, 12), r.Normal(1, 8, 12), paddedMask(12, 10)
	d := testDiffusion(t, 1)

	_, xtEdit, err := d.DoubleForwardText(z, zEdit, mu, muEdit, mask, maskNet, ml.Zeros(1, 1, 12), 4, 8, 2, 6, 2, false, DefaultEditOptions())
	if err != nil {
		t.Fatal(err)
	}

	want, err := d.ReverseDiffusion(zEdit, maskNet, muEdit, 2, false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want.Data(), xtEdit.Data(), approx); diff != "" {
		t.Errorf("leere Gradientenmaske mismatch (-want +got):\n%s", diff)
	}
}

func TestDoubleForwardTextRelocation(t *testing.T) {
	r := ml.NewRand(23)
	z, mu, mask := r.Normal(1, 8, 8), r.Normal(1, 8, 8), ml.Ones(1, 1, 8)
	zEdit, muEdit, maskNet := r.Normal(1, 8, 8), r.Normal(1, 8, 8), ml.Ones(1, 1, 8)
	d := testDiffusion(t, 1)

	// a full gradient mask turns the edit update into the relocated drift
	// of the original, which is zero outside the target span
	grad := ml.Ones(1, 1, 8)
	_, xtEdit, err := d.DoubleForwardText(z, zEdit, mu, muEdit, mask, maskNet, grad, 0, 2, 4, 6, 1, false, EditOptions{})
	if err != nil {
		t.Fatal(err)
	}

	for f := range 8 {
		for i := 2; i < 8; i++ {
			if xtEdit.At(0, f, i) != zEdit.At(0, f, i) {
				t.Fatalf("Position (%d, %d) ausserhalb des Zielbereichs veraendert", f, i)
			}
		}
	}

	xt := ml.Mul(z, mask)
	est := d.Estimator.Forward(xt, mask, mu, []float64{0.5})
	dxt := drift(xt, mu, est, d.Schedule.Noise(0.5))
	for f := range 8 {
		for i := range 2 {
			want := zEdit.At(0, f, i) - dxt.At(0, f, i+4)
			if got := xtEdit.At(0, f, i); got-want > 1e-9 || want-got > 1e-9 {
				t.Errorf("Position (%d, %d): %v, erwartet %v", f, i, got, want)
			}
		}
	}
}

func TestEditErrors(t *testing.T) {
	z, mu, muEdit, mask := editInputs()
	d := testDiffusion(t, 1)
	opts := DefaultEditOptions()

	check := func(name string, err error) {
		t.Helper()
		if !errors.Is(err, ErrInvariantViolation) {
			t.Errorf("%s: erwartet ErrInvariantViolation, bekommen %v", name, err)
		}
	}

	_, _, err := d.DoubleForwardPitch(z, z, mu, muEdit, mask, ml.Zeros(2, 1, 8), 2, true, opts)
	check("pitch stochastisch", err)

	_, _, err = d.DoubleForwardPitch(z, z, mu, muEdit, mask, ml.Zeros(2, 1, 4), 2, false, opts)
	check("pitch Maskenform", err)

	_, _, err = d.DoubleForwardPitch(z, z, mu, muEdit, mask, ml.Zeros(2, 1, 8), 2, false, EditOptions{Soften: true})
	check("n_soften", err)

	grad := ml.Zeros(2, 1, 8)
	_, _, err = d.DoubleForwardText(z, z, mu, muEdit, mask, mask, grad, 0, 2, 0, 2, 2, true, opts)
	check("text stochastisch", err)

	for name, span := range map[string][4]int{
		"i2 > j2":      {0, 0, 4, 2},
		"j2 zu gross":  {0, 0, 2, 9},
		"i1 negativ":   {-1, 0, 0, 2},
		"Ziel zu lang": {6, 8, 0, 4},
	} {
		_, _, err = d.DoubleForwardText(z, z, mu, muEdit, mask, mask, grad, span[0], span[1], span[2], span[3], 2, false, opts)
		check(name, err)
	}
}
