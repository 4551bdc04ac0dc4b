package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/gradtts/fs/safetensors"
	"github.com/ollama/gradtts/ml"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	c := NewCLI()
	c.SetArgs(args)
	c.SetOut(&out)
	c.SetErr(&out)
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

// testDecoder writes a small random decoder and returns its path.
func testDecoder(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "decoder.safetensors")
	out, err := run(t, "init", path,
		"--n-feats", "8",
		"--dim", "8",
		"--dim-mults", "1,2",
		"--groups", "2",
		"--heads", "2",
		"--head-dim", "4",
		"--seed", "1",
		"--dtype", "f64",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	return path
}

func writeInputs(t *testing.T, tensors map[string]*ml.Tensor) string {
	t.Helper()

	s := ml.NewStore(nil)
	for _, name := range []string{"mel", "mu", "mu_edit", "mask", "mask_edit", "edit_mask", "edit_mask_grad"} {
		if v, ok := tensors[name]; ok {
			s.Set(name, v)
		}
	}

	path := filepath.Join(t.TempDir(), "inputs.safetensors")
	require.NoError(t, safetensors.WriteFile(path, s, nil, ml.DTypeF64))
	return path
}

func readOutputs(t *testing.T, path string) *ml.Store {
	t.Helper()

	s, err := safetensors.ReadFile(path)
	require.NoError(t, err)
	return s
}

func TestShowLocal(t *testing.T) {
	path := testDecoder(t)

	out, err := run(t, "show", path, "--verbose")
	require.NoError(t, err)

	for _, want := range []string{"Decoder", "n_feats", "dim_mults", "1, 2", "Noise schedule", "beta_max", "Tensors", "estimator.final_conv.weight"} {
		assert.Contains(t, out, want)
	}

	out, err = run(t, "show", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "Tensors")
}

func TestSynth(t *testing.T) {
	model := testDecoder(t)
	r := ml.NewRand(9)
	in := writeInputs(t, map[string]*ml.Tensor{
		"mu":   r.Normal(8, 5),
		"mask": ml.New([]float64{1, 1, 1, 1, 0}, 1, 5),
	})

	first := filepath.Join(t.TempDir(), "mel.safetensors")
	_, err := run(t, "synth", in, first, "--model", model, "--steps", "2", "--seed", "3", "--dtype", "F64")
	require.NoError(t, err)

	mel := readOutputs(t, first).Get("mel")
	require.NotNil(t, mel)
	assert.Equal(t, []int{1, 8, 5}, mel.Shape())
	for f := range 8 {
		assert.Zero(t, mel.At(0, f, 4), "maskierte Frames bleiben null")
	}

	second := filepath.Join(t.TempDir(), "mel.safetensors")
	_, err = run(t, "synth", in, second, "--model", model, "--steps", "2", "--seed", "3", "--dtype", "F64")
	require.NoError(t, err)
	assert.Equal(t, mel.Data(), readOutputs(t, second).Get("mel").Data())
}

func TestSynthErrors(t *testing.T) {
	model := testDecoder(t)
	out := filepath.Join(t.TempDir(), "mel.safetensors")

	missing := writeInputs(t, map[string]*ml.Tensor{"mask": ml.Ones(1, 4)})
	_, err := run(t, "synth", missing, out, "--model", model)
	assert.ErrorContains(t, err, `missing tensor "mu"`)

	badMask := writeInputs(t, map[string]*ml.Tensor{"mu": ml.Zeros(8, 4), "mask": ml.Ones(1, 3)})
	_, err = run(t, "synth", badMask, out, "--model", model)
	assert.ErrorContains(t, err, "does not cover")

	ok := writeInputs(t, map[string]*ml.Tensor{"mu": ml.Zeros(8, 4)})
	_, err = run(t, "synth", ok, out, "--model", model, "--temperature", "0")
	assert.ErrorContains(t, err, "temperature")

	_, err = run(t, "synth", ok, out, "--model", model, "--dtype", "I8")
	assert.Error(t, err)

	_, err = run(t, "synth", ok, out, "--model", filepath.Join(t.TempDir(), "missing.safetensors"))
	assert.Error(t, err)
}

func TestEditPitch(t *testing.T) {
	model := testDecoder(t)
	mu := ml.NewRand(4).Normal(8, 6)
	in := writeInputs(t, map[string]*ml.Tensor{
		"mu":        mu,
		"mu_edit":   mu,
		"edit_mask": ml.Zeros(6),
	})

	out := filepath.Join(t.TempDir(), "edit.safetensors")
	_, err := run(t, "edit", "pitch", in, out, "--model", model, "--steps", "2", "--seed", "1", "--dtype", "F64")
	require.NoError(t, err)

	s := readOutputs(t, out)
	require.NotNil(t, s.Get("mel"))
	require.NotNil(t, s.Get("mel_edit"))
	assert.Equal(t, []int{1, 8, 6}, s.Get("mel").Shape())
	assert.Equal(t, s.Get("mel").Data(), s.Get("mel_edit").Data(), "ohne Edit-Maske folgt der Edit dem Original")

	other := writeInputs(t, map[string]*ml.Tensor{
		"mu":        mu,
		"mu_edit":   ml.Zeros(8, 4),
		"edit_mask": ml.Zeros(6),
	})
	_, err = run(t, "edit", "pitch", other, out, "--model", model, "--steps", "2")
	assert.ErrorContains(t, err, "differ")
}

func TestEditText(t *testing.T) {
	model := testDecoder(t)
	r := ml.NewRand(5)
	in := writeInputs(t, map[string]*ml.Tensor{
		"mu":             r.Normal(8, 5),
		"mu_edit":        r.Normal(8, 7),
		"edit_mask_grad": ml.New([]float64{0, 0, 1, 1, 0, 0, 0}, 7),
	})

	out := filepath.Join(t.TempDir(), "edit.safetensors")
	_, err := run(t, "edit", "text", in, out,
		"--model", model, "--steps", "2", "--seed", "1",
		"--i1", "2", "--j1", "4", "--i2", "1", "--j2", "3",
	)
	require.NoError(t, err)

	s := readOutputs(t, out)
	assert.Equal(t, []int{1, 8, 5}, s.Get("mel").Shape())
	assert.Equal(t, []int{1, 8, 7}, s.Get("mel_edit").Shape())

	_, err = run(t, "edit", "text", in, out, "--model", model, "--steps", "2", "--i2", "1", "--j2", "12")
	assert.ErrorContains(t, err, "invariant violation")

	// mu is padded to 6 frames, but only 5 are real
	_, err = run(t, "edit", "text", in, out, "--model", model, "--steps", "2", "--i2", "1", "--j2", "6")
	assert.ErrorContains(t, err, "does not fit")

	_, err = run(t, "edit", "text", in, out, "--model", model, "--steps", "2", "--i1", "6", "--i2", "1", "--j2", "3")
	assert.ErrorContains(t, err, "does not fit")
}

func TestLoss(t *testing.T) {
	model := testDecoder(t)
	r := ml.NewRand(6)
	in := writeInputs(t, map[string]*ml.Tensor{
		"mel": r.Normal(8, 4),
		"mu":  r.Normal(8, 4),
	})

	first, err := run(t, "loss", in, "--model", model, "--seed", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "loss: "), first)

	second, err := run(t, "loss", in, "--model", model, "--seed", "2")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for _, offset := range []string{"0.7", "0"} {
		_, err = run(t, "loss", in, "--model", model, "--offset", offset)
		assert.ErrorContains(t, err, "offset", offset)
	}
}

func TestConvertMissing(t *testing.T) {
	_, err := run(t, "convert", filepath.Join(t.TempDir(), "missing.pt"), filepath.Join(t.TempDir(), "out.safetensors"))
	assert.Error(t, err)
}

func TestInitInvalidOptions(t *testing.T) {
	_, err := run(t, "init", filepath.Join(t.TempDir(), "bad.safetensors"), "--dim", "7")
	assert.ErrorContains(t, err, "invariant violation")
}

func TestEnvDocs(t *testing.T) {
	c := NewCLI()

	serve, _, err := c.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Contains(t, serve.UsageString(), "GRADTTS_MAX_QUEUE")
	assert.Contains(t, serve.UsageString(), "GRADTTS_LOAD_TIMEOUT")

	synth, _, err := c.Find([]string{"synth"})
	require.NoError(t, err)
	assert.Contains(t, synth.UsageString(), "GRADTTS_STEPS")
	assert.NotContains(t, synth.UsageString(), "GRADTTS_ORIGINS")
}
