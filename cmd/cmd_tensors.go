// cmd_tensors.go - Tensor-Dateien und gemeinsame Flags der Rechen-Commands
// Hauptfunktionen: readInputs, writeOutputs, loadDecoder, samplingFromFlags, progressFunc
package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/fs/safetensors"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
	"github.com/ollama/gradtts/server"
)

// inputs sind die benannten Tensoren einer Eingabedatei
type inputs struct {
	path string
	s    *ml.Store
}

func readInputs(path string) (*inputs, error) {
	s, err := safetensors.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &inputs{path: path, s: s}, nil
}

// frames liefert einen [B, F, T] Tensor. [F, T] wird als B = 1 gelesen.
func (in *inputs) frames(name string) (*ml.Tensor, error) {
	t := in.s.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%s: missing tensor %q", in.path, name)
	}

	if t.Rank() == 2 {
		t = t.Unsqueeze(0)
	}

	if t.Rank() != 3 {
		return nil, fmt.Errorf("%s: %s must be [batch, n_feats, frames], got %v", in.path, name, t.Shape())
	}

	return t, nil
}

// mask liefert eine [B, 1, T] Maske passend zu like. Fehlt sie und ist
// optional, sind alle Frames gueltig.
func (in *inputs) mask(name string, like *ml.Tensor, optional bool) (*ml.Tensor, error) {
	t := in.s.Get(name)
	switch {
	case t == nil && optional:
		return ml.Ones(like.Dim(0), 1, like.Dim(2)), nil
	case t == nil:
		return nil, fmt.Errorf("%s: missing tensor %q", in.path, name)
	case t.Rank() == 1:
		t = t.Reshape(1, 1, t.Dim(0))
	case t.Rank() == 2:
		t = t.Unsqueeze(1)
	}

	if !slices.Equal(t.Shape(), []int{like.Dim(0), 1, like.Dim(2)}) {
		return nil, fmt.Errorf("%s: %s %v does not cover %v", in.path, name, t.Shape(), like.Shape())
	}

	return t, nil
}

// pad fuellt die Frame-Achse mit Nullen auf n auf
func pad(t *ml.Tensor, n int) *ml.Tensor {
	if t.Dim(-1) == n {
		return t
	}

	shape := t.Shape()
	shape[len(shape)-1] = n
	return ml.Place(ml.Zeros(shape...), t, -1, 0)
}

// trim schneidet die Frame-Achse auf n zurueck
func trim(t *ml.Tensor, n int) *ml.Tensor {
	if t.Dim(-1) == n {
		return t
	}
	return ml.Narrow(t, -1, 0, n)
}

func writeOutputs(path string, dtype ml.DType, names []string, ts ...*ml.Tensor) error {
	s := ml.NewStore(nil)
	for i, name := range names {
		s.Set(name, ts[i])
	}
	return safetensors.WriteFile(path, s, nil, dtype)
}

func dtypeFromFlags(cmd *cobra.Command) (ml.DType, error) {
	s, err := cmd.Flags().GetString("dtype")
	if err != nil {
		return ml.DTypeOther, err
	}
	return ml.ParseDType(strings.ToUpper(s))
}

func addDecoderFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "Path to the decoder weights (default $GRADTTS_MODELS)")
}

// loadDecoder laedt den Decoder aus --model oder GRADTTS_MODELS
func loadDecoder(cmd *cobra.Command) (*gradtts.Model, error) {
	path, _ := cmd.Flags().GetString("model")
	if path == "" {
		path = envconfig.Models()
	}

	ml.SetThreads(int(envconfig.NumThreads()))
	return server.Load(cmd.Context(), path)
}

func addSamplingFlags(cmd *cobra.Command) {
	addDecoderFlags(cmd)
	cmd.Flags().Int("steps", 0, "Number of reverse diffusion steps (default $GRADTTS_STEPS)")
	cmd.Flags().Float64("temperature", 1, "Divide the starting noise by this value")
	cmd.Flags().Uint64("seed", 0, "Random seed (default $GRADTTS_SEED, else random)")
	cmd.Flags().String("dtype", "F32", "Output data type (F64, F32, F16, BF16)")
}

type sampling struct {
	steps       int
	temperature float64
	rand        *ml.Rand
	dtype       ml.DType
}

func samplingFromFlags(cmd *cobra.Command) (*sampling, error) {
	steps, _ := cmd.Flags().GetInt("steps")
	if steps == 0 {
		steps = int(envconfig.Steps())
	}

	if steps < 1 {
		return nil, fmt.Errorf("steps must be positive, got %d", steps)
	}

	temperature, _ := cmd.Flags().GetFloat64("temperature")
	if temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %v", temperature)
	}

	seed, _ := cmd.Flags().GetUint64("seed")
	if seed == 0 {
		seed = envconfig.Seed()
	}

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	dtype, err := dtypeFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	return &sampling{steps: steps, temperature: temperature, rand: ml.NewRand(seed), dtype: dtype}, nil
}

// noise returns N(0, 1)/temperature.
func (s *sampling) noise(shape ...int) *ml.Tensor {
	return ml.Scale(s.rand.Normal(shape...), 1/s.temperature)
}

// progressFunc zeigt den Fortschritt nur, wenn w ein Terminal ist
func progressFunc(w io.Writer, label string) func(step, total int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	return func(step, total int) {
		fmt.Fprintf(w, "\r%s %d/%d", label, step, total)
		if step == total {
			fmt.Fprintln(w)
		}
	}
}
