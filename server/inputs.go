// inputs.go - Umwandlung zwischen JSON-Feldern und Tensoren
// Enthaelt: frames, newFrames, maskTensor, melRows, newSampling, editOptions

package server

import (
	"fmt"
	"math"
	"time"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// frames ist eine Feature-Matrix, auf ein Vielfaches der U-Net-Aufloesung
// aufgefuellt. Nur die ersten length Frames sind gueltig.
type frames struct {
	mu     *ml.Tensor // [1, F, padded]
	mask   *ml.Tensor // [1, 1, padded]
	n      int        // Frames in der Anfrage
	length int
}

func newFrames(e *gradtts.Estimator, nFeats int, rows [][]float64, length int, name string) (*frames, error) {
	if len(rows) != nFeats {
		return nil, fmt.Errorf("%w: %s has %d feature rows, decoder expects %d", errInvalidRequest, name, len(rows), nFeats)
	}

	n := len(rows[0])
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", errInvalidRequest, name)
	}

	if length == 0 {
		length = n
	}

	if length < 0 || length > n {
		return nil, fmt.Errorf("%w: %s length %d outside [1, %d]", errInvalidRequest, name, length, n)
	}

	padded := e.FixLength(n)
	mu := ml.Zeros(1, nFeats, padded)
	for f, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: %s row %d has %d frames, row 0 has %d", errInvalidRequest, name, f, len(row), n)
		}
		copy(mu.Data()[f*padded:], row)
	}

	mask := ml.Zeros(1, 1, padded)
	for i := range length {
		mask.Data()[i] = 1
	}

	return &frames{mu: mu, mask: mask, n: n, length: length}, nil
}

// maskTensor legt einen Maskenvektor ueber die gleichen Frames wie f
func (f *frames) maskTensor(v []float64, name string) (*ml.Tensor, error) {
	if len(v) != f.n {
		return nil, fmt.Errorf("%w: %s has %d frames, expected %d", errInvalidRequest, name, len(v), f.n)
	}

	m := ml.Zeros(1, 1, f.mask.Dim(2))
	copy(m.Data(), v)
	return m, nil
}

// melRows schneidet die gueltigen Frames aus einem [1, F, padded] Ergebnis
func (f *frames) melRows(t *ml.Tensor) [][]float64 {
	nFeats, padded := t.Dim(1), t.Dim(2)
	rows := make([][]float64, nFeats)
	for i := range rows {
		rows[i] = make([]float64, f.length)
		copy(rows[i], t.Data()[i*padded:i*padded+f.length])
	}
	return rows
}

type sampling struct {
	steps       int
	stochastic  bool
	temperature float64
	rand        *ml.Rand
}

func newSampling(req api.Sampling) (*sampling, error) {
	s := sampling{
		steps:       req.Steps,
		stochastic:  req.Stochastic,
		temperature: req.Temperature,
	}

	if s.steps == 0 {
		s.steps = int(envconfig.Steps())
	}

	if s.steps < 1 {
		return nil, fmt.Errorf("%w: steps must be positive, got %d", errInvalidRequest, s.steps)
	}

	if s.temperature == 0 {
		s.temperature = 1
	}

	if s.temperature < 0 || math.IsNaN(s.temperature) || math.IsInf(s.temperature, 0) {
		return nil, fmt.Errorf("%w: temperature must be positive, got %v", errInvalidRequest, req.Temperature)
	}

	seed := envconfig.Seed()
	if req.Seed != nil {
		seed = *req.Seed
	} else if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	s.rand = ml.NewRand(seed)

	return &s, nil
}

// noise returns N(0, 1)/temperature.
func (s *sampling) noise(shape ...int) *ml.Tensor {
	return ml.Scale(s.rand.Normal(shape...), 1/s.temperature)
}

func editOptions(req api.SoftenOptions) gradtts.EditOptions {
	opts := gradtts.EditOptions{
		Soften:  !envconfig.NoSoften(),
		NSoften: int(envconfig.NSoften()),
	}

	if req.Soften != nil {
		opts.Soften = *req.Soften
	}

	if req.NSoften != 0 {
		opts.NSoften = req.NSoften
	}

	return opts
}
