// model.go - Grad-TTS-Decoder als registriertes Modell
//
// Dieses Modul enthaelt:
// - Model: Parameter-Struktur (Estimator) plus Optionen
// - Registrierung der Architektur "gradtts" beim model-Paket
// - New: zufaellige Initialisierung ohne Gewichtsdatei
// - Validate: Pruefung auf fehlende Tensoren nach dem Laden
package gradtts

import (
	"fmt"
	"maps"
	"strings"

	"github.com/ollama/gradtts/fs"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model"
)

type Model struct {
	model.Base
	Estimator *Estimator `param:"estimator"`

	opts Options
}

var _ model.Validator = (*Model)(nil)

func init() {
	model.Register(architecture, func(c fs.Config) (model.Model, error) {
		opts := optionsFromConfig(c)
		if err := opts.Validate(); err != nil {
			return nil, err
		}

		return skeleton(opts), nil
	})
}

// skeleton returns an empty model with level slices sized for population.
func skeleton(opts Options) *Model {
	return &Model{
		Estimator: &Estimator{
			Downs: make([]*DownLevel, opts.Levels()),
			Ups:   make([]*UpLevel, opts.Levels()-1),
			opts:  opts,
		},
		opts: opts,
	}
}

// New returns a randomly initialised decoder. Its backend is an in-memory
// store holding every parameter, so it can be saved like a loaded model.
func New(opts Options, r *ml.Rand) (*Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m := &Model{Estimator: newEstimator(opts, r), opts: opts}

	s := model.Collect(m)
	maps.Copy(s.KV(), opts.KV())
	m.Base = model.NewBase(s)
	return m, nil
}

func (m *Model) Validate() error {
	if m.Estimator == nil {
		return fmt.Errorf("%w: estimator", model.ErrMissingTensor)
	}

	if missing := m.Estimator.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", model.ErrMissingTensor, strings.Join(missing, ", "))
	}

	if w := m.Estimator.TimeMLP.FC1.Weight; w.Rank() != 2 || w.Dim(1) != m.opts.Dim {
		return fmt.Errorf("%w: time_mlp.0.weight %v does not match dim %d", ErrInvariantViolation, w.Shape(), m.opts.Dim)
	}

	return nil
}

func (m *Model) Options() Options {
	return m.opts
}

// Diffusion binds the estimator to the noise schedule. r supplies every
// noise draw of the returned process.
func (m *Model) Diffusion(r *ml.Rand) *Diffusion {
	return &Diffusion{
		Estimator: m.Estimator,
		Schedule:  Schedule{BetaMin: m.opts.BetaMin, BetaMax: m.opts.BetaMax},
		NFeats:    m.opts.NFeats,
		Rand:      r,
	}
}
