// options.go - Hyperparameter des Decoders
//
// Dieses Modul enthaelt:
// - Options: Architektur- und Schedule-Parameter
// - DefaultOptions: Grad-TTS-Standardwerte
// - Umwandlung von und nach Modell-Metadaten (fs.Config / fs.KV)
package gradtts

import (
	"fmt"

	"github.com/ollama/gradtts/fs"
)

const architecture = "gradtts"

type Options struct {
	NFeats   int
	Dim      int
	DimMults []int
	Groups   int
	Heads    int
	HeadDim  int
	BetaMin  float64
	BetaMax  float64
	PEScale  float64
}

func DefaultOptions() Options {
	return Options{
		NFeats:   80,
		Dim:      64,
		DimMults: []int{1, 2, 4},
		Groups:   8,
		Heads:    4,
		HeadDim:  32,
		BetaMin:  0.05,
		BetaMax:  20,
		PEScale:  1000,
	}
}

func optionsFromConfig(c fs.Config) Options {
	o := DefaultOptions()
	o.NFeats = int(c.Uint("n_feats", uint32(o.NFeats)))
	o.Dim = int(c.Uint("dim", uint32(o.Dim)))
	o.Groups = int(c.Uint("groups", uint32(o.Groups)))
	o.Heads = int(c.Uint("attention.heads", uint32(o.Heads)))
	o.HeadDim = int(c.Uint("attention.head_dim", uint32(o.HeadDim)))
	o.BetaMin = c.Float("beta_min", o.BetaMin)
	o.BetaMax = c.Float("beta_max", o.BetaMax)
	o.PEScale = c.Float("pe_scale", o.PEScale)

	if mults := c.Uints("dim_mults"); len(mults) > 0 {
		o.DimMults = make([]int, len(mults))
		for i, m := range mults {
			o.DimMults[i] = int(m)
		}
	}

	return o
}

// KV returns the metadata stored alongside the weights.
func (o Options) KV() fs.KV {
	kv := fs.KV{"general.architecture": architecture}
	kv.SetUint("n_feats", uint32(o.NFeats))
	kv.SetUint("dim", uint32(o.Dim))
	kv.SetUint("groups", uint32(o.Groups))
	kv.SetUint("attention.heads", uint32(o.Heads))
	kv.SetUint("attention.head_dim", uint32(o.HeadDim))
	kv.SetFloat("beta_min", o.BetaMin)
	kv.SetFloat("beta_max", o.BetaMax)
	kv.SetFloat("pe_scale", o.PEScale)

	mults := make([]uint32, len(o.DimMults))
	for i, m := range o.DimMults {
		mults[i] = uint32(m)
	}
	kv.SetUints("dim_mults", mults)

	return kv
}

// Levels is the number of U-Net resolutions.
func (o Options) Levels() int {
	return len(o.DimMults)
}

// Validate reports option combinations the network cannot be built with.
func (o Options) Validate() error {
	switch {
	case o.NFeats < 1:
		return fmt.Errorf("%w: n_feats must be positive, got %d", ErrInvariantViolation, o.NFeats)
	case o.Dim < 4 || o.Dim%2 != 0:
		return fmt.Errorf("%w: dim must be even and at least 4, got %d", ErrInvariantViolation, o.Dim)
	case len(o.DimMults) == 0 || o.DimMults[0] != 1:
		return fmt.Errorf("%w: dim_mults must start with 1, got %v", ErrInvariantViolation, o.DimMults)
	case o.Groups < 1 || o.Dim%o.Groups != 0:
		return fmt.Errorf("%w: dim %d is not divisible into %d groups", ErrInvariantViolation, o.Dim, o.Groups)
	case o.Heads < 1 || o.HeadDim < 1:
		return fmt.Errorf("%w: attention needs positive heads and head_dim, got %d and %d", ErrInvariantViolation, o.Heads, o.HeadDim)
	case o.BetaMin < 0 || o.BetaMax < o.BetaMin:
		return fmt.Errorf("%w: invalid noise schedule [%v, %v]", ErrInvariantViolation, o.BetaMin, o.BetaMax)
	}

	for _, m := range o.DimMults {
		if m < 1 || (o.Dim*m)%o.Groups != 0 {
			return fmt.Errorf("%w: dim %d * mult %d is not divisible into %d groups", ErrInvariantViolation, o.Dim, m, o.Groups)
		}
	}

	return nil
}
