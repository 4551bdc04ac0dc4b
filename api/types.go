// Package api - Request- und Response-Typen
// Enthaelt: StatusError, Metrics, SynthesizeRequest/Response, EditPitchRequest,
// EditTextRequest, EditResponse, ShowRequest/Response
package api

import (
	"fmt"
	"io"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the gradtts server logs for details"
	}
}

// Metrics describes where the time of a request went.
type Metrics struct {
	TotalDuration     time.Duration `json:"total_duration,omitempty"`
	QueueDuration     time.Duration `json:"queue_duration,omitempty"`
	DiffusionDuration time.Duration `json:"diffusion_duration,omitempty"`
}

func (m *Metrics) Summary(w io.Writer) {
	if m.TotalDuration > 0 {
		fmt.Fprintf(w, "total duration:       %v\n", m.TotalDuration)
	}

	if m.QueueDuration > 0 {
		fmt.Fprintf(w, "queue duration:       %v\n", m.QueueDuration)
	}

	if m.DiffusionDuration > 0 {
		fmt.Fprintf(w, "diffusion duration:   %v\n", m.DiffusionDuration)
	}
}

// Sampling holds the reverse-diffusion settings shared by every request.
type Sampling struct {
	// Steps is the number of Euler steps. Zero uses the server default.
	Steps int `json:"steps,omitempty"`

	// Stochastic selects the stochastic update. Edit routes reject it.
	Stochastic bool `json:"stochastic,omitempty"`

	// Temperature scales the starting noise as z = mu + N(0,1)/temperature.
	// Zero means 1.
	Temperature float64 `json:"temperature,omitempty"`

	// Seed fixes the noise. A nil seed draws from the server default.
	Seed *uint64 `json:"seed,omitempty"`
}

// SynthesizeRequest decodes one conditioning mean into a mel-spectrogram.
type SynthesizeRequest struct {
	// Mu is the encoder output laid out as [n_feats][frames].
	Mu [][]float64 `json:"mu"`

	// Length is the number of valid frames. Zero means all of Mu.
	Length int `json:"length,omitempty"`

	Sampling
}

type SynthesizeResponse struct {
	Mel   [][]float64 `json:"mel"`
	Steps int         `json:"steps"`

	Metrics
}

// SoftenOptions control smoothing of the edit mask.
type SoftenOptions struct {
	Soften  *bool `json:"soften,omitempty"`
	NSoften int   `json:"n_soften,omitempty"`
}

// EditPitchRequest decodes Mu and MuEdit in lockstep. Frames where
// EditMask is one follow the edited trajectory.
type EditPitchRequest struct {
	Mu       [][]float64 `json:"mu"`
	MuEdit   [][]float64 `json:"mu_edit"`
	EditMask []float64   `json:"edit_mask"`
	Length   int         `json:"length,omitempty"`

	Sampling
	SoftenOptions
}

// EditTextRequest moves frames [I2, J2) of the original trajectory to
// frame I1 of the edited one. J1 is accepted and ignored.
type EditTextRequest struct {
	Mu           [][]float64 `json:"mu"`
	MuEdit       [][]float64 `json:"mu_edit"`
	Length       int         `json:"length,omitempty"`
	LengthEdit   int         `json:"length_edit,omitempty"`
	EditMaskGrad []float64   `json:"edit_mask_grad"`

	I1 int `json:"i1"`
	J1 int `json:"j1"`
	I2 int `json:"i2"`
	J2 int `json:"j2"`

	Sampling
	SoftenOptions
}

type EditResponse struct {
	Mel     [][]float64 `json:"mel"`
	MelEdit [][]float64 `json:"mel_edit"`
	Steps   int         `json:"steps"`

	Metrics
}

type ShowRequest struct {
	// Verbose adds the full tensor list.
	Verbose bool `json:"verbose,omitempty"`
}

// ModelDetails are the hyperparameters of the loaded decoder.
type ModelDetails struct {
	Architecture string  `json:"architecture"`
	NFeats       int     `json:"n_feats"`
	Dim          int     `json:"dim"`
	DimMults     []int   `json:"dim_mults"`
	Groups       int     `json:"groups"`
	Heads        int     `json:"heads"`
	HeadDim      int     `json:"head_dim"`
	BetaMin      float64 `json:"beta_min"`
	BetaMax      float64 `json:"beta_max"`
	PEScale      float64 `json:"pe_scale"`
}

type TensorInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

type ShowResponse struct {
	Details    ModelDetails `json:"details"`
	Parameters int          `json:"parameters"`
	Multiple   int          `json:"frame_multiple"`
	Tensors    []TensorInfo `json:"tensors,omitempty"`
}
