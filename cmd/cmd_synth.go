// cmd_synth.go - Synthese und Loss aus Tensor-Dateien
// Hauptfunktionen: SynthHandler, LossHandler
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// SynthHandler - Dekodiert mu (und optional mask) aus INPUT nach mel in OUTPUT
func SynthHandler(cmd *cobra.Command, args []string) error {
	in, err := readInputs(args[0])
	if err != nil {
		return err
	}

	mu, err := in.frames("mu")
	if err != nil {
		return err
	}

	mask, err := in.mask("mask", mu, true)
	if err != nil {
		return err
	}

	smp, err := samplingFromFlags(cmd)
	if err != nil {
		return err
	}

	stochastic, _ := cmd.Flags().GetBool("stochastic")

	m, err := loadDecoder(cmd)
	if err != nil {
		return err
	}

	n := mu.Dim(2)
	padded := m.Estimator.FixLength(n)
	mu, mask = pad(mu, padded), pad(mask, padded)

	d := m.Diffusion(smp.rand)
	d.Progress = progressFunc(cmd.ErrOrStderr(), "synthesizing")

	z := ml.Add(mu, smp.noise(mu.Shape()...))
	mel, err := d.Forward(z, mask, mu, smp.steps, stochastic)
	if err != nil {
		return err
	}

	return writeOutputs(args[1], smp.dtype, []string{"mel"}, trim(mel, n))
}

func newSynthCmd() *cobra.Command {
	synthCmd := &cobra.Command{
		Use:   "synth INPUT OUTPUT",
		Short: "Decode a mel-spectrogram from encoder output",
		Long: `Decode a mel-spectrogram from encoder output.

INPUT is a safetensors file holding "mu" [batch, n_feats, frames] and an
optional "mask" [batch, frames]. OUTPUT receives "mel".`,
		Args: cobra.ExactArgs(2),
		RunE: SynthHandler,
	}

	addSamplingFlags(synthCmd)
	synthCmd.Flags().Bool("stochastic", false, "Use the stochastic reverse update")
	return synthCmd
}

// LossHandler - Berechnet den Diffusions-Loss fuer mel und mu aus INPUT
func LossHandler(cmd *cobra.Command, args []string) error {
	in, err := readInputs(args[0])
	if err != nil {
		return err
	}

	x0, err := in.frames("mel")
	if err != nil {
		return err
	}

	mu, err := in.frames("mu")
	if err != nil {
		return err
	}

	mask, err := in.mask("mask", x0, true)
	if err != nil {
		return err
	}

	if !ml.SameShape(x0, mu) {
		return fmt.Errorf("%s: mel %v and mu %v differ", in.path, x0.Shape(), mu.Shape())
	}

	offset, _ := cmd.Flags().GetFloat64("offset")
	if offset <= 0 || offset >= 0.5 {
		return fmt.Errorf("offset must be in (0, 0.5), got %v", offset)
	}

	seed, _ := cmd.Flags().GetUint64("seed")

	m, err := loadDecoder(cmd)
	if err != nil {
		return err
	}

	padded := m.Estimator.FixLength(x0.Dim(2))
	x0, mu, mask = pad(x0, padded), pad(mu, padded), pad(mask, padded)
	if err := m.Estimator.CheckShapes(x0, mask, mu); err != nil {
		return err
	}

	loss := m.Diffusion(ml.NewRand(seed)).ComputeLossOffset(x0, mask, mu, offset)
	fmt.Fprintf(cmd.OutOrStdout(), "loss: %.6f\n", loss)
	return nil
}

func newLossCmd() *cobra.Command {
	lossCmd := &cobra.Command{
		Use:   "loss INPUT",
		Short: "Evaluate the diffusion loss of a target mel-spectrogram",
		Long: `Evaluate the diffusion loss of a target mel-spectrogram.

INPUT is a safetensors file holding "mel" and "mu" [batch, n_feats, frames]
and an optional "mask" [batch, frames].`,
		Args: cobra.ExactArgs(1),
		RunE: LossHandler,
	}

	addDecoderFlags(lossCmd)
	lossCmd.Flags().Uint64("seed", 0, "Random seed for the sampled times and noise")
	lossCmd.Flags().Float64("offset", gradtts.DefaultLossOffset, "Keep sampled times inside [offset, 1-offset]")
	return lossCmd
}
