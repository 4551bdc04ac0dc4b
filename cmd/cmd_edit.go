// cmd_edit.go - Edit-Commands ueber zwei Trajektorien
// Hauptfunktionen: EditPitchHandler, EditTextHandler, newEditCmd
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

func addEditFlags(cmd *cobra.Command) {
	addSamplingFlags(cmd)
	cmd.Flags().Bool("no-soften", false, "Use the edit mask as is (default $GRADTTS_NO_SOFTEN)")
	cmd.Flags().Int("n-soften", 0, "Half width of the mask softening kernel (default $GRADTTS_N_SOFTEN)")
}

func editOptionsFromFlags(cmd *cobra.Command) gradtts.EditOptions {
	noSoften, _ := cmd.Flags().GetBool("no-soften")
	nSoften, _ := cmd.Flags().GetInt("n-soften")
	if nSoften == 0 {
		nSoften = int(envconfig.NSoften())
	}

	return gradtts.EditOptions{
		Soften:  !noSoften && !envconfig.NoSoften(),
		NSoften: nSoften,
	}
}

// EditPitchHandler - Dekodiert mu und mu_edit gemeinsam, edit_mask waehlt
// die Frames, die dem Edit folgen
func EditPitchHandler(cmd *cobra.Command, args []string) error {
	in, err := readInputs(args[0])
	if err != nil {
		return err
	}

	mu, err := in.frames("mu")
	if err != nil {
		return err
	}

	muEdit, err := in.frames("mu_edit")
	if err != nil {
		return err
	}

	mask, err := in.mask("mask", mu, true)
	if err != nil {
		return err
	}

	editMask, err := in.mask("edit_mask", mu, false)
	if err != nil {
		return err
	}

	if !ml.SameShape(mu, muEdit) {
		return fmt.Errorf("%s: mu %v and mu_edit %v differ", in.path, mu.Shape(), muEdit.Shape())
	}

	smp, err := samplingFromFlags(cmd)
	if err != nil {
		return err
	}

	m, err := loadDecoder(cmd)
	if err != nil {
		return err
	}

	n := mu.Dim(2)
	padded := m.Estimator.FixLength(n)

	mu, muEdit, mask, editMask = pad(mu, padded), pad(muEdit, padded), pad(mask, padded), pad(editMask, padded)

	d := m.Diffusion(smp.rand)
	d.Progress = progressFunc(cmd.ErrOrStderr(), "editing")

	eps := smp.noise(mu.Shape()...)
	mel, melEdit, err := d.DoubleForwardPitch(
		ml.Add(mu, eps), ml.Add(muEdit, eps),
		mu, muEdit,
		mask, editMask,
		smp.steps, false, editOptionsFromFlags(cmd),
	)
	if err != nil {
		return err
	}

	return writeOutputs(args[1], smp.dtype, []string{"mel", "mel_edit"}, trim(mel, n), trim(melEdit, n))
}

// EditTextHandler - Verschiebt die Frames [i2, j2) der Original-Trajektorie
// an Position i1 der Edit-Trajektorie
func EditTextHandler(cmd *cobra.Command, args []string) error {
	in, err := readInputs(args[0])
	if err != nil {
		return err
	}

	mu, err := in.frames("mu")
	if err != nil {
		return err
	}

	muEdit, err := in.frames("mu_edit")
	if err != nil {
		return err
	}

	mask, err := in.mask("mask", mu, true)
	if err != nil {
		return err
	}

	maskEdit, err := in.mask("mask_edit", muEdit, true)
	if err != nil {
		return err
	}

	gradMask, err := in.mask("edit_mask_grad", muEdit, false)
	if err != nil {
		return err
	}

	smp, err := samplingFromFlags(cmd)
	if err != nil {
		return err
	}

	i1, _ := cmd.Flags().GetInt("i1")
	j1, _ := cmd.Flags().GetInt("j1")
	i2, _ := cmd.Flags().GetInt("i2")
	j2, _ := cmd.Flags().GetInt("j2")

	n, nEdit := mu.Dim(2), muEdit.Dim(2)
	if err := gradtts.CheckSpan(i1, i2, j2, n, nEdit); err != nil {
		return err
	}

	m, err := loadDecoder(cmd)
	if err != nil {
		return err
	}

	padded, paddedEdit := m.Estimator.FixLength(n), m.Estimator.FixLength(nEdit)
	mu, mask = pad(mu, padded), pad(mask, padded)
	muEdit, maskEdit, gradMask = pad(muEdit, paddedEdit), pad(maskEdit, paddedEdit), pad(gradMask, paddedEdit)

	d := m.Diffusion(smp.rand)
	d.Progress = progressFunc(cmd.ErrOrStderr(), "editing")

	z := ml.Add(mu, smp.noise(mu.Shape()...))
	zEdit := ml.Add(muEdit, smp.noise(muEdit.Shape()...))
	mel, melEdit, err := d.DoubleForwardText(
		z, zEdit,
		mu, muEdit,
		mask, maskEdit, gradMask,
		i1, j1, i2, j2,
		smp.steps, false, editOptionsFromFlags(cmd),
	)
	if err != nil {
		return err
	}

	return writeOutputs(args[1], smp.dtype, []string{"mel", "mel_edit"}, trim(mel, n), trim(melEdit, nEdit))
}

func newEditCmd() *cobra.Command {
	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a decoded utterance by running two trajectories in lockstep",
		Args:  cobra.NoArgs,
	}

	pitchCmd := &cobra.Command{
		Use:   "pitch INPUT OUTPUT",
		Short: "Blend an edited encoder output of the same length",
		Long: `Blend an edited encoder output of the same length.

INPUT holds "mu", "mu_edit" [batch, n_feats, frames], "edit_mask" [batch, frames]
and an optional "mask". OUTPUT receives "mel" and "mel_edit".`,
		Args: cobra.ExactArgs(2),
		RunE: EditPitchHandler,
	}
	addEditFlags(pitchCmd)

	textCmd := &cobra.Command{
		Use:   "text INPUT OUTPUT",
		Short: "Move a span of frames into an edited encoder output",
		Long: `Move a span of frames into an edited encoder output.

INPUT holds "mu" [batch, n_feats, frames], "mu_edit" [batch, n_feats, frames_edit],
"edit_mask_grad" [batch, frames_edit] and optional "mask" and "mask_edit".
Frames [i2, j2) of the original are placed at i1 of the edit.
OUTPUT receives "mel" and "mel_edit".`,
		Args: cobra.ExactArgs(2),
		RunE: EditTextHandler,
	}
	addEditFlags(textCmd)
	textCmd.Flags().Int("i1", 0, "First frame of the span in the edit")
	textCmd.Flags().Int("j1", 0, "End of the span in the edit (informational)")
	textCmd.Flags().Int("i2", 0, "First frame of the span in the original")
	textCmd.Flags().Int("j2", 0, "End of the span in the original")

	editCmd.AddCommand(pitchCmd, textCmd)
	return editCmd
}
