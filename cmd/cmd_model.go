// cmd_model.go - Gewichtsdateien erzeugen und konvertieren
// Hauptfunktionen: ConvertHandler, InitHandler
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/gradtts/convert"
	"github.com/ollama/gradtts/fs/safetensors"
	"github.com/ollama/gradtts/ml"
	"github.com/ollama/gradtts/model/models/gradtts"
)

// ConvertHandler - Schreibt einen PyTorch-Checkpoint als safetensors
func ConvertHandler(cmd *cobra.Command, args []string) error {
	dtype, err := dtypeFromFlags(cmd)
	if err != nil {
		return err
	}

	s, err := convert.Torch(args[0], nil)
	if err != nil {
		return err
	}

	if err := safetensors.WriteFile(args[1], s, s.KV(), dtype); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "converted %d tensors (%d parameters) to %s\n", s.Len(), s.Params(), args[1])
	return nil
}

func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert CHECKPOINT OUTPUT",
		Short: "Convert a PyTorch Grad-TTS checkpoint to safetensors",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().String("dtype", "F32", "Output data type (F64, F32, F16, BF16)")
	return convertCmd
}

// InitHandler - Schreibt einen zufaellig initialisierten Decoder
func InitHandler(cmd *cobra.Command, args []string) error {
	opts := gradtts.DefaultOptions()
	flags := cmd.Flags()
	opts.NFeats, _ = flags.GetInt("n-feats")
	opts.Dim, _ = flags.GetInt("dim")
	opts.DimMults, _ = flags.GetIntSlice("dim-mults")
	opts.Groups, _ = flags.GetInt("groups")
	opts.Heads, _ = flags.GetInt("heads")
	opts.HeadDim, _ = flags.GetInt("head-dim")
	opts.BetaMin, _ = flags.GetFloat64("beta-min")
	opts.BetaMax, _ = flags.GetFloat64("beta-max")
	opts.PEScale, _ = flags.GetFloat64("pe-scale")
	seed, _ := flags.GetUint64("seed")

	dtype, err := dtypeFromFlags(cmd)
	if err != nil {
		return err
	}

	m, err := gradtts.New(opts, ml.NewRand(seed))
	if err != nil {
		return err
	}

	if err := safetensors.WriteFile(args[0], m.Backend(), opts.KV(), dtype); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d tensors to %s\n", len(m.Backend().Names()), args[0])
	return nil
}

func newInitCmd() *cobra.Command {
	defaults := gradtts.DefaultOptions()

	initCmd := &cobra.Command{
		Use:   "init OUTPUT",
		Short: "Write a randomly initialised decoder",
		Args:  cobra.ExactArgs(1),
		RunE:  InitHandler,
	}

	initCmd.Flags().Int("n-feats", defaults.NFeats, "Number of mel bins")
	initCmd.Flags().Int("dim", defaults.Dim, "Base channel count")
	initCmd.Flags().IntSlice("dim-mults", defaults.DimMults, "Channel multiplier per resolution")
	initCmd.Flags().Int("groups", defaults.Groups, "Group norm groups")
	initCmd.Flags().Int("heads", defaults.Heads, "Attention heads")
	initCmd.Flags().Int("head-dim", defaults.HeadDim, "Channels per attention head")
	initCmd.Flags().Float64("beta-min", defaults.BetaMin, "Noise level at t=0")
	initCmd.Flags().Float64("beta-max", defaults.BetaMax, "Noise level at t=1")
	initCmd.Flags().Float64("pe-scale", defaults.PEScale, "Time embedding scale")
	initCmd.Flags().Uint64("seed", 0, "Random seed")
	initCmd.Flags().String("dtype", "F32", "Output data type (F64, F32, F16, BF16)")
	return initCmd
}
