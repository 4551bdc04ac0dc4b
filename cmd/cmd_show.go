// cmd_show.go - Show Command und Decoder-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/server"
)

// ShowHandler - Zeigt den Decoder einer Datei oder des laufenden Servers an
func ShowHandler(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")

	var resp *api.ShowResponse
	if len(args) > 0 {
		m, err := server.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		r := server.Describe(m, verbose)
		resp = &r
	} else {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err = client.Show(cmd.Context(), &api.ShowRequest{Verbose: verbose})
		if err != nil {
			return err
		}
	}

	return showInfo(resp, cmd.OutOrStdout())
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// showInfo - Gibt Decoder-Informationen tabellarisch aus
func showInfo(resp *api.ShowResponse, w io.Writer) error {
	tableRender := func(header string, rows [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		fmt.Fprintln(w)
	}

	d := resp.Details
	mults := make([]string, len(d.DimMults))
	for i, m := range d.DimMults {
		mults[i] = strconv.Itoa(m)
	}

	tableRender("Decoder", [][]string{
		{"", "architecture", d.Architecture},
		{"", "parameters", strconv.Itoa(resp.Parameters)},
		{"", "n_feats", strconv.Itoa(d.NFeats)},
		{"", "dim", strconv.Itoa(d.Dim)},
		{"", "dim_mults", strings.Join(mults, ", ")},
		{"", "groups", strconv.Itoa(d.Groups)},
		{"", "attention heads", strconv.Itoa(d.Heads)},
		{"", "attention head dim", strconv.Itoa(d.HeadDim)},
		{"", "frame multiple", strconv.Itoa(resp.Multiple)},
	})

	tableRender("Noise schedule", [][]string{
		{"", "beta_min", formatFloat(d.BetaMin)},
		{"", "beta_max", formatFloat(d.BetaMax)},
		{"", "pe_scale", formatFloat(d.PEScale)},
	})

	if len(resp.Tensors) > 0 {
		rows := make([][]string, len(resp.Tensors))
		for i, t := range resp.Tensors {
			shape := make([]string, len(t.Shape))
			for j, s := range t.Shape {
				shape[j] = strconv.Itoa(s)
			}
			rows[i] = []string{"", t.Name, "[" + strings.Join(shape, " ") + "]"}
		}
		tableRender("Tensors", rows)
	}

	return nil
}

func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show [WEIGHTS]",
		Short: "Show decoder hyperparameters",
		Long: `Show decoder hyperparameters.

Without WEIGHTS the decoder of the running server is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: ShowHandler,
	}

	showCmd.Flags().BoolP("verbose", "v", false, "Show every tensor")
	return showCmd
}
