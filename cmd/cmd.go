// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, versionHandler
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ollama/gradtts/api"
	"github.com/ollama/gradtts/envconfig"
	"github.com/ollama/gradtts/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// versionHandler - Gibt Client- und Server-Version aus
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Warning: could not connect to a running gradtts instance")
	}

	if serverVersion != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "gradtts version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: client version is %s\n", version.Version)
	}
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "gradtts",
		Short:         "Score-based mel-spectrogram decoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	serveCmd := newServeCmd()
	synthCmd := newSynthCmd()
	editCmd := newEditCmd()
	showCmd := newShowCmd()
	convertCmd := newConvertCmd()
	initCmd := newInitCmd()
	lossCmd := newLossCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	sampling := []envconfig.EnvVar{
		envVars["GRADTTS_MODELS"],
		envVars["GRADTTS_STEPS"],
		envVars["GRADTTS_SEED"],
		envVars["GRADTTS_NUM_THREADS"],
	}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		synthCmd,
		editCmd,
		showCmd,
		lossCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["GRADTTS_DEBUG"],
				envVars["GRADTTS_HOST"],
				envVars["GRADTTS_ORIGINS"],
				envVars["GRADTTS_MODELS"],
				envVars["GRADTTS_LOAD_TIMEOUT"],
				envVars["GRADTTS_MAX_QUEUE"],
				envVars["GRADTTS_NUM_THREADS"],
				envVars["GRADTTS_STEPS"],
				envVars["GRADTTS_SEED"],
				envVars["GRADTTS_NO_SOFTEN"],
				envVars["GRADTTS_N_SOFTEN"],
			})
		case editCmd:
			appendEnvDocs(cmd, append(sampling, envVars["GRADTTS_NO_SOFTEN"], envVars["GRADTTS_N_SOFTEN"]))
		case showCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["GRADTTS_HOST"], envVars["GRADTTS_MODELS"]})
		case lossCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["GRADTTS_MODELS"], envVars["GRADTTS_SEED"]})
		default:
			appendEnvDocs(cmd, sampling)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		synthCmd,
		editCmd,
		showCmd,
		convertCmd,
		initCmd,
		lossCmd,
	)

	return rootCmd
}
