// Package commands defines all Cobra CLI commands for the plantai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/plantai-go/internal/audit"
	"github.com/54b3r/plantai-go/internal/config"
	"github.com/54b3r/plantai-go/internal/logging"
)

// NewRootCmd builds the plantai command tree. Before any subcommand runs,
// the optional YAML config is folded into the environment and a logger is
// stored in the command context for the subcommand to pick up.
func NewRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "plantai",
		Short: "PlantAI: question answering over plant documentation",
		Long: `PlantAI ingests manuals, procedures and spreadsheets from a local
folder, a browser upload or a SharePoint library, stores them as embedded
chunks and answers questions with citations to the source pages.

The model provider is selected via MODEL_PROVIDER or detected from the
credentials present. Settings may also come from a .env file or a YAML
config file (~/.plantai/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// LOG_LEVEL and LOG_FORMAT may come from the YAML file, so the
			// logger is rebuilt once it has been applied.
			loaded, err := config.Load(configFile, logging.New())
			if err != nil {
				return err
			}
			log := logging.New()
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loaded)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default ~/.plantai/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)
	return root
}
