package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/plantai-go/internal/ingestion"
	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/sharepoint"
)

// NewIngestCmd constructs the `plantai ingest` command, which runs the
// ingestion pipeline without the HTTP server.
func NewIngestCmd() *cobra.Command {
	var spFolder string
	var commitMode string

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest a local folder or a SharePoint folder into the document store",
		Long: `Extract, chunk and embed every file under a folder and store the chunks.

Local folders are stored with their absolute paths as URIs and the source
label "local". With --sharepoint the folder is downloaded from the configured
document library into a temporary directory first and stored with
sharepoint:// URIs.

Re-ingesting a folder appends a second copy of its chunks.

Examples:
  plantai ingest ./manuals
  plantai ingest --commit-mode file /srv/plant-docs
  plantai ingest --sharepoint "Plant/Manuals"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("sharepoint") {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.close(log)

			pipeline, err := st.pipeline(commitMode)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			root := ""
			opts := ingestion.Options{Label: "local"}
			if cmd.Flags().Changed("sharepoint") {
				client, err := sharepoint.New(ctx, sharepoint.ConfigFromEnv())
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				dir, err := os.MkdirTemp("", "plantai-sharepoint-*")
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				defer os.RemoveAll(dir)

				n, err := client.Stage(ctx, spFolder, dir)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("sharepoint folder staged", slog.String("folder", spFolder), slog.Int("files", n))

				root = dir
				opts = sharePointOptions(spFolder)
			} else {
				if root, err = filepath.Abs(args[0]); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			stats, err := pipeline.Ingest(ctx, root, opts)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d files, %d pages, %d chunks\n", stats.Files, stats.Pages, stats.Chunks)
			return nil
		},
	}

	cmd.Flags().StringVar(&spFolder, "sharepoint", "", "Folder path inside the SharePoint document library (empty: library root)")
	cmd.Flags().StringVar(&commitMode, "commit-mode", "", "walk (one transaction) or file (commit per file); overrides INGEST_COMMIT_MODE")

	return cmd
}

// sharePointOptions labels documents staged from folder and gives them
// sharepoint:// URIs.
func sharePointOptions(folder string) ingestion.Options {
	return ingestion.Options{Label: "sharepoint", URI: ingestion.PrefixURI(sharepoint.URIPrefix(folder))}
}
