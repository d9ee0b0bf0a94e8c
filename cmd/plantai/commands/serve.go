package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/server"
	"github.com/54b3r/plantai-go/internal/sharepoint"
	"github.com/54b3r/plantai-go/internal/tracing"
)

// NewServeCmd constructs the `plantai serve` command, which starts the HTTP
// API used by the web front end.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PlantAI HTTP server",
		Long: `Start the PlantAI HTTP server.

Endpoints:
  POST /ingest/local          ingest a folder on the server (form: path)
  POST /ingest/folder-upload  ingest an uploaded folder (form: files)
  POST /ingest/sharepoint     ingest a SharePoint folder (form: sp_folder)
  POST /chat                  answer a question (form: question)
  GET  /api/health, /api/ready, /metrics

Every POST requires PLANTAI_API_KEY in the x_api_key form field, the
X-API-Key header or an Authorization: Bearer header.

Examples:
  plantai serve
  plantai serve --port 9090
  STORE_BACKEND=sqlite plantai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			st, err := buildStack(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.close(log)

			pipeline, err := st.pipeline("")
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			retriever, err := st.retriever(0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			answerer, err := st.answerer(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("pipeline ready",
				slog.String("commit_mode", string(pipeline.Mode())),
				slog.Int("top_k", retriever.K()),
				slog.String("chat_model", st.provider.ChatModelName()),
			)

			deps := server.Deps{Ingester: pipeline, Retriever: retriever, Answerer: answerer}

			spCfg := sharepoint.ConfigFromEnv()
			if spCfg.Configured() {
				sp, err := sharepoint.New(ctx, spCfg)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				deps.SharePoint = sp
				log.Info("sharepoint enabled", slog.String("site", spCfg.SiteHost+spCfg.SitePath))
			} else {
				log.Info("sharepoint disabled", slog.String("reason", "MS_* settings incomplete"))
			}

			cfg, err := serverConfigFromEnv()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			cfg.Logger = log
			cfg.Pingers = st.pingers()

			srv, err := server.New(deps, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides PLANTAI_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (overrides PLANTAI_PORT)")

	return cmd
}
