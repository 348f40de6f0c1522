package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kbguard/kbguard-go/internal/logging"
	"github.com/kbguard/kbguard-go/internal/query"
	"github.com/kbguard/kbguard-go/internal/server"
	"github.com/kbguard/kbguard-go/internal/tracing"
)

// NewServeCmd constructs the `kbguard serve` command, which starts the HTTP
// server exposing the governed query pipeline.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbguard HTTP query server",
		Long: `Start the kbguard HTTP server on localhost.

The server exposes POST /api/query for governed question answering, plus
liveness (/api/health), readiness (/api/ready), and Prometheus metrics
(/metrics) endpoints. Set KBGUARD_API_KEY to require Bearer authentication
on the query endpoint.

Examples:
  kbguard serve
  kbguard serve --port 9090
  MODEL_PROVIDER=azure kbguard serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			metrics := query.NewMetrics(prometheus.DefaultRegisterer)

			deps, err := buildQueryPipeline(ctx, log, metrics)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer deps.close()

			pingers := []server.Pinger{
				server.NewLLMPinger(deps.chatModel, deps.providerCfg.HealthCheck(), string(deps.providerCfg.Backend)),
				server.NewQdrantPinger(deps.store.Client()),
			}

			srv, err := server.New(deps.pipeline, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("KBGUARD_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
