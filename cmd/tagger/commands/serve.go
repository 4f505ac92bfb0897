package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP prediction service",
	Long: `Run the HTTP prediction service.

Waits for the inference sidecar to report ready, loads every strategy whose
backends are available, and serves:
  GET  /          liveness message
  GET  /health    loaded and disabled strategies
  GET  /metrics   Prometheus metrics
  POST /predict   multipart form: image (file), k (int), model (clip|blip|swin)

Examples:
  TAGGER_ADDR=:9000 tagger serve
  TAGGER_BACKEND=mock tagger serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := buildBackends(cfg, logger)
		if err != nil {
			return err
		}

		startupCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Inference.StartupSeconds)*time.Second)
		err = b.waitReady(startupCtx)
		cancel()
		if err != nil {
			return err
		}

		tg, err := buildTagger(cfg, b, logger, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		if err := tg.Warm(ctx); err != nil {
			logger.WithError(err).Warn("failed to warm tag embeddings, will retry on first request")
		}

		pool := tagger.NewPool(tg, cfg.Engine.Workers, cfg.Engine.QueueSize)
		defer pool.Close()

		srv := server.New(
			server.NewHandler(pool, tg, cfg.MaxUploadBytes(), logger),
			server.Options{
				Addr:        cfg.Server.Addr,
				CORSOrigins: cfg.Server.CORSOrigins,
				ReadTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			},
			logger,
		)

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(srv.ListenAndServe)
		eg.Go(func() error {
			<-egCtx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return eg.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
