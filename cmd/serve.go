package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/iksnae/synthshot/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconstructed screenshots over HTTP",
	Long: `Start a local HTTP service that reconstructs screenshots on request.

Endpoints:
  GET /healthz
  GET /metrics
  GET /v1/monitors
  GET /v1/monitors/{monitor_id}/screenshots
  GET /v1/monitors/{monitor_id}/screenshots/{step}
  GET /v1/history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{"serve.addr": "addr"})
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		history, closeHistory, err := openHistory(cfg)
		if err != nil {
			internal.LogWarn("History disabled: %v", err)
		}
		defer closeHistory()

		client := kibana.NewClientFromConfig(cfg)
		reconstructor := internal.NewReconstructor(client, cfg.ReconstructorOptions())
		e := server.New(server.NewHandler(reconstructor, client, client, history))

		errCh := make(chan error, 1)
		go func() {
			if err := e.Start(cfg.Serve.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		internal.LogInfo("Serving on http://%s (Kibana %s)", cfg.Serve.Addr, cfg.Kibana.URL)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-cmd.Context().Done():
		}

		internal.LogInfo("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8787)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests")
}
