package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/runtrail/internal/server"
	"github.com/psantana5/runtrail/internal/shutdown"
)

var (
	serveAddr            string
	serveShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command catalog and metrics over HTTP",
	Long: `Starts an HTTP server exposing:
  GET  /health
  GET  /metrics
  GET  /commands
  GET  /commands/{name}
  POST /commands/{name}   (request body is the command input)
  GET  /failures?limit=N`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from metrics.addr)")
	serveCmd.Flags().DurationVar(&serveShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight runs to finish")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}

	h := server.NewHandler(a.catalog, a.metrics, a.failures, a.queue, a.logger)
	srv := server.NewHTTPServer(addr, h)

	mgr := shutdown.New(serveShutdownTimeout, a.logger)
	mgr.Register(func(ctx context.Context) error {
		a.close(ctx)
		return nil
	})
	mgr.Register(shutdown.WaitForIdle(func() bool {
		return h.Inflight() == 0 && a.queue.Depth() == 0
	}, 50*time.Millisecond, "in-flight runs"))
	mgr.Register(shutdown.StopHTTPServer(srv, "runtrail"))

	go func() {
		a.logger.Info("listening", map[string]interface{}{"addr": addr, "base_dir": a.cfg.BaseDir})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server failed", map[string]interface{}{"error": err.Error()})
			mgr.Trigger()
		}
	}()

	err = mgr.Wait(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
