package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/fieldscan/internal/capture"
	"github.com/MeKo-Tech/fieldscan/internal/config"
	"github.com/MeKo-Tech/fieldscan/internal/server"
	"github.com/MeKo-Tech/fieldscan/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session server",
	Long: `Start an HTTP server that controls one scan session.

The server provides the following endpoints:
  GET  /health                   - Health and engine status
  GET  /session                  - Runner state and latest snapshot
  POST /session/source           - Upload an image or PDF, or select camera/screen
  POST /session/start            - Start scanning
  POST /session/stop             - Stop scanning
  POST /session/reset            - Clear readings and confirmations
  POST /session/engine           - Switch the OCR engine profile
  GET  /session/evidence/{field} - Evidence frame of a confirmed field
  GET  /session/crop             - Last fine-pass crop
  GET  /session/result           - Result as json, yaml or text
  GET  /session/report           - PDF evidence report
  GET  /ws                       - Snapshot stream and control messages
  GET  /metrics                  - Prometheus metrics

Examples:
  fieldscan serve
  fieldscan serve --port 8080
  fieldscan serve --host 0.0.0.0 --autostart --source screen`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := applyScanFlags(cmd, *GetConfig())
		f := cmd.Flags()

		if f.Changed("host") {
			cfg.Server.Host, _ = f.GetString("host")
		}
		if f.Changed("port") {
			cfg.Server.Port, _ = f.GetInt("port")
		}
		if f.Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
		}
		if f.Changed("max-upload-size") {
			cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
		}
		if f.Changed("timeout") {
			cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
		}
		if f.Changed("shutdown-timeout") {
			cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
		}
		if f.Changed("autostart") {
			cfg.Server.Autostart, _ = f.GetBool("autostart")
		}
		if f.Changed("source") {
			cfg.Capture.Source, _ = f.GetString("source")
		}
		if f.Changed("path") {
			cfg.Capture.Path, _ = f.GetString("path")
		}

		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sessionServer, err := server.NewServer(server.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			CORSOrigin:  cfg.Server.CORSOrigin,
			MaxUploadMB: int64(cfg.Server.MaxUploadMB),
			TimeoutSec:  cfg.Server.TimeoutSec,
			App:         cfg,
			Factory:     engineFactory,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = sessionServer.Close() }()

		if cfg.Server.Autostart {
			if err := autostart(ctx, sessionServer, cfg); err != nil {
				slog.Error("Autostart failed", "source", cfg.Capture.Source, "error", err)
			}
		}

		mux := http.NewServeMux()
		sessionServer.SetupRoutes(mux)

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
		}

		go func() {
			slog.Info("Starting session server", "host", cfg.Server.Host, "port", cfg.Server.Port, "build", version.String())
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := sessionServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// autostart selects the configured capture source and starts scanning.
func autostart(ctx context.Context, s *server.Server, cfg config.Config) error {
	p := s.Pipeline()
	if p == nil {
		return errors.New("OCR engine not initialized")
	}
	src, err := capture.New(cfg.Capture)
	if err != nil {
		return err
	}
	if err := p.Runner.SetActiveSource(ctx, src); err != nil {
		return err
	}
	if err := p.Runner.Start(ctx); err != nil {
		return err
	}
	slog.Info("Scanning started at startup", "source", src.Kind())
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addScanFlags(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("autostart", false, "select the configured capture source and start scanning at startup")
	serveCmd.Flags().String("source", string(capture.KindCamera), "capture source for --autostart")
	serveCmd.Flags().String("path", "", "file for the image and pdf sources")
}
