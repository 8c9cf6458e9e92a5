package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yueduduo/pth-viewer/internal/logger"
	"github.com/yueduduo/pth-viewer/internal/server"
	"github.com/yueduduo/pth-viewer/internal/session"
)

var serveIdleSeconds int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local inspection service",
	Long: `Serve starts the HTTP inspection service on an ephemeral loopback
port and announces it by printing SERVER_STARTED:<port> to stdout.

The service caches opened checkpoints across requests and exits on its
own after the idle timeout elapses without a request. SIGINT/SIGTERM
shut it down immediately.

Example:
  pth-viewer serve --idle-timeout 300`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveIdleSeconds, "idle-timeout", -1,
		"Override idle shutdown timeout in seconds (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveIdleSeconds >= 0 {
		cfg.Server.IdleTimeoutSeconds = serveIdleSeconds
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()

	sess := session.New(session.Options{
		IdleTimeout: time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		Log:         log,
	})
	defer sess.Close()

	srv := server.New(sess, log)
	port, err := srv.Start(cfg.Server.Host)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Infow("Inspection service started",
		"host", cfg.Server.Host,
		"port", port,
		"idle_timeout_seconds", cfg.Server.IdleTimeoutSeconds,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Infow("Shutting down", "signal", sig.String())
	return srv.Close()
}
