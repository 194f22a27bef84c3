package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/config"
	"github.com/ifuryst/postpilot/internal/server"
	"github.com/ifuryst/postpilot/internal/service"
	"github.com/ifuryst/postpilot/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "postpilot",
	Short: "PostPilot - Periodic Telegram posting service",
	Long:  `PostPilot publishes a post to a list of Telegram chats on a schedule and exposes a dashboard API to manage it.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PostPilot %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

var totpSecretCmd = &cobra.Command{
	Use:   "totp-secret",
	Short: "Generate a TOTP secret for dashboard login",
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := service.NewAuthService(config.AuthConfig{}, zap.NewNop())
		secret, url, err := auth.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Printf("Secret: %s\n", secret)
		fmt.Printf("URL:    %s\n", url)
		fmt.Println("Set auth.totp_secret to the secret and add the URL to your authenticator app.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(totpSecretCmd)
}

func runServer(*cobra.Command, []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PostPilot server", zap.String("version", version))

	// Create server
	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLogger.Warn("Failed to notify systemd", zap.Error(err))
	} else if ok {
		appLogger.Debug("Notified systemd of readiness")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	// Graceful shutdown
	if err := srv.Shutdown(context.Background()); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
