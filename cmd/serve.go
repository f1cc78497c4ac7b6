package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"switchboard/internal/broker"
	"switchboard/internal/httpapi"
	"switchboard/internal/logger"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker daemon",
	Long: `serve starts the HTTP ingress and the control-channel listener and
blocks until it receives SIGINT/SIGTERM, failing pending requests with 503
and closing every slug-bound session before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := httpapi.NewDefaultConfig()
		if serveConfigPath != "" {
			loaded, err := httpapi.LoadConfig(serveConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = loaded
		}
		logger.SetSilentMode(false)
		logger.SetLevel(cfg.Logging.Level)
		if verbose {
			logger.SetLevel(logger.LevelDebug)
		}

		logger.Server(fmt.Sprintf("starting switchboard on port %d", cfg.Server.Port))

		engine := broker.NewEngine(broker.Config{
			MaxRequestBytes: cfg.Server.MaxRequestBytes,
			SlugWhitelist:   cfg.Server.SlugWhitelist,
		})

		auth, err := httpapi.NewAdminAuth(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialise admin auth: %w", err)
		}

		server := httpapi.NewServer(cfg, engine, auth)

		errChan := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				errChan <- err
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			logger.Server("received shutdown signal: " + sig.String())
		case err := <-errChan:
			logger.Errorf(err, "HTTP server error")
			return err
		}

		logger.Server("shutting down")
		engine.Shutdown()
		if err := server.Close(); err != nil {
			logger.Errorf(err, "error closing HTTP listener")
		}
		logger.Server("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a YAML config file")
}
