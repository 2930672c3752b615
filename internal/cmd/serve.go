package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/internal/server"
	"github.com/3leaps/siterun/internal/server/handlers"
	"github.com/3leaps/siterun/pkg/tablestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored batch results over HTTP",
	Long: `Start a read-only HTTP API over the SQLite result store.

Endpoints:
  GET /health                                   Store health
  GET /health/live                              Liveness
  GET /version                                  Build information
  GET /v1/batches                               Recent batches (?limit=N)
  GET /v1/batches/{id}                          One batch
  GET /v1/batches/{id}/sites                    Site status for a batch
  GET /v1/batches/{id}/sites/{site}/{daily|annual}  One site table

Example:
  siterun serve --port 8080 --store-path ./results.db`,
	RunE: runServe,
}

var (
	serveHost      string
	servePort      int
	serveStorePath string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default from config)")
	serveCmd.Flags().StringVar(&serveStorePath, "store-path", "", "Result store path (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	host, port, path := cfg.Server.Host, cfg.Server.Port, cfg.Store.Path
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	if serveStorePath != "" {
		path = serveStorePath
	}

	db, err := tablestore.Open(ctx, tablestore.Config{Path: path})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open result store", err)
	}
	defer func() { _ = db.Close() }()
	if err := tablestore.Migrate(ctx, db); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to migrate result store", err)
	}

	srv := server.New(server.Config{
		Host: host,
		Port: port,
		DB:   db,
		Version: handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		},
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          observability.CLILogger,
	})

	observability.CLILogger.Info("Starting results server",
		zap.String("addr", srv.Addr()),
		zap.String("store", path))
	if err := srv.ListenAndServe(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
