package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"odrive/pkg/blob"
	"odrive/pkg/config"
	"odrive/pkg/dao"
	"odrive/pkg/directory"
	"odrive/pkg/identity"
	"odrive/pkg/server"
	"odrive/pkg/types"
)

func serveCmd() *cobra.Command {
	var (
		address string
		dataDir string
		dbPath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the object drive server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			// Optional .env next to the working directory; absence is fine.
			if err := godotenv.Load(); err == nil {
				logger.Debug("environment loaded from .env")
			}

			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.LoadConfig(configFile)
				if err != nil {
					return err
				}
			} else {
				cfg = config.LoadFromEnv()
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if dataDir != "" {
				cfg.Server.DataDir = dataDir
			}
			if dbPath != "" {
				cfg.Server.DatabasePath = dbPath
			}

			blobs, err := blob.NewDiskStore(cfg.Server.DataDir)
			if err != nil {
				return err
			}

			dal, err := dao.Open(cfg.Server.DatabasePath, logger)
			if err != nil {
				return err
			}
			defer dal.Close()

			svc := directory.NewService(blobs, logger, directory.WithPersister(dal))

			objects, grantRows, err := dal.LoadAll()
			if err != nil {
				return err
			}
			if err := svc.RestoreState(objects, grantRows); err != nil {
				return err
			}

			resolver := identity.NewStaticResolver()
			for _, rec := range cfg.Identities {
				resolver.Register(identity.Record{
					DistinguishedName: rec.DistinguishedName,
					DisplayName:       rec.DisplayName,
					Attributes: types.UserAttributes{
						Clearance:   rec.Clearance,
						SCIControls: rec.SCIControls,
						SARAccess:   rec.SARAccess,
						Country:     rec.Country,
						Groups:      rec.Groups,
					},
				})
			}

			srv := server.New(svc, resolver, logger)
			if err := srv.Start(cfg.Server.Address); err != nil {
				return err
			}

			logger.Info("object drive ready",
				zap.String("address", cfg.Server.Address),
				zap.String("dataDir", cfg.Server.DataDir),
				zap.String("database", cfg.Server.DatabasePath))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "blob storage directory (overrides config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "metadata database path (overrides config)")
	return cmd
}
