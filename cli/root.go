package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"kids-rollcall/config"
	"kids-rollcall/db"
	"kids-rollcall/db/redisstore"
	"kids-rollcall/db/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFiles []string
}

// NewRootCommand creates the root command for the rollcall CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "rollcall",
		Short:         "Daily attendance for the kids roster",
		Long:          "Serves and manages daily attendance sheets for a roster of kids.",
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "env files to load before reading the environment (default .env)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// loadConfig reads configuration the same way for every subcommand.
func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.EnvFiles...)
}

// openStore opens the backend selected by cfg.Store.
func openStore(ctx context.Context, cfg config.Config) (db.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := redisstore.Connect(dialCtx, &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, cfg.LockTTL), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
