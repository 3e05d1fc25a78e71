// Command leadctl inspects and repairs engagement state from a shell.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"engagement_backend/platform/config"
	"engagement_backend/platform/db"
	"engagement_backend/platform/logger"
	"engagement_backend/platform/redisx"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// env resolves backing stores lazily so each command opens only what it uses.
type env struct {
	log       *logger.Logger
	dedupeTTL func() (time.Duration, error)
	openRedis func(ctx context.Context) (redis.UniversalClient, error)
	openPool  func(ctx context.Context) (*pgxpool.Pool, error)
}

func newEnv() *env {
	var cfg *config.Config
	load := func() (*config.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		c, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = c
		return cfg, nil
	}

	return &env{
		log: logger.New(os.Getenv("APP_ENV")),
		dedupeTTL: func() (time.Duration, error) {
			c, err := load()
			if err != nil {
				return 0, err
			}
			return c.GetDedupeTTL(), nil
		},
		openRedis: func(ctx context.Context) (redis.UniversalClient, error) {
			c, err := load()
			if err != nil {
				return nil, err
			}
			return redisx.NewClient(ctx, c)
		},
		openPool: func(ctx context.Context) (*pgxpool.Pool, error) {
			c, err := load()
			if err != nil {
				return nil, err
			}
			return db.NewPool(ctx, c)
		},
	}
}

func newRootCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leadctl",
		Short:         "Inspect dedupe marks, conversations, the escalation outbox and org sending",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	cmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if off, _ := cmd.Flags().GetBool("no-color"); off {
			color.NoColor = true
		}
	}

	cmd.AddCommand(newDedupeCmd(e))
	cmd.AddCommand(newConversationCmd(e))
	cmd.AddCommand(newOutboxCmd(e))
	cmd.AddCommand(newOrgCmd(e))
	return cmd
}

func main() {
	if err := newRootCmd(newEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error: ")+err.Error())
		os.Exit(1)
	}
}
