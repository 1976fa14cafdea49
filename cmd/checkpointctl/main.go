// Command checkpointctl inspects and maintains stored session checkpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
)

// env holds the connections shared by all subcommands.
type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	rdb   *redis.Client
	pool  *pgxpool.Pool
	cache *repository.CheckpointCache
	repo  *repository.CheckpointRepository
}

func (e *env) connect(ctx context.Context, needDB bool) error {
	rdb, err := database.NewRedisClient(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	e.rdb = rdb
	e.cache = repository.NewCheckpointCache(rdb, e.cfg.CheckpointTTL)

	if needDB {
		pool, err := database.NewPostgresPool(ctx, e.cfg, e.log)
		if err != nil {
			return err
		}
		e.pool = pool
		e.repo = repository.NewCheckpointRepository(pool)
	}
	return nil
}

func (e *env) close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
}

func main() {
	cfg := config.Load()
	if err := cfg.LoadPolicyOverlay(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	e := &env{cfg: cfg, log: logger.New(os.Stderr, "warn", "pretty")}
	defer e.close()

	root := &cobra.Command{
		Use:           "checkpointctl",
		Short:         "Inspect and maintain exam session checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection details")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			e.log = logger.New(os.Stderr, "debug", "pretty")
		}
	}

	root.AddCommand(
		newInspectCmd(e),
		newVerifyCmd(e),
		newPurgeCmd(e),
		newRestoreCmd(e),
		newRefreshExamCmd(e),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		e.close()
		os.Exit(1)
	}
}

func parseTarget(args []string) (uuid.UUID, int, error) {
	examID, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid exam ID: %w", err)
	}
	studentID, err := strconv.Atoi(args[1])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid student ID: %w", err)
	}
	return examID, studentID, nil
}
