package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Streamweaver/helix-jobs/config"
	"github.com/Streamweaver/helix-jobs/internal/bootstrap"
)

var errRedisNotConfigured = errors.New("redis not configured")

// fingerprintKeyPattern matches the preview dedupe cache entries.
const fingerprintKeyPattern = "helix:fp:*"

const clearScanBatch = 200

type clearFingerprintsOptions struct {
	Yes     bool
	Timeout time.Duration
}

func parseClearFingerprintsFlags(args []string) (clearFingerprintsOptions, error) {
	fs := flag.NewFlagSet("clear-fingerprints", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	timeout := fs.Duration("timeout", defaultCommandTimeout, "command timeout")
	if err := fs.Parse(args); err != nil {
		return clearFingerprintsOptions{}, fmt.Errorf("parse clear-fingerprints flags: %w", err)
	}
	return clearFingerprintsOptions{Yes: *yes, Timeout: *timeout}, nil
}

func runClearFingerprints(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearFingerprintsFlags(args)
	if err != nil {
		return err
	}

	if !opts.Yes {
		if err = confirm("delete all cached preview fingerprints"); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	deleted, err := deleteMatchingKeys(ctx, client, fingerprintKeyPattern)
	if err != nil {
		return err
	}

	return writef(os.Stdout, "Deleted %d fingerprint entries\n", deleted)
}

func confirm(action string) error {
	if err := writef(os.Stdout, "About to %s. Type 'yes' to continue: ", action); err != nil {
		return err
	}
	var answer string
	if _, err := fmt.Fscanln(os.Stdin, &answer); err != nil {
		return errors.New("aborted")
	}
	if answer != "yes" {
		return errors.New("aborted")
	}
	return nil
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(cmdCtx *commandContext) (redis.UniversalClient, error) {
	if !hasRedisConfig(&cmdCtx.Config.Redis) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func deleteMatchingKeys(ctx context.Context, client redis.UniversalClient, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, clearScanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if delErr := client.Del(ctx, keys...).Err(); delErr != nil {
				return deleted, fmt.Errorf("delete keys: %w", delErr)
			}
			deleted += len(keys)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
