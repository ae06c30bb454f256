// Package collab parses collab command flags and composes the transport
// entrypoint.
package collab

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/drawroom/internal/platform/cmd"
	"github.com/louisbranch/drawroom/internal/platform/logging"
	server "github.com/louisbranch/drawroom/internal/services/collab/app"
)

// Config holds collab command configuration. Variables carry the DRAWROOM_
// prefix.
type Config struct {
	HTTPAddr          string        `env:"COLLAB_HTTP_ADDR"        envDefault:":8090"`
	GRPCAddr          string        `env:"COLLAB_GRPC_ADDR"`
	Store             string        `env:"COLLAB_STORE"            envDefault:"sqlite"`
	DBPath            string        `env:"COLLAB_DB_PATH"          envDefault:"data/collab.db"`
	PostgresURL       string        `env:"COLLAB_POSTGRES_URL"`
	RedisAddr         string        `env:"COLLAB_REDIS_ADDR"`
	AllowAnonymous    bool          `env:"ALLOW_ANONYMOUS_VISITS"  envDefault:"false"`
	ReplayDelay       time.Duration `env:"REPLAY_DELAY"            envDefault:"100ms"`
	LaunchTokenSecret string        `env:"LAUNCH_TOKEN_SECRET"`
	MaxFrameBytes     int64         `env:"COLLAB_MAX_FRAME_BYTES"  envDefault:"4194304"`
	LogLevel          string        `env:"LOG_LEVEL"               envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "collab HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (disabled when empty)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: sqlite or postgres")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "postgres connection URL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for cross-process broadcast (in-process when empty)")
	fs.BoolVar(&cfg.AllowAnonymous, "allow-anonymous", cfg.AllowAnonymous, "admit visitors who are neither authenticated nor authorized")
	fs.DurationVar(&cfg.ReplayDelay, "replay-delay", cfg.ReplayDelay, "pause between replayed events")
	fs.StringVar(&cfg.LaunchTokenSecret, "launch-token-secret", cfg.LaunchTokenSecret, "HS256 secret for launch tokens (everyone is anonymous when empty)")
	fs.Int64Var(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "largest inbound websocket frame")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the collab app and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(entrypoint.ServiceCollab, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCollab, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			GRPCAddr:          cfg.GRPCAddr,
			Store:             cfg.Store,
			DBPath:            cfg.DBPath,
			PostgresURL:       cfg.PostgresURL,
			RedisAddr:         cfg.RedisAddr,
			AllowAnonymous:    cfg.AllowAnonymous,
			ReplayDelay:       cfg.ReplayDelay,
			LaunchTokenSecret: cfg.LaunchTokenSecret,
			MaxFrameBytes:     cfg.MaxFrameBytes,
			Logger:            logger,
		}); err != nil {
			return fmt.Errorf("serve collab: %w", err)
		}
		return nil
	})
}
