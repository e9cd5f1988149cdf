package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/V4T54L/auditd-ingest/internal/adapter/metrics"
	"github.com/V4T54L/auditd-ingest/internal/adapter/pii"
	"github.com/V4T54L/auditd-ingest/internal/adapter/repository/quarantine"
	redisrepo "github.com/V4T54L/auditd-ingest/internal/adapter/repository/redis"
	"github.com/V4T54L/auditd-ingest/internal/adapter/repository/sqlstore"
	"github.com/V4T54L/auditd-ingest/internal/domain"
	"github.com/V4T54L/auditd-ingest/internal/pkg/config"
	"github.com/V4T54L/auditd-ingest/internal/pkg/logger"
	"github.com/V4T54L/auditd-ingest/internal/usecase"
)

var rootCmd = &cobra.Command{
	Use:   "auditd-ingest",
	Short: "Incrementally load auditd logs into a relational store.",
	Long: `auditd-ingest reads auditd log files, groups their lines into events and
stores one record per event. Repeated runs over the same or rotated files
add only events that were not stored before.

Configuration comes from the environment (and an optional .env file);
flags override it for a single invocation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIngest,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("source", "", "audit log file or directory (overrides AUDIT_LOGS_PATH)")
	flags.String("store-driver", "", "record store driver: sqlite or postgres (overrides STORE_DRIVER)")
	flags.String("store-dsn", "", "record store DSN (overrides STORE_DSN)")
	flags.String("log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.Flags().String("skip-file", "", "skip-file method: by_last_run or by_last_event (overrides SKIP_FILE_METHOD)")
	rootCmd.Flags().String("skip-event", "", "skip-event method: by_date or by_existence (overrides SKIP_EVENT_METHOD)")
	rootCmd.Flags().String("on-malformed", "", "malformed event policy: abort_file or skip_event (overrides MALFORMED_EVENT_POLICY)")

	rootCmd.AddCommand(quarantineCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("auditd-ingest failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies any flags set on the command line.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	overrides := map[string]*string{
		"source":       &cfg.AuditLogsPath,
		"store-driver": &cfg.StoreDriver,
		"store-dsn":    &cfg.StoreDSN,
		"log-level":    &cfg.LogLevel,
		"skip-file":    &cfg.SkipFileMethod,
		"skip-event":   &cfg.SkipEventMethod,
		"on-malformed": &cfg.MalformedEventPolicy,
	}
	for name, target := range overrides {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return nil, err
		}
		*target = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	// Fatal signals abort the run and roll back its transaction.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewIngestMetrics()
	if cfg.PushGateway != "" {
		defer func() {
			pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.Push(pushCtx, cfg.PushGateway); err != nil {
				log.Warn("failed to push metrics", "gateway", cfg.PushGateway, "error", err)
			}
		}()
	}

	// --- Record Store ---
	db, dialect, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	recordRepo := sqlstore.NewRecordRepository(db, dialect, log)
	if err := recordRepo.Migrate(ctx); err != nil {
		return err
	}

	// --- Optional Run Lock ---
	var lock domain.RunLock
	if cfg.RedisAddr != "" {
		redisClient, err := newRedisClient(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		runLock := redisrepo.NewRunLock(redisClient, cfg.RunLockKey, cfg.RunLockTTL, log)
		keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
		defer cancelKeepAlive()
		lock = &keepAliveLock{RunLock: runLock, ctx: keepAliveCtx, interval: cfg.RunLockTTL / 3}
	}

	// --- Optional Quarantine ---
	var quarantineRepo domain.QuarantineRepository
	if cfg.QuarantinePath != "" {
		q, err := quarantine.NewRepository(cfg.QuarantinePath, cfg.QuarantineSegmentSize, cfg.QuarantineMaxDiskSize, log)
		if err != nil {
			return err
		}
		defer q.Close()
		quarantineRepo = q
	}

	uc := usecase.NewIngestAuditLogsUseCase(recordRepo, lock, quarantineRepo, m, log, usecase.IngestOptions{
		SourcePath:    cfg.AuditLogsPath,
		CompareColumn: cfg.CompareColumn(),
		SkipEvent:     cfg.SkipEventPolicy(),
		Malformed:     cfg.MalformedPolicy(),
		Redactor:      pii.NewRedactor(strings.Split(cfg.PIIRedactionFields, ","), log),
	})

	_, err = uc.Run(ctx)
	return err
}

func newRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// keepAliveLock refreshes the lock TTL for as long as it is held.
type keepAliveLock struct {
	*redisrepo.RunLock
	ctx      context.Context
	interval time.Duration
	cancel   context.CancelFunc
}

func (l *keepAliveLock) Acquire(ctx context.Context) error {
	if err := l.RunLock.Acquire(ctx); err != nil {
		return err
	}
	keepCtx, cancel := context.WithCancel(l.ctx)
	l.cancel = cancel
	go l.RunLock.KeepAlive(keepCtx, l.interval)
	return nil
}

func (l *keepAliveLock) Release(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}
	return l.RunLock.Release(ctx)
}
