package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsar-rules/pulsar/internal/api"
	"github.com/pulsar-rules/pulsar/internal/bus"
	"github.com/pulsar-rules/pulsar/internal/domain"
	"github.com/pulsar-rules/pulsar/internal/journal"
	"github.com/pulsar-rules/pulsar/internal/planner"
	"github.com/pulsar-rules/pulsar/internal/runtime"
	"github.com/pulsar-rules/pulsar/internal/store"
)

func runCmd(ctx context.Context) *cobra.Command {
	var (
		planDir   string
		storeDSN  string
		cycleMs   int
		bufferCap int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a compiled plan against a sensor store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := domain.DefaultRuntimeConfig()
			if storeDSN != "" {
				sc, err := parseStoreDSN(storeDSN)
				if err != nil {
					return err
				}
				cfg.Store = sc
			}
			applyEnvOverrides(cfg)
			if cycleMs > 0 {
				cfg.CycleTimeMs = cycleMs
			}
			if bufferCap > 0 {
				cfg.BufferCapacity = bufferCap
			}
			return runPlan(ctx, planDir, cfg)
		},
	}

	cmd.Flags().StringVar(&planDir, "plan", "", "directory holding execution_plan.json and rules.manifest.json")
	cmd.Flags().StringVar(&storeDSN, "store", "", "store connection string, e.g. redis://localhost:6379/0 or memory://")
	cmd.Flags().IntVar(&cycleMs, "cycle-ms", 0, "override the compiled cycle time")
	cmd.Flags().IntVar(&bufferCap, "buffer-capacity", 0, "override the compiled ring buffer capacity")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}

func runPlan(ctx context.Context, planDir string, cfg *domain.RuntimeConfig) error {
	program, err := runtime.Load(planDir)
	if err != nil {
		return fmt.Errorf("load plan from %s: %w", planDir, err)
	}
	manifest, err := planner.LoadManifest(planDir)
	if err != nil {
		slog.Warn("manifest not loaded", "dir", planDir, "error", err)
	}

	sensorStore, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer sensorStore.Close()
	slog.Info("store initialized", "type", cfg.Store.Type)

	msgBus, err := bus.New(cfg.Bus, sensorStore)
	if err != nil {
		return fmt.Errorf("initialize bus: %w", err)
	}
	defer msgBus.Close()
	slog.Info("bus initialized", "type", cfg.Bus.Type)

	jrnl, err := journal.New(cfg.Journal)
	if err != nil {
		return fmt.Errorf("initialize journal: %w", err)
	}
	if jrnl != nil {
		defer jrnl.Close()
		slog.Info("journal initialized", "driver", cfg.Journal.Driver)
	}

	orch, err := runtime.New(program, sensorStore, runtime.Options{
		CycleTimeMs:    cfg.CycleTimeMs,
		BufferCapacity: cfg.BufferCapacity,
		MaxWorkers:     cfg.MaxWorkers,
		Bus:            msgBus,
		Journal:        jrnl,
	})
	if err != nil {
		return err
	}

	var srv *api.Server
	if cfg.Server.Enabled {
		srv = api.NewServer(cfg.Server, orch, sensorStore, manifest, Version)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("status server failed", "error", err)
			}
		}()
		slog.Info("status server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	}

	if err := orch.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := orch.Stop(); err != nil {
		slog.Error("orchestrator stop", "error", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	slog.Info("pulsar shutdown complete")
	return nil
}

// parseStoreDSN maps a connection string onto a store configuration.
// Supported forms: memory://, redis://[:password@]host:port[/db].
func parseStoreDSN(dsn string) (domain.StoreConfig, error) {
	if dsn == "memory" || dsn == "memory://" {
		return domain.StoreConfig{Type: "memory"}, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return domain.StoreConfig{}, fmt.Errorf("invalid store connection string: %w", err)
	}
	switch u.Scheme {
	case "redis":
		sc := domain.StoreConfig{Type: "redis", RedisAddr: u.Host, KeyPrefix: "pulsar:"}
		if u.User != nil {
			if pw, ok := u.User.Password(); ok {
				sc.RedisPassword = pw
			}
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return domain.StoreConfig{}, fmt.Errorf("invalid redis db in %q", dsn)
			}
			sc.RedisDB = n
		}
		return sc, nil
	default:
		return domain.StoreConfig{}, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// This enables configuration via environment for Docker/Kubernetes
// deployments.
func applyEnvOverrides(cfg *domain.RuntimeConfig) {
	if addr := os.Getenv("PULSAR_REDIS_ADDR"); addr != "" {
		cfg.Store.Type = "redis"
		cfg.Store.RedisAddr = addr
	}
	if password := os.Getenv("PULSAR_REDIS_PASSWORD"); password != "" {
		cfg.Store.RedisPassword = password
	}
	if db := os.Getenv("PULSAR_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			cfg.Store.RedisDB = d
		}
	}
	if prefix := os.Getenv("PULSAR_KEY_PREFIX"); prefix != "" {
		cfg.Store.KeyPrefix = prefix
	}

	if busType := os.Getenv("PULSAR_BUS_TYPE"); busType != "" {
		cfg.Bus.Type = busType
	}
	if u := os.Getenv("PULSAR_NATS_URL"); u != "" {
		cfg.Bus.NATSUrl = u
	}

	if driver := os.Getenv("PULSAR_JOURNAL_DRIVER"); driver != "" {
		cfg.Journal.Driver = driver
	}
	if path := os.Getenv("PULSAR_JOURNAL_SQLITE_PATH"); path != "" {
		cfg.Journal.SQLitePath = path
	}
	if host := os.Getenv("PULSAR_POSTGRES_HOST"); host != "" {
		cfg.Journal.PostgresHost = host
	}
	if port := os.Getenv("PULSAR_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Journal.PostgresPort = p
		}
	}
	if user := os.Getenv("PULSAR_POSTGRES_USER"); user != "" {
		cfg.Journal.PostgresUser = user
	}
	if password := os.Getenv("PULSAR_POSTGRES_PASSWORD"); password != "" {
		cfg.Journal.PostgresPassword = password
	}
	if db := os.Getenv("PULSAR_POSTGRES_DB"); db != "" {
		cfg.Journal.PostgresDB = db
	}

	if port := os.Getenv("PULSAR_STATUS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("PULSAR_STATUS_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if os.Getenv("PULSAR_STATUS_DISABLED") == "true" {
		cfg.Server.Enabled = false
	}
}
