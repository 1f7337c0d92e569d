// Command mudd is the driver kernel's entrypoint: it wires config,
// codeloader, compiler, and worldstate together behind a small cobra CLI,
// adapted from the teacher's cmd/nova main (the same
// persistent-flag/subcommand/signal-handling shape), trimmed down from
// its Firecracker/Redis/Postgres-backed function platform surface to the
// driver's serve/stats/reload/save/restore operations (spec.md §6.4,
// §4.1).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/mudkernel/internal/circuitbreaker"
	"github.com/oriys/mudkernel/internal/codeloader"
	"github.com/oriys/mudkernel/internal/compiler"
	"github.com/oriys/mudkernel/internal/config"
	"github.com/oriys/mudkernel/internal/logging"
	"github.com/oriys/mudkernel/internal/metrics"
	"github.com/oriys/mudkernel/internal/persistence"
	"github.com/oriys/mudkernel/internal/statestore"
	"github.com/oriys/mudkernel/internal/worldstate"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "mudd",
		Short: "mudd - the MUD driver kernel",
		Long:  "A single-process driver kernel hosting blueprints/instances, the tick scheduler pipeline, and the world registries.",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, env vars and defaults otherwise)")

	root.AddCommand(
		serveCmd(),
		statsCmd(),
		reloadCmd(),
		saveCmd(),
		restoreCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// buildBackend constructs the durable statestore.Backend cfg.World.Backend
// selects ("postgres"/"redis"), or nil for "memory" (the default): no
// mirror, local-file snapshots only.
func buildBackend(ctx context.Context, cfg *config.Config) (statestore.Backend, error) {
	switch cfg.World.Backend {
	case "", "memory":
		return nil, nil
	case "postgres":
		return statestore.NewPostgresBackend(ctx, cfg.Postgres.DSN)
	case "redis":
		return statestore.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		return nil, fmt.Errorf("buildWorld: unknown world backend %q", cfg.World.Backend)
	}
}

// buildWorld wires a WorldState per cfg: a FileLoader staged behind an
// mtime-keyed CachedLoader, a GoPluginCompiler, the breaker/timeout
// settings from cfg.Breaker/cfg.Tick, and the optional durable backend
// the periodic snapshotter mirrors into (SPEC_FULL.md §3/§6.4 NEW).
func buildWorld(cfg *config.Config, deliver worldstate.Deliverer) (*worldstate.WorldState, error) {
	loader := codeloader.NewCachedLoader(codeloader.NewFileLoader(cfg.World.WorldRoot))
	comp := compiler.NewGoPluginCompiler(cfg.World.PluginTmpDir)

	breaker := circuitbreaker.Config{}
	if cfg.Breaker.Enabled {
		breaker = circuitbreaker.Config{
			ErrorPct:       cfg.Breaker.ErrorPct,
			WindowDuration: cfg.Breaker.WindowDuration,
			OpenDuration:   cfg.Breaker.OpenDuration,
			HalfOpenProbes: cfg.Breaker.HalfOpenProbes,
		}
	}

	backend, err := buildBackend(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("build statestore backend: %w", err)
	}

	ws, err := worldstate.New(worldstate.Config{
		Loader:           loader,
		Compiler:         comp,
		HookTimeout:      cfg.Tick.HookTimeout,
		Breaker:          breaker,
		CronEnabled:      cfg.Cron.Enabled,
		IOWorkers:        4,
		SnapshotPath:     cfg.Persistence.SnapshotPath,
		SnapshotInterval: cfg.Persistence.SnapshotInterval,
		Backend:          backend,
		Deliver:          deliver,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}
	return ws, nil
}

func serveCmd() *cobra.Command {
	var metricsAddr string
	var snapshotOnExit string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the tick driver loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Daemon.MetricsAddr
			}
			if snapshotOnExit == "" {
				snapshotOnExit = cfg.Persistence.SnapshotPath
			}

			ws, err := buildWorld(cfg, func(toID, rendered string) {
				logging.Op().Debug("deliver", "to", toID, "line", rendered)
			})
			if err != nil {
				return err
			}

			if _, err := os.Stat(snapshotOnExit); err == nil {
				if _, err := ws.Restore(cmd.Context(), snapshotOnExit); err != nil {
					logging.Op().Warn("snapshot restore failed, starting with an empty world", "path", snapshotOnExit, "error", err)
				} else {
					logging.Op().Info("restored snapshot", "path", snapshotOnExit)
				}
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.PrometheusHandler())
				mux.Handle("/metrics.json", metrics.Global().JSONHandler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Warn("metrics server stopped", "error", err)
					}
				}()
				defer srv.Close()
				logging.Op().Info("metrics listening", "addr", metricsAddr)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go ws.RunLoop(ctx, cfg.Tick.Interval)
			<-ctx.Done()
			ws.Stop()

			if snapshotOnExit != "" {
				if err := ws.Save(snapshotOnExit, nil); err != nil {
					logging.Op().Warn("final snapshot save failed", "path", snapshotOnExit, "error", err)
				} else {
					logging.Op().Info("saved snapshot on exit", "path", snapshotOnExit)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics and /metrics.json on (overrides config)")
	cmd.Flags().StringVar(&snapshotOnExit, "snapshot", "", "snapshot path to restore on start and save on exit (overrides config)")
	return cmd
}

func statsCmd() *cobra.Command {
	var blueprintOrInstance string
	cmd := &cobra.Command{
		Use:   "stats <blueprint-or-instance-id>",
		Short: "print get_stats for a blueprint or instance, restored from the configured snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blueprintOrInstance = args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := buildWorld(cfg, nil)
			if err != nil {
				return err
			}
			if _, err := ws.Restore(cmd.Context(), cfg.Persistence.SnapshotPath); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			stats, err := ws.Objects.GetStats(blueprintOrInstance)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "type\t%s\n", stats.TypeName)
			fmt.Fprintf(w, "blueprint\t%s\n", stats.BlueprintID)
			if stats.InstanceCount > 0 {
				fmt.Fprintf(w, "instances\t%d\n", stats.InstanceCount)
			}
			if !stats.CreatedAt.IsZero() {
				fmt.Fprintf(w, "created_at\t%s\n", stats.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "state_keys\t%v\n", stats.StateKeys)
			}
			fmt.Fprintf(w, "breaker\t%s\n", ws.BreakerState(stats.BlueprintID))
			return nil
		},
	}
	return cmd
}

func reloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload <blueprint-id>",
		Short: "hot-reload a blueprint in a running world's snapshot, preserving instance state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := buildWorld(cfg, nil)
			if err != nil {
				return err
			}
			if _, err := ws.Restore(cmd.Context(), cfg.Persistence.SnapshotPath); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			if err := ws.ReloadBlueprint(cmd.Context(), args[0]); err != nil {
				return err
			}
			return ws.Save(cfg.Persistence.SnapshotPath, nil)
		},
	}
	return cmd
}

func saveCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "print the snapshot path and the size of an empty document (a live save happens on serve shutdown; nothing is written)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Persistence.SnapshotPath
			}
			doc := persistence.Document{Version: persistence.CurrentVersion, SavedAt: time.Now()}
			data, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Printf("would write an empty %d-byte document to %s; run 'serve' to save a live world\n", len(data), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "snapshot path (overrides config)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "validate a snapshot document parses and print its instance/container/equipment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Persistence.SnapshotPath
			}
			doc, err := persistence.Load(path)
			if err != nil {
				return err
			}
			fmt.Printf("version=%d saved_at=%s instances=%d containers=%d equipment=%d\n",
				doc.Version, doc.SavedAt.Format(time.RFC3339), len(doc.Instances), len(doc.Containers.Contents), len(doc.Equipment))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "snapshot path (overrides config)")
	return cmd
}
