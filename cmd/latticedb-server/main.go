// Command latticedb-server boots the transactional core standalone:
// load config, open persistence, bootstrap the engine, and serve until
// a signal asks it to stop. Modeled on kv/tinykv-server's main.go (TOML
// config, flag override, signal handling, /status endpoint) with the
// gRPC listener removed — this core has no session/transport layer of
// its own, per spec §1's scope — and a Prometheus /metrics handler
// added in its place.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/latticedb/core/bench"
	"github.com/latticedb/core/config"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/engine"
	"github.com/latticedb/core/log"
)

var (
	configPath string
	dbPath     string
)

func main() {
	root := &cobra.Command{
		Use:   "latticedb-server",
		Short: "Standalone server for the latticedb transactional core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&dbPath, "db-path", "", "override db_path from the config file")

	root.AddCommand(newServeCommand(), newBenchCommand())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() *config.Config {
	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	} else {
		cfg = config.NewDefaultConfig()
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	log.SetLevelByString(cfg.LogLevel)
	return cfg
}

// demoSchema is the fixed index definition set this standalone binary
// boots with absent a schema management layer (out of scope per spec
// §1) to register one for it. A real deployment would load these from
// whatever schema store owns table definitions.
func demoSchema() []document.IndexDef {
	return []document.IndexDef{
		{Name: "by_qty", Table: "items", Fields: []string{"qty"}},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, serving metrics and a liveness endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			eng, err := engine.New(cfg, demoSchema())
			if err != nil {
				return fmt.Errorf("bootstrap engine: %w", err)
			}
			defer func() {
				if err := eng.Close(); err != nil {
					log.Errorf("closing engine: %v", err)
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
				srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					log.Infof("serving metrics on %s", cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Errorf("metrics server: %v", err)
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			go func() {
				sig := <-sigCh
				log.Infof("got signal [%s] to exit", sig)
				cancel()
			}()

			log.Info("engine started, ts=", eng.CurrentTs())
			err = eng.Run(ctx)
			if err != nil && err != context.Canceled {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func newBenchCommand() *cobra.Command {
	var ops int
	var concurrency int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic insert/commit workload against an in-process engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			eng, err := engine.New(cfg, demoSchema())
			if err != nil {
				return fmt.Errorf("bootstrap engine: %w", err)
			}
			defer func() { _ = eng.Close() }()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = eng.Run(ctx) }()
			// Give the committer's persist loop a moment to come up
			// before the workload starts hammering Commit.
			time.Sleep(10 * time.Millisecond)

			runner := bench.Adapt(func() bench.Txn { return eng.BeginTransaction() })
			result := bench.Run(ctx, runner, bench.Options{Ops: ops, Concurrency: concurrency})
			fmt.Printf("ops=%d concurrency=%d committed=%d occ_aborts=%d elapsed=%s throughput=%.0f/s\n",
				result.Ops, concurrency, result.Committed, result.OCCAborts, result.Elapsed, result.ThroughputPerSec())
			return nil
		},
	}
	cmd.Flags().IntVar(&ops, "ops", 10000, "number of insert transactions to run")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "number of concurrent workers")
	return cmd
}
