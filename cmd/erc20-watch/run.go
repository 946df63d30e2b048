package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devblac/erc20-watch/internal/config"
	"github.com/devblac/erc20-watch/internal/health"
	"github.com/devblac/erc20-watch/internal/logging"
	"github.com/devblac/erc20-watch/internal/metrics"
	"github.com/devblac/erc20-watch/internal/processor"
	"github.com/devblac/erc20-watch/internal/reconciler"
	"github.com/devblac/erc20-watch/internal/source/evm"
	"github.com/devblac/erc20-watch/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagFrom    uint64
	flagTo      uint64
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Catch up to the safe head and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not deliver to notification or nats sinks")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start height override when no cursor is stored")
	runCmd.Flags().Uint64Var(&flagTo, "to", 0, "Stop at height (inclusive)")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the chain and emit matching ERC-20 transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.NewWithLevel(logging.Level(cfg.Global.LogLevel))

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		client, err := evm.NewRPCClient(cfg.Source.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()

		filter, err := cfg.TransferFilter()
		if err != nil {
			return err
		}
		reg := buildRegistry(ctx, cfg, client, log)

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		srcCfg := sourceConfig(cfg)
		if flagFrom > 0 {
			srcCfg.StartBlock = strconv.FormatUint(flagFrom, 10)
		}
		if flagTo > 0 {
			srcCfg.StopBlock = flagTo
		}
		srcCfg.Once = flagOnce
		src, err := evm.NewSource(client, store, srcCfg, evm.WithLogger(log))
		if err != nil {
			return err
		}

		emitter, closeSinks, err := buildSinks(cfg, store, reg, log, flagDryRun)
		if err != nil {
			return err
		}
		defer closeSinks()

		proc := processor.New(filter,
			processor.WithLogger(log),
			processor.WithMetrics(mtr),
			processor.WithMissingReceiptsAlarm(cfg.Processor.MissingReceiptsAlarm),
		)
		opts := []reconciler.Option{reconciler.WithLogger(log), reconciler.WithMetrics(mtr)}
		cp, ok, err := src.Checkpoint(ctx)
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		if ok {
			opts = append(opts, reconciler.WithCheckpoint(cp))
			log.Info("resuming from checkpoint", "height", cp.Number, "hash", cp.Hash.Hex())
		}
		rec := reconciler.New(src, src, proc, emitter, opts...)

		sharedAddr := flagHealth != "" && flagHealth == flagMetrics
		if flagHealth != "" {
			var extra map[string]http.Handler
			if sharedAddr {
				extra = map[string]http.Handler{"/metrics": metrics.Handler()}
			}
			rpcChecker := health.NewRPCChecker(cfg.Source.ID, client)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:  store.Ping,
				RPCPing: rpcChecker.Ping,
				Checkpoint: func() (uint64, bool) {
					m, ok := rec.Checkpoint()
					return m.Number, ok
				},
			}, extra)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" && !sharedAddr {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		log.Info("erc20 watch started",
			"source", cfg.Source.ID,
			"filter", filter.String(),
			"sinks", len(emitter),
			"dry_run", flagDryRun,
		)
		if err := rec.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("shutting down")
				return nil
			}
			mtr.Errors()
			log.Error("run error", "error", err)
			return err
		}
		return nil
	},
}
