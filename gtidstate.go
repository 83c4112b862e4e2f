package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/gtidstate/admin"
	"github.com/maxpert/gtidstate/cfg"
	"github.com/maxpert/gtidstate/state"
	"github.com/maxpert/gtidstate/store"
	"github.com/maxpert/gtidstate/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint32("server_id", cfg.Config.ServerID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("gtidstate - Replication GTID State Tracker")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Open the durable position store
	storePath := filepath.Join(cfg.Config.DataDir, "store")
	st, err := store.Open(storePath, store.Options{
		CacheSizeMB:    cfg.Config.Store.CacheSizeMB,
		MemTableSizeMB: cfg.Config.Store.MemTableSizeMB,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", storePath).Msg("Failed to open position store")
		return
	}
	defer st.Close()

	// Rebuild replication state from the store
	slaveState := state.NewSlaveState(st)
	slaveState.SetTableList(cfg.Config.Replication.PosTables)
	if err := st.RestoreSlaveState(slaveState); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore slave state")
		return
	}

	binlogState := state.NewBinlogState()
	if err := st.LoadBinlogState(binlogState); err != nil {
		log.Fatal().Err(err).Msg("Failed to load binlog state")
		return
	}
	if binlogState.Count() == 0 && !slaveState.IsEmpty() {
		// Fresh binlog on a server that has applied events before: seed the
		// binlog state from the slave position, the way a restarted replica
		// reconstructs gtid_binlog_state.
		if err := binlogState.LoadFromSlaveState(slaveState); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed binlog state from slave state")
			return
		}
		log.Info().Str("state", binlogState.StateString()).Msg("Seeded binlog state from slave position")
	}

	waiting := state.NewWaiting(slaveState)

	log.Info().
		Str("gtid_binlog_pos", binlogState.Pos()).
		Str("gtid_slave_pos", slaveState.String(nil)).
		Msg("Replication state restored")

	// Status API
	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		handlers := admin.NewAdminHandlers(binlogState, slaveState, waiting, st)
		admin.RegisterRoutes(mux, handlers)

		adminAddr := fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port)
		go func() {
			if err := http.ListenAndServe(adminAddr, mux); err != nil {
				log.Error().Err(err).Str("address", adminAddr).Msg("Admin server stopped")
			}
		}()
		log.Info().Str("address", adminAddr).Msg("Admin server listening")
	}

	// Prometheus metrics
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handler)
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)
		go func() {
			if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
				log.Error().Err(err).Str("address", metricsAddr).Msg("Metrics server stopped")
			}
		}()
		log.Info().Str("address", metricsAddr).Msg("Metrics server listening")
	}

	// Periodic purge of superseded position rows
	purgeCtx, cancelPurge := context.WithCancel(context.Background())
	defer cancelPurge()
	go runPurgeLoop(purgeCtx, slaveState)

	log.Info().
		Uint32("server_id", cfg.Config.ServerID).
		Uint32("domain_id", cfg.Config.Replication.DomainID).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancelPurge()
	if err := st.SaveBinlogState(binlogState); err != nil {
		log.Error().Err(err).Msg("Failed to save binlog state on shutdown")
	}
}

// runPurgeLoop periodically truncates superseded rows from the position
// store, keeping one row per domain.
func runPurgeLoop(ctx context.Context, ss *state.SlaveState) {
	interval := time.Duration(cfg.Config.Replication.PurgeIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ss.TruncateStateTable(ctx); err != nil {
				log.Warn().Err(err).Msg("Position row purge failed, rows kept for retry")
			}
		}
	}
}
