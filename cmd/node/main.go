package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/clobdex/params"
	"github.com/uhyunpark/clobdex/pkg/api"
	"github.com/uhyunpark/clobdex/pkg/crypto"
	"github.com/uhyunpark/clobdex/pkg/engine"
	"github.com/uhyunpark/clobdex/pkg/storage"
	"github.com/uhyunpark/clobdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	// ---- Storage ----
	var (
		journals engine.MultiJournal
		store    *storage.PebbleStore
		walPath  = cfg.Storage.WALFile
	)
	if cfg.Storage.DataDir != "" {
		store, err = storage.NewPebbleStore(cfg.Storage.DataDir, storage.PebbleOptions{
			NoSync: cfg.Storage.NoSync,
			Logger: logger,
		})
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "dir", cfg.Storage.DataDir, "error", err)
		}
		defer store.Close()
		journals = append(journals, store)
	}

	// replay before the WAL is reopened for appending
	var walStates map[string]engine.RestoreState
	if walPath != "" {
		walStates, err = storage.ReplayWAL(walPath, cfg.Engine.TradeHistoryLimit)
		if err != nil {
			sugar.Fatalw("wal_replay_failed", "path", walPath, "error", err)
		}
		if err := os.MkdirAll(filepath.Dir(walPath), 0o755); err != nil {
			sugar.Fatalw("wal_dir_failed", "path", walPath, "error", err)
		}
		wal, err := storage.NewFileWAL(walPath, !cfg.Storage.NoSync)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "path", walPath, "error", err)
		}
		defer wal.Close()
		journals = append(journals, wal)
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		TradeHistoryLimit: cfg.Engine.TradeHistoryLimit,
		ClosedOrderLimit:  cfg.Engine.ClosedOrderLimit,
		CheckInvariants:   cfg.Engine.CheckInvariants,
	}, logger, engine.WithJournal(journals))

	marketCfgs, err := params.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		sugar.Fatalw("markets_load_failed", "file", cfg.MarketsFile, "error", err)
	}
	for _, mc := range marketCfgs {
		m, err := mc.Build()
		if err != nil {
			sugar.Fatalw("market_invalid", "error", err)
		}
		if err := eng.AddMarket(m); err != nil {
			sugar.Fatalw("market_add_failed", "market", m.Symbol, "error", err)
		}
		if err := restoreMarket(eng, m.Symbol, store, walStates, eng.Config().TradeHistoryLimit, sugar); err != nil {
			sugar.Fatalw("market_restore_failed", "market", m.Symbol, "error", err)
		}
	}

	// ---- API ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.API.ChainID)
	server := api.NewServer(eng, crypto.NewRequestSigner(domain), api.Config{
		CORSOrigins:     cfg.API.CORSOrigins,
		SignatureMaxAge: cfg.API.SignatureMaxAge,
		DefaultDepth:    cfg.API.DefaultDepth,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"api_addr", cfg.API.Addr,
		"markets", len(marketCfgs),
		"data_dir", cfg.Storage.DataDir,
		"wal_file", walPath,
		"chain_id", cfg.API.ChainID,
	)

	if err := server.Start(ctx, cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("api_server_error", "error", err)
	}
	sugar.Info("node_stopped")
}

// restoreMarket rebuilds one market from pebble when configured, otherwise
// from the replayed WAL. Markets with no persisted state start empty.
func restoreMarket(eng *engine.Engine, symbol string, store *storage.PebbleStore, walStates map[string]engine.RestoreState, tradeLimit int, sugar *zap.SugaredLogger) error {
	var (
		st     engine.RestoreState
		source string
	)
	switch {
	case store != nil:
		loaded, err := store.LoadState(symbol, tradeLimit)
		if err != nil {
			return err
		}
		st, source = loaded, "pebble"
	case walStates != nil:
		st, source = walStates[symbol], "wal"
	default:
		return nil
	}
	if st.BatchSeq == 0 {
		return nil
	}
	sugar.Infow("market_restoring", "market", symbol, "source", source, "batch_seq", st.BatchSeq)
	return eng.Restore(symbol, st)
}
