package market

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize   int           // Number of txs to generate per batch
	Interval    time.Duration // How often to generate batches
	NumAccounts int           // Number of simulated traders
}

// DefaultFeederConfig returns reasonable defaults for a dev node
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,
		Interval:    200 * time.Millisecond,
		NumAccounts: 20,
	}
}

// StartTxFeeder feeds generated traffic into the app until ctx is done.
// It requires the open faucet (no bridge address configured).
func StartTxFeeder(ctx context.Context, app *App, cfg TxFeederConfig, logger *zap.Logger) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("txfeeder").Sugar()

	if app.cfg.Bridge != (common.Address{}) {
		log.Warnw("feeder_disabled", "reason", "deposits require the bridge key", "bridge", app.cfg.Bridge.Hex())
		return cancel
	}

	gen := NewSignedTxGenerator(cfg.NumAccounts, app.cfg.Domain, app.cfg.Ledger)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		total, rejected := 0, 0
		log.Infow("feeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval, "accounts", cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				log.Infow("feeder_stopped", "txs", total, "rejected", rejected,
					"rate", float64(total)/elapsed.Seconds())
				return
			case <-ticker.C:
				for _, tx := range gen.GenerateBatch(app, cfg.BatchSize) {
					if _, err := app.PushTx(tx); err != nil {
						rejected++
						continue
					}
					total++
				}
			}
		}
	}()

	return cancel
}
