package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/hypermarket/params"
	"github.com/uhyunpark/hypermarket/pkg/abci"
	"github.com/uhyunpark/hypermarket/pkg/api"
	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/market"
	"github.com/uhyunpark/hypermarket/pkg/chain"
	"github.com/uhyunpark/hypermarket/pkg/crypto"
	"github.com/uhyunpark/hypermarket/pkg/p2p"
	"github.com/uhyunpark/hypermarket/pkg/storage"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- State ----
	db, err := storage.Open(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("state_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer db.Close()

	domain := crypto.DefaultDomain()
	domain.ChainID = cfg.Ledger.ChainID

	app, err := market.NewApp(db, market.Config{
		Ledger: marketplace.Config{
			Address:    cfg.Ledger.Address,
			Operator:   cfg.Ledger.Operator,
			ListingFee: cfg.Ledger.ListingFee,
		},
		Registry: cfg.Ledger.Registry,
		Bridge:   cfg.Ledger.Bridge,
		Domain:   domain,
	}, logger)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	bridge := &abci.Bridge{App: app}
	blocks := storage.NewBlockStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Sequencer key ----
	var seqKey *crypto.BLSPubKey
	var seqSigner *crypto.BLSSigner
	if cfg.Node.Role == params.RoleSequencer {
		seqSigner, err = crypto.NewBLSSignerFromSeed(cfg.P2P.SequencerSeed)
		if err != nil {
			sugar.Fatalw("sequencer_key_failed", "err", err)
		}
		seqKey = seqSigner.Pubkey()
		sugar.Infow("sequencer_key", "pubkey", crypto.EncodeSignature(seqSigner.PubkeyBytes()))
	} else {
		seqKey, err = crypto.ParseBLSPubKey(cfg.P2P.SequencerPubKey)
		if err != nil {
			sugar.Fatalw("sequencer_pubkey_invalid", "err", err)
		}
	}

	// ---- Network ----
	net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
		ListenAddr:   cfg.P2P.Listen,
		Bootstrap:    cfg.P2P.Bootstrap,
		SequencerKey: seqKey,
		Logger:       sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}
	defer net.Close()
	sugar.Infow("p2p_listening", "addrs", net.Addrs())

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.API.CORSOrigins, logger)
	app.Subscribe(apiServer.OnCommit)

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	var height func() chain.Height
	switch cfg.Node.Role {
	case params.RoleSequencer:
		seq := chain.NewSequencer(bridge, blocks, util.RealClock{}, cfg.Node.MinBlockTime, chain.NodeID(net.Host().ID().String()))
		seq.Signer = seqSigner
		seq.SkipEmpty = cfg.Node.SkipEmpty
		seq.Logger = sugar
		seq.VerboseLogging = cfg.Node.Verbose
		if err := seq.Resume(); err != nil {
			sugar.Fatalw("resume_failed", "err", err)
		}
		seq.OnBlock = func(b chain.Block) {
			if err := net.PublishBlock(ctx, b); err != nil && ctx.Err() == nil {
				sugar.Warnw("publish_block_failed", "height", b.Height, "err", err)
			}
		}
		net.SetHandlers(p2p.Handlers{
			OnTx: func(_ context.Context, raw []byte) {
				if _, err := app.PushTx(raw); err != nil {
					sugar.Debugw("relayed_tx_rejected", "err", err)
				}
			},
		})

		// ---- Transaction Feeder (optional) ----
		// Enable with: ENABLE_TXGEN=true
		if cfg.Node.EnableTxGen {
			cancelFeeder := market.StartTxFeeder(ctx, app, market.DefaultFeederConfig(), logger)
			defer cancelFeeder()
		} else {
			sugar.Info("txgen_disabled")
		}

		go func() {
			if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Fatalw("sequencer_failed", "err", err)
			}
		}()
		height = seq.Height

	case params.RoleFollower:
		fol := chain.NewFollower(bridge, blocks, seqKey)
		fol.Logger = sugar
		if err := fol.Resume(); err != nil {
			sugar.Fatalw("resume_failed", "err", err)
		}
		apiServer.Relay = func(raw []byte) {
			if err := net.PublishTx(ctx, raw); err != nil {
				sugar.Warnw("relay_tx_failed", "err", err)
			}
		}
		net.SetHandlers(p2p.Handlers{
			OnBlock: func(_ context.Context, b chain.Block) {
				err := fol.Apply(b)
				switch {
				case err == nil, errors.Is(err, chain.ErrStaleBlock):
				case errors.Is(err, chain.ErrAppHashMismatch):
					// local state already advanced past the sequencer's
					sugar.Errorw("state_diverged", "height", b.Height, "err", err)
					stop()
				default:
					sugar.Warnw("block_rejected", "height", b.Height, "err", err)
				}
			},
		})
		height = fol.Height
	}

	sugar.Infow("node_starting",
		"role", cfg.Node.Role,
		"api", cfg.API.Addr,
		"ledger", cfg.Ledger.Address.Hex(),
		"listing_fee", cfg.Ledger.ListingFee,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	// Progress logging loop
	logInterval := chain.Height(100)
	lastLoggedHeight := height()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("api_shutdown_failed", "err", err)
			}
			cancel()
			sugar.Infow("node_stopped", "height", height())
			return
		case <-ticker.C:
			if h := height(); h-lastLoggedHeight >= logInterval {
				sugar.Infow("chain_progress", "height", h, "blocks_since_last_log", h-lastLoggedHeight)
				lastLoggedHeight = h
			}
		}
	}
}
