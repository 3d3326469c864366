package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/marketplace"
	"github.com/uhyunpark/hypermarket/pkg/app/core/mempool"
	"github.com/uhyunpark/hypermarket/pkg/app/core/registry"
	"github.com/uhyunpark/hypermarket/pkg/app/market"
)

const maxTxBodyBytes = 64 << 10

// Server handles REST API and WebSocket connections
type Server struct {
	app    *market.App
	router *mux.Router
	hub    *Hub // WebSocket hub
	cache  *cache.Cache
	cors   *cors.Cors
	logger *zap.SugaredLogger
	srv    *http.Server

	// Relay, when set, forwards accepted submissions to the block producer
	Relay func(raw []byte)
}

// NewServer creates a new API server. allowedOrigins configures CORS;
// empty means the local dev frontends.
func NewServer(app *market.App, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	sugar := logger.Named("api").Sugar()

	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(sugar),
		cache:  cache.New(time.Minute, 5*time.Minute),
		cors: cors.New(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}),
		logger: sugar,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Ledger and catalog endpoints
	api.HandleFunc("/ledger", s.handleGetLedger).Methods("GET")
	api.HandleFunc("/listings", s.handleGetListings).Methods("GET")
	api.HandleFunc("/listings/{id}", s.handleGetListing).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/listings", s.handleGetAccountListings).Methods("GET")
	api.HandleFunc("/accounts/{address}/assets", s.handleGetAccountAssets).Methods("GET")

	// Registry endpoints
	api.HandleFunc("/assets/{id}", s.handleGetAsset).Methods("GET")

	// Transactions
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

// Start starts the hub and serves until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infow("api_starting", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting requests and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	last, err := s.app.LastBlock()
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:      last.Height,
		AppHash:     last.AppHash.Hex(),
		BlockTime:   last.Time,
		MempoolSize: s.app.MempoolSize(),
	})
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Stats()
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, LedgerInfo{Stats: stats, Unsold: stats.Unsold()})
}

// handleGetListings serves the unsold catalog. Results are cached per
// finalized height.
func (s *Server) handleGetListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if status := q.Get("status"); status != "" && status != "unsold" {
		respondError(w, http.StatusBadRequest, "unsupported status filter", "only status=unsold is supported")
		return
	}
	if seller := q.Get("seller"); seller != "" {
		if !common.IsHexAddress(seller) {
			respondError(w, http.StatusBadRequest, "invalid address", "")
			return
		}
		s.respondListings(w, func() ([]*marketplace.Listing, error) {
			all, err := s.app.ListBySeller(common.HexToAddress(seller))
			if err != nil {
				return nil, err
			}
			unsold := all[:0]
			for _, l := range all {
				if !l.Sold() {
					unsold = append(unsold, l)
				}
			}
			return unsold, nil
		})
		return
	}

	last, err := s.app.LastBlock()
	if err != nil {
		s.internalError(w, err)
		return
	}
	if cached, ok := s.cache.Get(unsoldKey(last.Height)); ok {
		respondJSON(w, cached)
		return
	}
	// a block may commit between the lookup and the scan; key the entry
	// by the height the scan actually saw
	at, listings, err := s.app.UnsoldAt()
	if err != nil {
		s.internalError(w, err)
		return
	}
	resp := ListingsResponse{Height: at.Height, Listings: nonNil(listings)}
	s.cache.Set(unsoldKey(at.Height), resp, cache.DefaultExpiration)
	respondJSON(w, resp)
}

func unsoldKey(height uint64) string { return "unsold:" + strconv.FormatUint(height, 10) }

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	listing, err := s.app.GetListing(id)
	if errors.Is(err, marketplace.ErrNotFound) {
		respondErrorCode(w, http.StatusNotFound, "listing not found", marketplace.CodeNotFound, "")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, listing)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	acc, err := s.app.Account(addr)
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, AccountInfo{Address: addr.Hex(), Balance: acc.Balance, Nonce: acc.Nonce})
}

// handleGetAccountListings returns listings bought by the address, or
// created by it with ?role=seller
func (s *Server) handleGetAccountListings(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	switch r.URL.Query().Get("role") {
	case "", "owner":
		s.respondListings(w, func() ([]*marketplace.Listing, error) { return s.app.ListOwnedBy(addr) })
	case "seller":
		s.respondListings(w, func() ([]*marketplace.Listing, error) { return s.app.ListBySeller(addr) })
	default:
		respondError(w, http.StatusBadRequest, "invalid role", "expected owner or seller")
	}
}

func (s *Server) handleGetAccountAssets(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	assets, err := s.app.AssetsOf(addr)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if assets == nil {
		assets = []*registry.Asset{}
	}
	respondJSON(w, assets)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	asset, err := s.app.Asset(id)
	if errors.Is(err, registry.ErrUnknownAsset) {
		respondError(w, http.StatusNotFound, "asset not found", "")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, asset)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	b := common.FromHex(hash)
	if len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid tx hash", "")
		return
	}
	rc, ok, err := s.app.Receipt(common.BytesToHash(b))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "receipt not found", "tx is pending or unknown")
		return
	}
	respondJSON(w, rc)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	hash, err := s.app.PushTx(body)
	switch {
	case errors.Is(err, market.ErrInvalidTx):
		respondErrorCode(w, http.StatusBadRequest, "invalid transaction", market.CodeInvalidTx, err.Error())
		return
	case errors.Is(err, mempool.ErrDuplicate):
		respondErrorCode(w, http.StatusConflict, "transaction already pending", market.CodeDuplicate, hash.Hex())
		return
	case errors.Is(err, mempool.ErrFull):
		respondError(w, http.StatusServiceUnavailable, "mempool full", "retry later")
		return
	case err != nil:
		s.internalError(w, err)
		return
	}

	if s.Relay != nil {
		s.Relay(body)
	}

	id := uuid.NewString()
	s.logger.Debugw("tx_submitted", "tx", hash.Hex(), "submission", id, "bytes", len(body))
	respondJSONStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "submitted", TxHash: hash.Hex(), SubmissionID: id})
}

// ==============================
// Broadcast (subscribed to the app)
// ==============================

// OnCommit pushes block and receipt events to WebSocket clients
func (s *Server) OnCommit(b market.CommittedBlock) {
	failed := 0
	for _, rc := range b.Receipts {
		if !rc.OK() {
			failed++
		}
		msg := WSMessage{Type: "receipt", Height: b.Height, TxHash: rc.TxHash.Hex(), Data: rc}
		if rc.From != (common.Address{}) {
			s.hub.BroadcastToChannel(AccountChannel(rc.From), msg)
		}
		for _, ev := range rc.Events {
			evMsg := WSMessage{Type: ev.Type, Height: b.Height, TxHash: rc.TxHash.Hex(), Data: ev.Data}
			switch ev.Type {
			case market.EventListingCreated:
				s.hub.BroadcastToChannel(ChannelListings, evMsg)
			case market.EventListingSold:
				s.hub.BroadcastToChannel(ChannelListings, evMsg)
				var sold marketplace.ListingSold
				if err := json.Unmarshal(ev.Data, &sold); err == nil {
					s.hub.BroadcastToChannel(AccountChannel(sold.Seller), evMsg)
				}
			}
		}
	}
	s.hub.BroadcastToChannel(ChannelBlocks, WSMessage{
		Type:   "block",
		Height: b.Height,
		Data: BlockUpdate{
			Height:  b.Height,
			AppHash: fmt.Sprintf("0x%x", b.AppHash[:]),
			Txs:     len(b.Receipts),
			Failed:  failed,
		},
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) respondListings(w http.ResponseWriter, query func() ([]*marketplace.Listing, error)) {
	last, err := s.app.LastBlock()
	if err != nil {
		s.internalError(w, err)
		return
	}
	listings, err := query()
	if err != nil {
		s.internalError(w, err)
		return
	}
	respondJSON(w, ListingsResponse{Height: last.Height, Listings: nonNil(listings)})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Errorw("request_failed", "err", err)
	respondErrorCode(w, http.StatusInternalServerError, "internal error", marketplace.CodeInternal, "")
}

func nonNil(l []*marketplace.Listing) []*marketplace.Listing {
	if l == nil {
		return []*marketplace.Listing{}
	}
	return l
}

func parseID(w http.ResponseWriter, v string) (uint64, bool) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", v)
		return 0, false
	}
	return id, true
}

func parseAddress(w http.ResponseWriter, v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondErrorCode(w, status, error, "", message)
}

func respondErrorCode(w http.ResponseWriter, status int, error, code, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   error,
		Code:    code,
		Message: message,
	})
}
