// Package api exposes the engine's public read surface over REST and the
// event stream over WebSocket. All endpoints are side-effect free: state
// changes happen through the engine API, not HTTP.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/crucible-fi/crucible/params"
	"github.com/crucible-fi/crucible/pkg/core/engine"
)

// Server handles the REST API and WebSocket connections.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
	hub    *Hub
}

// NewServer creates an API server over an engine. The returned server's
// Hub() should be wired as the engine's emitter.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for emitter wiring.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/collateral", s.handleGetCollateral).Methods("GET")
	api.HandleFunc("/constants", s.handleGetConstants).Methods("GET")
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/collateral/{asset}", s.handleGetCollateralBalance).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleGetCollateral(w http.ResponseWriter, r *http.Request) {
	reg := s.eng.Registry()
	assets := reg.Assets()

	out := make([]CollateralInfo, 0, len(assets))
	for _, asset := range assets {
		feed, err := reg.Feed(asset)
		if err != nil {
			continue
		}
		info := CollateralInfo{
			Asset:    asset.Hex(),
			Feed:     feed.Description(),
			Decimals: feed.Decimals(),
		}
		// Live price is best effort: a frozen feed is reported, not hidden.
		if price, updatedAt, err := feed.LatestPrice(); err != nil {
			info.PriceError = err.Error()
		} else {
			info.Price = price.String()
			info.UpdatedAt = updatedAt.Unix()
		}
		out = append(out, info)
	}

	respondJSON(w, out)
}

func (s *Server) handleGetConstants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, Constants{
		Precision:            params.Precision.String(),
		FeedPrecisionGap:     params.FeedPrecisionGap.String(),
		LiquidationThreshold: params.LiquidationThreshold.String(),
		LiquidationPrecision: params.LiquidationPrecision.String(),
		LiquidationBonus:     params.LiquidationBonus.String(),
		MinHealthFactor:      params.MinHealthFactor.String(),
		StalenessTimeoutSec:  int64(params.StalenessTimeout.Seconds()),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addrHex := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrHex) {
		respondError(w, http.StatusBadRequest, "invalid address", addrHex)
		return
	}
	account := common.HexToAddress(addrHex)

	debt, value, err := s.eng.AccountInformation(account)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "valuation unavailable", err.Error())
		return
	}
	hf, err := s.eng.HealthFactor(account)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "valuation unavailable", err.Error())
		return
	}

	respondJSON(w, AccountInfo{
		Address:            account.Hex(),
		DebtMinted:         debt.String(),
		CollateralValueUsd: value.String(),
		HealthFactor:       hf.String(),
		Liquidatable:       hf.Cmp(params.MinHealthFactor) < 0,
	})
}

func (s *Server) handleGetCollateralBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) || !common.IsHexAddress(vars["asset"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	account := common.HexToAddress(vars["address"])
	asset := common.HexToAddress(vars["asset"])

	if !s.eng.Registry().IsAccepted(asset) {
		respondError(w, http.StatusNotFound, "asset not accepted", asset.Hex())
		return
	}

	respondJSON(w, CollateralBalance{
		Address: account.Hex(),
		Asset:   asset.Hex(),
		Amount:  s.eng.CollateralBalance(account, asset).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}
