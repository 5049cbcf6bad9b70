package rpcServer

import (
	"net/http"
	"strconv"

	"github.com/copperlabs/engine/pkg/service/baseDataService"
	"github.com/copperlabs/engine/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errInvalidPagination = errors.New("limit and offset must be non-negative integers")

// parsePagination reads limit and offset. Missing values fall back to the
// defaults; clamping happens in the data service.
func parsePagination(r *http.Request) (*baseDataService.Pagination, error) {
	p := &baseDataService.Pagination{}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errInvalidPagination
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errInvalidPagination
		}
		p.Offset = n
	}
	return p, nil
}

func walletParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := chi.URLParam(r, "wallet")
	if !utils.IsValidWalletAddress(wallet) {
		writeError(w, http.StatusBadRequest, "invalid_wallet", "wallet must be a base58 Solana address")
		return "", false
	}
	return wallet, true
}

func (rpc *RpcServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rpc.health != nil {
		if err := rpc.health.Ping(r.Context()); err != nil {
			rpc.Logger.Sugar().Warnw("Health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse("unhealthy"))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse("healthy"))
}

func (rpc *RpcServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rpc.dataService.GetGlobalStats(r.Context())
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rpc *RpcServer) handleUser(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	user, err := rpc.dataService.GetUserStats(r.Context(), wallet)
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (rpc *RpcServer) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	p, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	history, err := rpc.dataService.GetUserHistory(r.Context(), wallet, p)
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (rpc *RpcServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	lb, err := rpc.dataService.GetLeaderboard(r.Context(), p)
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (rpc *RpcServer) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := rpc.dataService.GetPool(r.Context())
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (rpc *RpcServer) handleBuybacks(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	page, err := rpc.dataService.ListBuybacks(r.Context(), p)
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (rpc *RpcServer) handleDistributions(w http.ResponseWriter, r *http.Request) {
	p, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}
	page, err := rpc.dataService.ListDistributions(r.Context(), p)
	if err != nil {
		rpc.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
