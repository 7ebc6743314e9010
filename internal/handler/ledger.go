package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"compengine/internal/ledger"
	"compengine/internal/repository"
)

type LedgerHandler struct {
	Repo   repository.Repository
	Ledger *ledger.Service
}

func (h *LedgerHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/members/:id")
	group.GET("/pv", h.balances)
	group.GET("/ledger", h.entries)
	group.GET("/wallet", h.walletTransactions)
}

func (h *LedgerHandler) balances(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	left, err := h.Ledger.LeftPV(ctx, id, nil)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	right, err := h.Ledger.RightPV(ctx, id, nil)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	weak := left
	if right.LessThan(weak) {
		weak = right
	}
	Ok(c, gin.H{
		"user_id":  id,
		"left_pv":  left,
		"right_pv": right,
		"weak_pv":  weak,
	}, nil)
}

func (h *LedgerHandler) entries(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Repo.ListPVEntriesByUser(c.Request.Context(), id, limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

func (h *LedgerHandler) walletTransactions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Repo.ListWalletTransactionsByUser(c.Request.Context(), id, limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 100
	offset = 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
