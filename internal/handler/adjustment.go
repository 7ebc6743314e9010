package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"compengine/internal/adjustment"
	"compengine/internal/repository"
)

type AdjustmentHandler struct {
	Repo   repository.Repository
	Engine *adjustment.Engine
}

func (h *AdjustmentHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/adjustments")
	group.POST("/refunds", h.createRefund)
	group.POST("/:id/finalize", h.finalize)
	group.GET("/:id", h.get)
	group.GET("", h.list)
}

type createRefundRequest struct {
	OrderID uint64 `json:"order_id"`
	Reason  string `json:"reason"`
}

func (h *AdjustmentHandler) createRefund(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.OrderID == 0 {
		Error(c, http.StatusBadRequest, "order_id required", nil)
		return
	}
	batch, err := h.Engine.CreateRefundAdjustment(c.Request.Context(), req.OrderID, strings.TrimSpace(req.Reason))
	if err != nil {
		adjustmentError(c, err)
		return
	}
	Ok(c, batch, nil)
}

func (h *AdjustmentHandler) finalize(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Engine.FinalizeBatch(c.Request.Context(), id); err != nil {
		adjustmentError(c, err)
		return
	}
	batch, err := h.Repo.GetAdjustmentBatch(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, batch, nil)
}

func (h *AdjustmentHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	batch, err := h.Repo.GetAdjustmentBatch(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if batch == nil {
		Error(c, http.StatusNotFound, "adjustment batch not found", nil)
		return
	}
	entries, err := h.Repo.ListAdjustmentEntries(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"batch": batch, "entries": entries}, nil)
}

func (h *AdjustmentHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Repo.ListAdjustmentBatches(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

func adjustmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, adjustment.ErrOrderNotFound):
		Error(c, http.StatusNotFound, "order not found", nil)
	case errors.Is(err, adjustment.ErrBatchNotFound):
		Error(c, http.StatusNotFound, "adjustment batch not found", nil)
	case errors.Is(err, adjustment.ErrOrderRefunded):
		Error(c, http.StatusConflict, "order already refunded", nil)
	case errors.Is(err, adjustment.ErrAlreadyFinalized):
		Error(c, http.StatusConflict, "adjustment batch already finalized", nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
