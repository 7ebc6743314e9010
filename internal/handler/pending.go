package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"compengine/internal/bonus"
	"compengine/internal/repository"
)

type PendingBonusHandler struct {
	Repo  repository.Repository
	Queue *bonus.Queue
}

func (h *PendingBonusHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/pending-bonuses")
	group.GET("", h.list)
	group.POST("/:id/reject", h.reject)
}

func (h *PendingBonusHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit, offset := pagination(c)
	params := repository.ListPendingParams{Limit: limit, Offset: offset}
	if raw := strings.TrimSpace(c.Query("recipient_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid recipient_id", nil)
			return
		}
		params.RecipientID = &id
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		params.Status = &raw
	}
	if raw := strings.TrimSpace(c.Query("release_mode")); raw != "" {
		params.ReleaseMode = &raw
	}
	if raw := strings.TrimSpace(c.Query("period_key")); raw != "" {
		params.PeriodKey = &raw
	}
	rows, err := h.Repo.ListPendingBonuses(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

type rejectPendingRequest struct {
	Reason string `json:"reason"`
}

func (h *PendingBonusHandler) reject(c *gin.Context) {
	if h.Queue == nil {
		Error(c, http.StatusInternalServerError, "queue unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req rejectPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		Error(c, http.StatusBadRequest, "reason required", nil)
		return
	}
	err := h.Queue.Reject(c.Request.Context(), id, req.Reason)
	if errors.Is(err, bonus.ErrPendingNotFound) {
		Error(c, http.StatusNotFound, "pending bonus not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"pending_id": id, "status": "rejected"}, nil)
}
