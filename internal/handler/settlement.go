package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"compengine/internal/repository"
	"compengine/internal/settlement"
)

type SettlementHandler struct {
	Repo   repository.Repository
	Engine *settlement.Engine
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	weekly := r.Group("/api/v1/settlements/weekly")
	weekly.POST("/:period/run", h.runWeekly)
	weekly.GET("/:period", h.getWeekly)
	weekly.GET("", h.listWeekly)

	quarterly := r.Group("/api/v1/settlements/quarterly")
	quarterly.POST("/:period/run", h.runQuarterly)
	quarterly.GET("/:period", h.getQuarterly)
	quarterly.GET("", h.listQuarterly)
}

func (h *SettlementHandler) runWeekly(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	period := strings.TrimSpace(c.Param("period"))
	dryRun := strings.EqualFold(c.Query("dry_run"), "true") || c.Query("dry_run") == "1"
	comp, err := h.Engine.RunWeekly(c.Request.Context(), period, dryRun)
	if err != nil {
		settlementError(c, err)
		return
	}
	Ok(c, comp, map[string]any{"dry_run": dryRun})
}

func (h *SettlementHandler) getWeekly(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	report, err := h.Engine.WeeklyReportByKey(c.Request.Context(), strings.TrimSpace(c.Param("period")))
	if err != nil {
		settlementError(c, err)
		return
	}
	Ok(c, report, nil)
}

func (h *SettlementHandler) listWeekly(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Repo.ListWeeklySettlements(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

func (h *SettlementHandler) runQuarterly(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	period := strings.TrimSpace(c.Param("period"))
	dryRun := strings.EqualFold(c.Query("dry_run"), "true") || c.Query("dry_run") == "1"
	comp, err := h.Engine.RunQuarterly(c.Request.Context(), period, dryRun)
	if err != nil {
		settlementError(c, err)
		return
	}
	Ok(c, comp, map[string]any{"dry_run": dryRun})
}

func (h *SettlementHandler) getQuarterly(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	report, err := h.Engine.QuarterlyReportByKey(c.Request.Context(), strings.TrimSpace(c.Param("period")))
	if err != nil {
		settlementError(c, err)
		return
	}
	Ok(c, report, nil)
}

func (h *SettlementHandler) listQuarterly(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit, offset := pagination(c)
	rows, err := h.Repo.ListQuarterlySettlements(c.Request.Context(), limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rows, map[string]any{"limit": limit, "offset": offset})
}

func settlementError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, settlement.ErrSettlementRunning):
		Error(c, http.StatusConflict, "settlement already running", nil)
	case errors.Is(err, settlement.ErrAlreadySettled):
		Error(c, http.StatusConflict, "period already settled", nil)
	case errors.Is(err, settlement.ErrPeriodNotFinalized):
		Error(c, http.StatusNotFound, "period not finalized", nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
