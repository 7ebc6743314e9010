package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"compengine/internal/bonus"
	"compengine/internal/models"
	"compengine/internal/repository"
	"compengine/internal/tree"
)

type MemberHandler struct {
	Repo   repository.Repository
	Queue  *bonus.Queue
	Tree   *tree.Service
	Logger *zap.Logger
}

func (h *MemberHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/members")
	group.PUT("", h.upsert)
	group.GET("/:id", h.get)
	group.POST("/:id/activate", h.activate)
}

type upsertMemberRequest struct {
	ID                uint64  `json:"id"`
	SponsorID         *uint64 `json:"sponsor_id"`
	PlacementParentID *uint64 `json:"placement_parent_id"`
	PlacementSide     string  `json:"placement_side"`
	Rank              string  `json:"rank"`
}

func (h *MemberHandler) upsert(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req upsertMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.ID == 0 {
		Error(c, http.StatusBadRequest, "id required", nil)
		return
	}
	req.PlacementSide = strings.ToUpper(strings.TrimSpace(req.PlacementSide))
	if req.PlacementParentID != nil && req.PlacementSide != models.SideLeft && req.PlacementSide != models.SideRight {
		Error(c, http.StatusBadRequest, "placement_side must be L or R", nil)
		return
	}
	item := &models.Member{
		ID:                req.ID,
		SponsorID:         req.SponsorID,
		PlacementParentID: req.PlacementParentID,
		PlacementSide:     req.PlacementSide,
		Rank:              strings.TrimSpace(req.Rank),
	}
	if item.Rank == "" {
		item.Rank = "member"
	}
	if err := h.Repo.UpsertMember(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if h.Tree != nil {
		h.Tree.InvalidateAll()
	}
	Ok(c, item, nil)
}

func (h *MemberHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	item, err := h.Repo.GetMember(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "member not found", nil)
		return
	}
	Ok(c, item, nil)
}

// activate flips the member active and releases every auto pending bonus
// accrued while inactive.
func (h *MemberHandler) activate(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := h.Repo.GetMember(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "member not found", nil)
		return
	}
	if !item.Activated {
		err = h.Repo.InTx(ctx, func(tx *gorm.DB) error {
			return h.Repo.SetMemberActivatedTx(ctx, tx, id, time.Now().UTC())
		})
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}

	var released []bonus.ReleaseResult
	if h.Queue != nil {
		released, err = h.Queue.ReleaseOnActivation(ctx, id)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
	}
	if h.Logger != nil {
		h.Logger.Info("member activated",
			zap.Uint64("member_id", id),
			zap.Int("released_bonuses", len(released)),
		)
	}
	Ok(c, gin.H{"member_id": id, "released": released}, nil)
}

func paramID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return 0, false
	}
	return id, true
}
