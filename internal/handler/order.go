package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"compengine/internal/bonus"
	"compengine/internal/repository"
)

// OrderHandler is the shipment-event intake. Delivery is at-least-once
// upstream, so a replayed event answers 200 with duplicate=true.
type OrderHandler struct {
	Repo   repository.Repository
	Issuer *bonus.Issuer
}

func (h *OrderHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/orders")
	group.POST("/shipments", h.shipment)
	group.GET("/:id", h.get)
}

type shipmentRequest struct {
	OrderID          uint64 `json:"order_id"`
	BuyerID          uint64 `json:"buyer_id"`
	Quantity         int    `json:"quantity"`
	UnitPV           string `json:"unit_pv"`
	TrxKey           string `json:"trx_key"`
	ShippedAtRFC3339 string `json:"shipped_at"`
}

func (h *OrderHandler) shipment(c *gin.Context) {
	if h.Issuer == nil {
		Error(c, http.StatusInternalServerError, "issuer unavailable", nil)
		return
	}
	var req shipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.TrxKey = strings.TrimSpace(req.TrxKey)
	if req.OrderID == 0 || req.BuyerID == 0 || req.Quantity <= 0 || req.TrxKey == "" {
		Error(c, http.StatusBadRequest, "order_id, buyer_id, quantity and trx_key required", nil)
		return
	}
	unitPV, err := decimal.NewFromString(strings.TrimSpace(req.UnitPV))
	if err != nil || !unitPV.IsPositive() {
		Error(c, http.StatusBadRequest, "unit_pv must be a positive decimal", nil)
		return
	}
	shippedAt := time.Now().UTC()
	if strings.TrimSpace(req.ShippedAtRFC3339) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ShippedAtRFC3339))
		if err != nil {
			Error(c, http.StatusBadRequest, "shipped_at must be RFC3339", nil)
			return
		}
		shippedAt = ts.UTC()
	}

	res, err := h.Issuer.ProcessShipment(c.Request.Context(), bonus.OrderShipment{
		OrderID:   req.OrderID,
		BuyerID:   req.BuyerID,
		Quantity:  req.Quantity,
		UnitPV:    unitPV,
		TrxKey:    req.TrxKey,
		ShippedAt: shippedAt,
	})
	if errors.Is(err, bonus.ErrBuyerNotFound) {
		Error(c, http.StatusNotFound, "buyer not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, res, nil)
}

func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	ev, err := h.Repo.GetOrderEventByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if ev == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, ev, nil)
}
