package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/openbarter/tradecore/internal/domain"
)

// FulfillmentService defines the methods that the fulfillment handler
// requires from the service layer.
type FulfillmentService interface {
	RecordShipment(ctx context.Context, tradeID, actorID, carrier, trackingNumber string) (domain.Trade, error)
	AcknowledgeReceipt(ctx context.Context, tradeID, actorID string) (domain.Trade, error)
	RaiseDispute(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error)
}

// FulfillmentHandler serves the post-acceptance endpoints: shipment
// recording, receipt acknowledgement, and disputes.
type FulfillmentHandler struct {
	fulfillment FulfillmentService
	logger      *slog.Logger
}

// NewFulfillmentHandler creates a FulfillmentHandler with the given service
// and logger.
func NewFulfillmentHandler(fulfillment FulfillmentService, logger *slog.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{
		fulfillment: fulfillment,
		logger:      logger,
	}
}

// shipmentRequest is the JSON body for recording an outbound shipment.
type shipmentRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

// disputeRequest carries the reason for freezing a trade in dispute.
type disputeRequest struct {
	Reason string `json:"reason"`
}

// RecordShipment records the authenticated party's outbound shipment on an
// accepted trade.
// POST /api/trades/{id}/shipment
func (h *FulfillmentHandler) RecordShipment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Carrier == "" || req.TrackingNumber == "" {
		writeError(w, http.StatusBadRequest, "carrier and tracking_number are required")
		return
	}

	id := pathParam(r, "id")
	trade, err := h.fulfillment.RecordShipment(r.Context(), id, userID, req.Carrier, req.TrackingNumber)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "record shipment")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// AcknowledgeReceipt confirms that the authenticated party received the
// counterparty's shipment. The second acknowledgement completes the trade.
// POST /api/trades/{id}/receipt
func (h *FulfillmentHandler) AcknowledgeReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	trade, err := h.fulfillment.AcknowledgeReceipt(r.Context(), id, userID)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "acknowledge receipt")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// RaiseDispute freezes an in-fulfillment trade pending manual review. The
// body must carry a reason; it lands in the audit log, not on the trade.
// POST /api/trades/{id}/dispute
func (h *FulfillmentHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	id := pathParam(r, "id")
	trade, err := h.fulfillment.RaiseDispute(r.Context(), id, userID, req.Reason)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "raise dispute")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}
