package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/openbarter/tradecore/internal/service"
)

// NegotiationService defines the methods that the trade handler requires
// from the service layer.
type NegotiationService interface {
	Create(ctx context.Context, req service.CreateTradeRequest) (domain.Trade, error)
	Accept(ctx context.Context, tradeID, actorID string) (domain.Trade, error)
	Reject(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error)
	Counter(ctx context.Context, req service.CounterOfferRequest) (domain.Trade, error)
	Cancel(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error)
	Get(ctx context.Context, tradeID string) (domain.Trade, error)
	GetByNumber(ctx context.Context, tradeNumber string) (domain.Trade, error)
	ListByParty(ctx context.Context, partyID string, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves the negotiation endpoints: creating trades, responding
// to offers, and reading trade state. Every route requires a gateway-supplied
// user identity, and reads are restricted to the two parties on the trade.
type TradeHandler struct {
	trades NegotiationService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades NegotiationService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// createTradeRequest is the JSON body for opening a trade. The initiator is
// taken from the request identity, never from the body.
type createTradeRequest struct {
	ReceiverID     string           `json:"receiver_id"`
	InitiatorItems []domain.ItemRef `json:"initiator_items"`
	ReceiverItems  []domain.ItemRef `json:"receiver_items"`
	CashAmount     string           `json:"cash_amount"`
	Message        string           `json:"message"`
}

// counterOfferRequest is the JSON body for a counter-offer, expressed from
// the countering party's perspective.
type counterOfferRequest struct {
	OfferedItems   []domain.ItemRef `json:"offered_items"`
	RequestedItems []domain.ItemRef `json:"requested_items"`
	CashAmount     string           `json:"cash_amount"`
	Message        string           `json:"message"`
}

// reasonRequest carries the free-text reason used by reject and cancel.
type reasonRequest struct {
	Reason string `json:"reason"`
}

// tradeResponse wraps a single trade.
type tradeResponse struct {
	Trade domain.Trade `json:"trade"`
}

// counterResponse wraps the trade after a counter-offer along with the
// ordinal of the counter (the first counter is 1).
type counterResponse struct {
	Trade         domain.Trade `json:"trade"`
	CounterNumber int64        `json:"counter_number"`
}

// listTradesResponse wraps the list trades response.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// CreateTrade opens a new trade between the authenticated user and the
// receiver named in the body.
// POST /api/trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "receiver_id is required")
		return
	}

	cash, err := parseCashAmount(req.CashAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cash_amount")
		return
	}

	trade, err := h.trades.Create(r.Context(), service.CreateTradeRequest{
		InitiatorID:    userID,
		ReceiverID:     req.ReceiverID,
		InitiatorItems: req.InitiatorItems,
		ReceiverItems:  req.ReceiverItems,
		CashAmount:     cash,
		Message:        req.Message,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "trade creation rate limit exceeded")
			return
		}
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create trade failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create trade")
		return
	}

	writeJSON(w, http.StatusCreated, tradeResponse{Trade: trade})
}

// GetTrade returns a single trade by ID. Only the two parties may read it;
// everyone else sees a 404 so trade IDs do not leak existence.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	trade, err := h.trades.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, r, h.logger, err, "get trade")
		return
	}

	if _, party := trade.RoleOf(userID); !party {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// GetTradeByNumber returns a single trade by its human-facing trade number.
// GET /api/trades/number/{tradeNumber}
func (h *TradeHandler) GetTradeByNumber(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	number := pathParam(r, "tradeNumber")
	if number == "" {
		writeError(w, http.StatusBadRequest, "missing trade number")
		return
	}

	trade, err := h.trades.GetByNumber(r.Context(), number)
	if err != nil {
		writeLookupError(w, r, h.logger, err, "get trade by number")
		return
	}

	if _, party := trade.RoleOf(userID); !party {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// ListTrades returns the authenticated user's trades, optionally filtered by
// status.
// GET /api/trades?status=pending&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	// A party filter is accepted for forward compatibility but may only
	// name the caller.
	if party := q.Get("party"); party != "" && party != userID {
		writeError(w, http.StatusForbidden, "cannot list another user's trades")
		return
	}

	status := domain.TradeStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	trades, err := h.trades.ListByParty(r.Context(), userID, status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

// AcceptTrade accepts a pending trade on behalf of the receiver.
// POST /api/trades/{id}/accept
func (h *TradeHandler) AcceptTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := pathParam(r, "id")
	trade, err := h.trades.Accept(r.Context(), id, userID)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "accept trade")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// RejectTrade rejects a pending trade on behalf of the receiver. The body is
// optional and may carry a reason.
// POST /api/trades/{id}/reject
func (h *TradeHandler) RejectTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := pathParam(r, "id")
	trade, err := h.trades.Reject(r.Context(), id, userID, req.Reason)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "reject trade")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// CounterTrade replaces a pending trade's terms with the receiver's
// counter-offer, swapping the two roles.
// POST /api/trades/{id}/counter
func (h *TradeHandler) CounterTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req counterOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cash, err := parseCashAmount(req.CashAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cash_amount")
		return
	}

	trade, err := h.trades.Counter(r.Context(), service.CounterOfferRequest{
		TradeID:        pathParam(r, "id"),
		ActorID:        userID,
		OfferedItems:   req.OfferedItems,
		RequestedItems: req.RequestedItems,
		CashAmount:     cash,
		Message:        req.Message,
	})
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "counter trade")
		return
	}

	writeJSON(w, http.StatusOK, counterResponse{
		Trade:         trade,
		CounterNumber: trade.Version - 1,
	})
}

// CancelTrade cancels a trade before fulfillment begins. Either party may
// cancel, and a reason is required.
// POST /api/trades/{id}/cancel
func (h *TradeHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	id := pathParam(r, "id")
	trade, err := h.trades.Cancel(r.Context(), id, userID, req.Reason)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "cancel trade")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// parseCashAmount parses an optional cash adjustment string. Empty means no
// cash component.
func parseCashAmount(s string) (*domain.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParseDecimal(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
