package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/openbarter/tradecore/internal/domain"
)

// ItemSource resolves product references into frozen snapshots. Implemented
// by ItemResolver; abstracted so the negotiation flow can be tested without
// a live catalog.
type ItemSource interface {
	ResolveAll(ctx context.Context, refs []domain.ItemRef, ownerID string, side domain.TradeRole) ([]domain.TradeItem, error)
}

// Compile-time interface check.
var _ ItemSource = (*ItemResolver)(nil)

// NegotiationConfig carries the policy knobs for the pending phase and the
// deadlines stamped at acceptance.
type NegotiationConfig struct {
	ResponseWindow  time.Duration
	PaymentWindow   time.Duration
	ShippingWindow  time.Duration
	MaxItemsPerSide int
	CreateLimit     int
	CreateWindow    time.Duration
}

// CreateTradeRequest is the initiator's proposed offer: what they put up,
// what they want from the receiver, and an optional cash adjustment
// (positive means the initiator pays).
type CreateTradeRequest struct {
	InitiatorID    string
	ReceiverID     string
	InitiatorItems []domain.ItemRef
	ReceiverItems  []domain.ItemRef
	CashAmount     *domain.Decimal
	Message        string
}

// CounterOfferRequest replaces the trade's terms with the countering
// receiver's new offer. Items and cash are expressed from the counterer's
// perspective: offered is what they now put up, requested is what they want
// back, positive cash means they pay.
type CounterOfferRequest struct {
	TradeID        string
	ActorID        string
	OfferedItems   []domain.ItemRef
	RequestedItems []domain.ItemRef
	CashAmount     *domain.Decimal
	Message        string
}

// NegotiationService drives the pending-phase state machine: creation,
// counter-offers, accept, reject, and cancellation. Every mutation goes
// through the conditional write path so concurrent actors never overwrite
// each other.
type NegotiationService struct {
	trades  domain.TradeStore
	audit   domain.AuditStore
	items   ItemSource
	limiter domain.RateLimiter
	emitter *EventEmitter
	cfg     NegotiationConfig
	logger  *slog.Logger
}

// NewNegotiationService creates a NegotiationService with all required
// dependencies.
func NewNegotiationService(
	trades domain.TradeStore,
	audit domain.AuditStore,
	items ItemSource,
	limiter domain.RateLimiter,
	emitter *EventEmitter,
	cfg NegotiationConfig,
	logger *slog.Logger,
) *NegotiationService {
	return &NegotiationService{
		trades:  trades,
		audit:   audit,
		items:   items,
		limiter: limiter,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Create opens a new trade: resolves both item lists into frozen snapshots,
// derives the cash payer from the sign convention, and persists the trade at
// version 1 with a fresh response deadline.
func (s *NegotiationService) Create(ctx context.Context, req CreateTradeRequest) (domain.Trade, error) {
	allowed, err := s.limiter.Allow(ctx, "trade:create:"+req.InitiatorID, s.cfg.CreateLimit, s.cfg.CreateWindow)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Trade{}, domain.ErrRateLimited
	}

	if req.InitiatorID == "" || req.ReceiverID == "" {
		return domain.Trade{}, domain.Validationf("both parties are required")
	}
	if req.InitiatorID == req.ReceiverID {
		return domain.Trade{}, domain.Validationf("cannot open a trade with yourself")
	}
	if err := validateOffer(req.InitiatorItems, req.ReceiverItems, s.cfg.MaxItemsPerSide); err != nil {
		return domain.Trade{}, err
	}
	if err := validateMessage(req.Message); err != nil {
		return domain.Trade{}, err
	}

	initiatorItems, err := s.items.ResolveAll(ctx, req.InitiatorItems, req.InitiatorID, domain.RoleInitiator)
	if err != nil {
		return domain.Trade{}, err
	}
	receiverItems, err := s.items.ResolveAll(ctx, req.ReceiverItems, req.ReceiverID, domain.RoleReceiver)
	if err != nil {
		return domain.Trade{}, err
	}

	now := time.Now().UTC()
	deadline := now.Add(s.cfg.ResponseWindow)

	trade := domain.Trade{
		ID:               uuid.NewString(),
		TradeNumber:      newTradeNumber(),
		InitiatorID:      req.InitiatorID,
		ReceiverID:       req.ReceiverID,
		Status:           domain.TradeStatusPending,
		Version:          1,
		InitiatorItems:   initiatorItems,
		ReceiverItems:    receiverItems,
		CashAmount:       req.CashAmount,
		CashPayerID:      derivePayer(req.CashAmount, req.InitiatorID, req.ReceiverID),
		ResponseDeadline: &deadline,
		InitiatorMessage: req.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.trades.Create(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: create trade: %w", err)
	}

	s.auditLog(ctx, "trade_created", map[string]any{
		"trade_id":     trade.ID,
		"trade_number": trade.TradeNumber,
		"initiator_id": trade.InitiatorID,
		"receiver_id":  trade.ReceiverID,
	})
	s.emitter.Emit(ctx, trade, req.InitiatorID)

	s.logger.InfoContext(ctx, "negotiation: trade created",
		slog.String("trade_id", trade.ID),
		slog.String("trade_number", trade.TradeNumber),
		slog.String("initiator_id", trade.InitiatorID),
		slog.String("receiver_id", trade.ReceiverID),
	)

	return trade, nil
}

// Accept locks in the current offer. Only the receiver may accept, only
// while the trade is pending and its response window is open. Acceptance
// stamps the payment and shipping deadlines for the fulfillment phase.
func (s *NegotiationService) Accept(ctx context.Context, tradeID, actorID string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q: %w", tradeID, err)
	}

	role, ok := t.RoleOf(actorID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if role != domain.RoleReceiver {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q: only the receiver may accept: %w", tradeID, domain.ErrUnauthorized)
	}
	if t.Status != domain.TradeStatusPending {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()
	if t.ResponseDeadline != nil && now.After(*t.ResponseDeadline) {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q: response window expired: %w", tradeID, domain.ErrConflict)
	}

	payment := now.Add(s.cfg.PaymentWindow)
	shipping := now.Add(s.cfg.ShippingWindow)

	updated := t
	updated.Status = domain.TradeStatusAccepted
	updated.Version = t.Version + 1
	updated.AcceptedAt = &now
	updated.PaymentDeadline = &payment
	updated.ShippingDeadline = &shipping
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: accept trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_accepted", map[string]any{
		"trade_id": updated.ID,
		"version":  updated.Version,
		"actor_id": actorID,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "negotiation: trade accepted",
		slog.String("trade_id", updated.ID),
		slog.Int64("version", updated.Version),
	)

	return updated, nil
}

// Reject declines the current offer. Only the receiver may reject; unlike
// accept and counter, rejection stays available after the response window
// lapses as long as the trade is still pending. The reason is optional.
func (s *NegotiationService) Reject(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: reject trade %q: %w", tradeID, err)
	}

	role, ok := t.RoleOf(actorID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("negotiation: reject trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if role != domain.RoleReceiver {
		return domain.Trade{}, fmt.Errorf("negotiation: reject trade %q: only the receiver may reject: %w", tradeID, domain.ErrUnauthorized)
	}
	if t.Status != domain.TradeStatusPending {
		return domain.Trade{}, fmt.Errorf("negotiation: reject trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}
	if err := validateMessage(reason); err != nil {
		return domain.Trade{}, err
	}

	now := time.Now().UTC()

	updated := t
	updated.Status = domain.TradeStatusRejected
	updated.Version = t.Version + 1
	updated.CancelReason = reason
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: reject trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_rejected", map[string]any{
		"trade_id": updated.ID,
		"actor_id": actorID,
		"reason":   reason,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "negotiation: trade rejected",
		slog.String("trade_id", updated.ID),
		slog.Int64("version", updated.Version),
	)

	return updated, nil
}

// Counter replaces the trade's terms with a new offer from the current
// receiver, swapping the parties' roles on the same record. A counter whose
// terms match the current offer from the counterer's perspective is rejected
// as a no-op. The response window restarts for the new receiver.
func (s *NegotiationService) Counter(ctx context.Context, req CounterOfferRequest) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q: %w", req.TradeID, err)
	}

	role, ok := t.RoleOf(req.ActorID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q: actor is not a party: %w", req.TradeID, domain.ErrUnauthorized)
	}
	if role != domain.RoleReceiver {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q: only the receiver may counter: %w", req.TradeID, domain.ErrUnauthorized)
	}
	if t.Status != domain.TradeStatusPending {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q in status %s: %w", req.TradeID, t.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()
	if t.ResponseDeadline != nil && now.After(*t.ResponseDeadline) {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q: response window expired: %w", req.TradeID, domain.ErrConflict)
	}

	if err := validateOffer(req.OfferedItems, req.RequestedItems, s.cfg.MaxItemsPerSide); err != nil {
		return domain.Trade{}, err
	}
	if err := validateMessage(req.Message); err != nil {
		return domain.Trade{}, err
	}

	proposed := domain.TradeTerms{
		OfferedItems:   req.OfferedItems,
		RequestedItems: req.RequestedItems,
		CashAmount:     req.CashAmount,
	}
	if proposed.Equal(t.Terms(domain.RoleReceiver)) {
		return domain.Trade{}, domain.Validationf("counter-offer is identical to the current offer")
	}

	// The countering receiver becomes the initiator of the new offer.
	newInitiator := t.ReceiverID
	newReceiver := t.InitiatorID

	offered, err := s.items.ResolveAll(ctx, req.OfferedItems, newInitiator, domain.RoleInitiator)
	if err != nil {
		return domain.Trade{}, err
	}
	requested, err := s.items.ResolveAll(ctx, req.RequestedItems, newReceiver, domain.RoleReceiver)
	if err != nil {
		return domain.Trade{}, err
	}

	deadline := now.Add(s.cfg.ResponseWindow)

	updated := t
	updated.InitiatorID = newInitiator
	updated.ReceiverID = newReceiver
	updated.InitiatorItems = offered
	updated.ReceiverItems = requested
	updated.CashAmount = req.CashAmount
	updated.CashPayerID = derivePayer(req.CashAmount, newInitiator, newReceiver)
	updated.ResponseDeadline = &deadline
	updated.InitiatorMessage = req.Message
	updated.ReceiverMessage = ""
	updated.Version = t.Version + 1
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: counter trade %q: %w", req.TradeID, err)
	}

	s.auditLog(ctx, "trade_countered", map[string]any{
		"trade_id":       updated.ID,
		"counter_number": updated.Version - 1,
		"actor_id":       req.ActorID,
	})
	s.emitter.Emit(ctx, updated, req.ActorID)

	s.logger.InfoContext(ctx, "negotiation: trade countered",
		slog.String("trade_id", updated.ID),
		slog.Int64("counter_number", updated.Version-1),
	)

	return updated, nil
}

// Cancel withdraws the trade. Either party may cancel while the trade is
// pending or accepted; once a shipment has been recorded cancellation is no
// longer available. A reason is required.
func (s *NegotiationService) Cancel(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: cancel trade %q: %w", tradeID, err)
	}

	if _, ok := t.RoleOf(actorID); !ok {
		return domain.Trade{}, fmt.Errorf("negotiation: cancel trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if reason == "" {
		return domain.Trade{}, domain.Validationf("cancellation reason is required")
	}
	if err := validateMessage(reason); err != nil {
		return domain.Trade{}, err
	}

	switch t.Status {
	case domain.TradeStatusPending, domain.TradeStatusAccepted:
	default:
		return domain.Trade{}, fmt.Errorf("negotiation: cancel trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()

	updated := t
	updated.Status = domain.TradeStatusCancelled
	updated.Version = t.Version + 1
	updated.CancelReason = reason
	updated.CancelledAt = &now
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: cancel trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_cancelled", map[string]any{
		"trade_id": updated.ID,
		"actor_id": actorID,
		"reason":   reason,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "negotiation: trade cancelled",
		slog.String("trade_id", updated.ID),
		slog.String("reason", reason),
	)

	return updated, nil
}

// Get retrieves a single trade by its ID.
func (s *NegotiationService) Get(ctx context.Context, tradeID string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: get trade %q: %w", tradeID, err)
	}
	return t, nil
}

// GetByNumber retrieves a single trade by its human-facing trade number.
func (s *NegotiationService) GetByNumber(ctx context.Context, tradeNumber string) (domain.Trade, error) {
	t, err := s.trades.GetByNumber(ctx, tradeNumber)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("negotiation: get trade by number %q: %w", tradeNumber, err)
	}
	return t, nil
}

// ListByParty returns trades where the given user is either party, newest
// first, optionally filtered by status.
func (s *NegotiationService) ListByParty(ctx context.Context, partyID string, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByParty(ctx, partyID, status, opts)
	if err != nil {
		return nil, fmt.Errorf("negotiation: list trades for %q: %w", partyID, err)
	}
	return trades, nil
}

func (s *NegotiationService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "negotiation: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// newTradeNumber mints the human-facing trade reference, a prefixed ULID
// such as "TR-01J8ZQ34T9V0C2J2E6W7H4K8PD".
func newTradeNumber() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return "TR-" + ulid.MustNew(ulid.Now(), entropy).String()
}

// derivePayer maps the signed cash amount to the party who pays: positive
// means the initiator, negative the receiver, zero or absent nobody.
func derivePayer(cash *domain.Decimal, initiatorID, receiverID string) string {
	if cash == nil || cash.IsZero() {
		return ""
	}
	if cash.Positive() {
		return initiatorID
	}
	return receiverID
}

// validateOffer checks the structural rules shared by create and counter:
// at least one item across the two sides, side sizes within the configured
// bound, and no duplicate product within a side.
func validateOffer(initiatorRefs, receiverRefs []domain.ItemRef, maxPerSide int) error {
	if len(initiatorRefs) == 0 && len(receiverRefs) == 0 {
		return domain.Validationf("offer must include at least one item")
	}
	if maxPerSide > 0 && (len(initiatorRefs) > maxPerSide || len(receiverRefs) > maxPerSide) {
		return domain.Validationf("at most %d items per side", maxPerSide)
	}
	if id, dup := duplicateRef(initiatorRefs); dup {
		return domain.Validationf("product %s listed twice on the same side", id)
	}
	if id, dup := duplicateRef(receiverRefs); dup {
		return domain.Validationf("product %s listed twice on the same side", id)
	}
	return nil
}

func duplicateRef(refs []domain.ItemRef) (string, bool) {
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ProductID]; ok {
			return ref.ProductID, true
		}
		seen[ref.ProductID] = struct{}{}
	}
	return "", false
}

// validateMessage bounds free-text fields to the shared character limit.
func validateMessage(msg string) error {
	if utf8.RuneCountInString(msg) > domain.MaxMessageLen {
		return domain.Validationf("message exceeds %d characters", domain.MaxMessageLen)
	}
	return nil
}
