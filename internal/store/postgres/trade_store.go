package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openbarter/tradecore/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Item sequences
// and shipment records live in JSONB columns so every mutation is a single
// conditional row write.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, trade_number, initiator_id, receiver_id, status, version,
	initiator_items, receiver_items, cash_amount, cash_payer_id,
	response_deadline, payment_deadline, shipping_deadline,
	initiator_message, receiver_message,
	initiator_shipment, receiver_shipment, cancel_reason,
	created_at, updated_at, accepted_at, completed_at, cancelled_at`

// statusList renders statuses as a quoted SQL list for IN clauses built from
// the fixed status constants, never from user input.
func statusList(statuses ...domain.TradeStatus) string {
	out := ""
	for i, s := range statuses {
		if i > 0 {
			out += ", "
		}
		out += "'" + string(s) + "'"
	}
	return out
}

var fulfillmentStatuses = []domain.TradeStatus{
	domain.TradeStatusAccepted,
	domain.TradeStatusInitiatorShipped,
	domain.TradeStatusReceiverShipped,
	domain.TradeStatusBothShipped,
	domain.TradeStatusInitiatorReceived,
	domain.TradeStatusReceiverReceived,
}

var terminalStatuses = []domain.TradeStatus{
	domain.TradeStatusCompleted,
	domain.TradeStatusRejected,
	domain.TradeStatusCancelled,
}

// Create inserts a new trade at version 1. A trade number collision maps to
// domain.ErrAlreadyExists.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	initiatorItems, receiverItems, initiatorShip, receiverShip, cash, err := encodeTradeFields(t)
	if err != nil {
		return fmt.Errorf("postgres: encode trade %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO trades (
			id, trade_number, initiator_id, receiver_id, status, version,
			initiator_items, receiver_items, cash_amount, cash_payer_id,
			response_deadline, payment_deadline, shipping_deadline,
			initiator_message, receiver_message,
			initiator_shipment, receiver_shipment, cancel_reason,
			created_at, updated_at, accepted_at, completed_at, cancelled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23
		)`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.TradeNumber, t.InitiatorID, t.ReceiverID, string(t.Status), t.Version,
		initiatorItems, receiverItems, cash, nullableID(t.CashPayerID),
		t.ResponseDeadline, t.PaymentDeadline, t.ShippingDeadline,
		t.InitiatorMessage, t.ReceiverMessage,
		initiatorShip, receiverShip, t.CancelReason,
		t.CreatedAt, t.UpdatedAt, t.AcceptedAt, t.CompletedAt, t.CancelledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("postgres: create trade %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// Update writes the full aggregate conditioned on expectedVersion. Zero rows
// affected means either the trade is gone (ErrNotFound) or another actor
// advanced it first (ConflictError); a follow-up existence probe tells the
// two apart.
func (s *TradeStore) Update(ctx context.Context, t domain.Trade, expectedVersion int64) error {
	initiatorItems, receiverItems, initiatorShip, receiverShip, cash, err := encodeTradeFields(t)
	if err != nil {
		return fmt.Errorf("postgres: encode trade %s: %w", t.ID, err)
	}

	const query = `
		UPDATE trades SET
			initiator_id = $3, receiver_id = $4, status = $5, version = $6,
			initiator_items = $7, receiver_items = $8,
			cash_amount = $9, cash_payer_id = $10,
			response_deadline = $11, payment_deadline = $12, shipping_deadline = $13,
			initiator_message = $14, receiver_message = $15,
			initiator_shipment = $16, receiver_shipment = $17, cancel_reason = $18,
			updated_at = $19, accepted_at = $20, completed_at = $21, cancelled_at = $22
		WHERE id = $1 AND version = $2`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, expectedVersion,
		t.InitiatorID, t.ReceiverID, string(t.Status), t.Version,
		initiatorItems, receiverItems,
		cash, nullableID(t.CashPayerID),
		t.ResponseDeadline, t.PaymentDeadline, t.ShippingDeadline,
		t.InitiatorMessage, t.ReceiverMessage,
		initiatorShip, receiverShip, t.CancelReason,
		t.UpdatedAt, t.AcceptedAt, t.CompletedAt, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		probeErr := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)", t.ID,
		).Scan(&exists)
		if probeErr != nil {
			return fmt.Errorf("postgres: update trade %s probe: %w", t.ID, probeErr)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return &domain.ConflictError{TradeID: t.ID, Expected: expectedVersion}
	}
	return nil
}

// GetByID retrieves a single trade by ID.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)

	t, err := scanTradeFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// GetByNumber retrieves a single trade by its human-readable trade number.
func (s *TradeStore) GetByNumber(ctx context.Context, tradeNumber string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE trade_number = $1`, tradeNumber)

	t, err := scanTradeFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade by number %s: %w", tradeNumber, err)
	}
	return t, nil
}

// ListByParty returns trades where the party appears on either side, newest
// first, optionally filtered by status.
func (s *TradeStore) ListByParty(ctx context.Context, partyID string, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE (initiator_id = $1 OR receiver_id = $1)`
	args := []any{partyID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by party: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by party: %w", err)
	}
	return trades, nil
}

// ListExpired returns active, non-disputed trades whose governing deadline
// passed before now: response deadline while pending, shipping deadline from
// acceptance onward. Disputed trades are excluded by construction.
func (s *TradeStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE (
			(status = '` + string(domain.TradeStatusPending) + `'
				AND response_deadline IS NOT NULL AND response_deadline < $1)
			OR (status IN (` + statusList(fulfillmentStatuses...) + `)
				AND shipping_deadline IS NOT NULL AND shipping_deadline < $1)
		)
		ORDER BY COALESCE(shipping_deadline, response_deadline) ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired trades: %w", err)
	}
	return trades, nil
}

// ListTerminalBefore returns trades that reached a terminal state before the
// cutoff, oldest first, for cold-storage export. Terminal trades never
// update again, so updated_at is the moment the terminal state was reached.
func (s *TradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status IN (` + statusList(terminalStatuses...) + `) AND updated_at < $1
		ORDER BY updated_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// encodeTradeFields marshals the JSONB and numeric columns.
func encodeTradeFields(t domain.Trade) (initiatorItems, receiverItems []byte, initiatorShip, receiverShip []byte, cash *string, err error) {
	initiatorItems, err = json.Marshal(t.InitiatorItems)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal initiator items: %w", err)
	}
	receiverItems, err = json.Marshal(t.ReceiverItems)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal receiver items: %w", err)
	}
	if t.InitiatorShipment != nil {
		initiatorShip, err = json.Marshal(t.InitiatorShipment)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("marshal initiator shipment: %w", err)
		}
	}
	if t.ReceiverShipment != nil {
		receiverShip, err = json.Marshal(t.ReceiverShipment)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("marshal receiver shipment: %w", err)
		}
	}
	if t.CashAmount != nil {
		v := t.CashAmount.String()
		cash = &v
	}
	return initiatorItems, receiverItems, initiatorShip, receiverShip, cash, nil
}

// nullableID maps an empty identity to SQL NULL.
func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func scanTradeFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Trade, error) {
	var t domain.Trade
	var status string
	var initiatorItems, receiverItems []byte
	var initiatorShip, receiverShip []byte
	var cash, cashPayer *string

	err := scanner.Scan(
		&t.ID, &t.TradeNumber, &t.InitiatorID, &t.ReceiverID, &status, &t.Version,
		&initiatorItems, &receiverItems, &cash, &cashPayer,
		&t.ResponseDeadline, &t.PaymentDeadline, &t.ShippingDeadline,
		&t.InitiatorMessage, &t.ReceiverMessage,
		&initiatorShip, &receiverShip, &t.CancelReason,
		&t.CreatedAt, &t.UpdatedAt, &t.AcceptedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Status = domain.TradeStatus(status)

	if err := json.Unmarshal(initiatorItems, &t.InitiatorItems); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal initiator items: %w", err)
	}
	if err := json.Unmarshal(receiverItems, &t.ReceiverItems); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal receiver items: %w", err)
	}
	if initiatorShip != nil {
		t.InitiatorShipment = &domain.Shipment{}
		if err := json.Unmarshal(initiatorShip, t.InitiatorShipment); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal initiator shipment: %w", err)
		}
	}
	if receiverShip != nil {
		t.ReceiverShipment = &domain.Shipment{}
		if err := json.Unmarshal(receiverShip, t.ReceiverShipment); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal receiver shipment: %w", err)
		}
	}
	if cash != nil {
		d, err := domain.ParseDecimal(*cash)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("parse cash amount: %w", err)
		}
		t.CashAmount = &d
	}
	if cashPayer != nil {
		t.CashPayerID = *cashPayer
	}

	return t, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTradeFromRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
