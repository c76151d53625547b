package domain

import "time"

// MaxMessageLen bounds the free-text message fields, in characters.
const MaxMessageLen = 500

// TradeStatus tracks the negotiation and fulfillment lifecycle.
type TradeStatus string

const (
	TradeStatusPending           TradeStatus = "pending"
	TradeStatusAccepted          TradeStatus = "accepted"
	TradeStatusInitiatorShipped  TradeStatus = "initiator_shipped"
	TradeStatusReceiverShipped   TradeStatus = "receiver_shipped"
	TradeStatusBothShipped       TradeStatus = "both_shipped"
	TradeStatusInitiatorReceived TradeStatus = "initiator_received"
	TradeStatusReceiverReceived  TradeStatus = "receiver_received"
	TradeStatusDisputed          TradeStatus = "disputed"
	TradeStatusCompleted         TradeStatus = "completed"
	TradeStatusRejected          TradeStatus = "rejected"
	TradeStatusCancelled         TradeStatus = "cancelled"
)

// Valid reports whether s is one of the defined lifecycle statuses.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusAccepted, TradeStatusInitiatorShipped,
		TradeStatusReceiverShipped, TradeStatusBothShipped, TradeStatusInitiatorReceived,
		TradeStatusReceiverReceived, TradeStatusDisputed, TradeStatusCompleted,
		TradeStatusRejected, TradeStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition of any kind is permitted.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusCompleted, TradeStatusRejected, TradeStatusCancelled:
		return true
	}
	return false
}

// InFulfillment reports whether the trade is past acceptance and not yet
// terminal or frozen by a dispute.
func (s TradeStatus) InFulfillment() bool {
	switch s {
	case TradeStatusAccepted, TradeStatusInitiatorShipped, TradeStatusReceiverShipped,
		TradeStatusBothShipped, TradeStatusInitiatorReceived, TradeStatusReceiverReceived:
		return true
	}
	return false
}

// Shipped reports whether at least one side has recorded a shipment in this
// status.
func (s TradeStatus) Shipped() bool {
	switch s {
	case TradeStatusInitiatorShipped, TradeStatusReceiverShipped, TradeStatusBothShipped,
		TradeStatusInitiatorReceived, TradeStatusReceiverReceived:
		return true
	}
	return false
}

// TradeRole identifies which side of the negotiation a party is on.
type TradeRole string

const (
	RoleInitiator TradeRole = "initiator"
	RoleReceiver  TradeRole = "receiver"
)

// Opposite returns the other side.
func (r TradeRole) Opposite() TradeRole {
	if r == RoleInitiator {
		return RoleReceiver
	}
	return RoleInitiator
}

// Shipment is one party's shipment record with its receipt acknowledgement.
type Shipment struct {
	Carrier        string     `json:"carrier"`
	TrackingNumber string     `json:"tracking_number"`
	ShippedAt      time.Time  `json:"shipped_at"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
}

// Trade is the negotiation aggregate: one versioned record per thread
// between two identities. Item sequences and shipment records are embedded
// snapshots replaced wholesale, never patched in place.
type Trade struct {
	ID          string      `json:"id"`
	TradeNumber string      `json:"trade_number"`
	InitiatorID string      `json:"initiator_id"`
	ReceiverID  string      `json:"receiver_id"`
	Status      TradeStatus `json:"status"`
	Version     int64       `json:"version"`

	InitiatorItems []TradeItem `json:"initiator_items"`
	ReceiverItems  []TradeItem `json:"receiver_items"`

	// CashAmount is the optional cash sweetener. Positive: the initiator
	// pays the receiver. Negative: the receiver pays the initiator.
	CashAmount  *Decimal `json:"cash_amount,omitempty"`
	CashPayerID string   `json:"cash_payer_id,omitempty"`

	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	PaymentDeadline  *time.Time `json:"payment_deadline,omitempty"`
	ShippingDeadline *time.Time `json:"shipping_deadline,omitempty"`

	InitiatorMessage string `json:"initiator_message,omitempty"`
	ReceiverMessage  string `json:"receiver_message,omitempty"`

	InitiatorShipment *Shipment `json:"initiator_shipment,omitempty"`
	ReceiverShipment  *Shipment `json:"receiver_shipment,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// RoleOf returns the role userID plays in this trade, or false if the user
// is neither party.
func (t Trade) RoleOf(userID string) (TradeRole, bool) {
	switch userID {
	case t.InitiatorID:
		return RoleInitiator, true
	case t.ReceiverID:
		return RoleReceiver, true
	}
	return "", false
}

// PartyID returns the identity on the given side.
func (t Trade) PartyID(role TradeRole) string {
	if role == RoleInitiator {
		return t.InitiatorID
	}
	return t.ReceiverID
}

// Items returns the item snapshots offered by the given side.
func (t Trade) Items(role TradeRole) []TradeItem {
	if role == RoleInitiator {
		return t.InitiatorItems
	}
	return t.ReceiverItems
}

// SideTotal sums valueAtTrade x quantity for one side's items.
func (t Trade) SideTotal(role TradeRole) (Decimal, error) {
	return SumItemValues(t.Items(role))
}

// ShipmentOf returns the shipment recorded by the given side, or nil.
func (t Trade) ShipmentOf(role TradeRole) *Shipment {
	if role == RoleInitiator {
		return t.InitiatorShipment
	}
	return t.ReceiverShipment
}

// ShipmentStarted reports whether either side has recorded a shipment.
// Cancellation is only permitted before this point.
func (t Trade) ShipmentStarted() bool {
	return t.InitiatorShipment != nil || t.ReceiverShipment != nil
}

// BothShipped reports whether both sides have recorded shipments.
func (t Trade) BothShipped() bool {
	return t.InitiatorShipment != nil && t.ReceiverShipment != nil
}

// HasReceived reports whether the given side has acknowledged receipt of the
// counterparty's shipment.
func (t Trade) HasReceived(role TradeRole) bool {
	counter := t.ShipmentOf(role.Opposite())
	return counter != nil && counter.ReceivedAt != nil
}

// CashSignConsistent verifies the redundant cashPayerId agrees with the sign
// convention: positive amount means the initiator pays, negative means the
// receiver pays, zero or absent means no payer is recorded.
func (t Trade) CashSignConsistent() bool {
	if t.CashAmount == nil || t.CashAmount.IsZero() {
		return t.CashPayerID == ""
	}
	if t.CashAmount.Positive() {
		return t.CashPayerID == t.InitiatorID
	}
	return t.CashPayerID == t.ReceiverID
}

// TradeTerms is one side's view of a trade's negotiable content: what they
// offer, what they ask for, and the cash adjustment from their perspective
// (positive means they pay).
type TradeTerms struct {
	OfferedItems   []ItemRef
	RequestedItems []ItemRef
	CashAmount     *Decimal
}

// Terms returns the current negotiable terms seen from the given side.
// Viewed from the receiver, offered and requested swap and the cash sign
// flips; this is the perspective swap a counter-offer is checked against.
func (t Trade) Terms(viewer TradeRole) TradeTerms {
	terms := TradeTerms{
		OfferedItems:   ItemRefs(t.Items(viewer)),
		RequestedItems: ItemRefs(t.Items(viewer.Opposite())),
	}
	if t.CashAmount != nil {
		cash := *t.CashAmount
		if viewer == RoleReceiver {
			cash = cash.Negated()
		}
		terms.CashAmount = &cash
	}
	return terms
}

// Equal reports whether two term sets describe the same offer: identical
// item multisets on both legs and the same cash amount. A counter-offer
// equal to the current terms from the counterer's perspective is a no-op.
func (tt TradeTerms) Equal(other TradeTerms) bool {
	if !ItemRefsEqual(tt.OfferedItems, other.OfferedItems) {
		return false
	}
	if !ItemRefsEqual(tt.RequestedItems, other.RequestedItems) {
		return false
	}
	a, b := tt.CashAmount, other.CashAmount
	if a == nil || a.IsZero() {
		return b == nil || b.IsZero()
	}
	if b == nil {
		return false
	}
	return a.Equal(*b)
}
