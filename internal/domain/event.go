package domain

import "time"

// Actor identities stamped on events for transitions no user performed.
const (
	ActorScheduler = "scheduler"
	ActorAdmin     = "admin"
)

// Signal bus destinations for trade events. The pub/sub channel feeds live
// consumers (WebSocket hub, notifier); the capped stream keeps a durable
// tail for consumers that poll.
const (
	EventChannel = "trades"
	EventStream  = "stream:trades"
)

// TradeEvent is emitted once per completed transition, fire-and-forget.
type TradeEvent struct {
	TradeID     string      `json:"trade_id"`
	TradeNumber string      `json:"trade_number"`
	Version     int64       `json:"version"`
	Status      TradeStatus `json:"status"`
	ActorID     string      `json:"actor_id"`
	Timestamp   time.Time   `json:"timestamp"`
}
