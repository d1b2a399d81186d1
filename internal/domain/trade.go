package domain

import "time"

// ExitReason tags every position close for auditability. Exactly one per
// close event.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTakeProfit     ExitReason = "TAKE_PROFIT"
	ExitTrailingStop   ExitReason = "TRAILING_STOP"
	ExitTimeLimit      ExitReason = "TIME_LIMIT"
	ExitSignalReversal ExitReason = "SIGNAL_REVERSAL"
	ExitEndOfRun       ExitReason = "END_OF_RUN"
	ExitEmergencyStop  ExitReason = "EMERGENCY_STOP"
)

// RejectReason tags an admission gate failure. Rejections are expected
// control flow, not errors.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectNeutralDirection  RejectReason = "NEUTRAL_DIRECTION"
	RejectShortsDisabled    RejectReason = "SHORTS_DISABLED"
	RejectBelowConfidence   RejectReason = "BELOW_CONFIDENCE"
	RejectInsufficientRR    RejectReason = "INSUFFICIENT_RISK_REWARD"
	RejectPositionExists    RejectReason = "POSITION_EXISTS"
	RejectCorrelationLimit  RejectReason = "CORRELATION_LIMIT_REACHED"
	RejectCooldown          RejectReason = "COOLDOWN"
	RejectBelowMinNotional  RejectReason = "BELOW_MIN_NOTIONAL"
	RejectInsufficientFunds RejectReason = "INSUFFICIENT_FUNDS"
	RejectEmergencyStopped  RejectReason = "EMERGENCY_STOPPED"
	RejectMissingStop       RejectReason = "MISSING_STOP"
)

// TradeRecord is one immutable ledger row. Open-only records have zero
// exit fields; the close record repeats the identity fields.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	ExitReason ExitReason
	FeesPaid   float64
	PnL        float64
	PnLPct     float64
	StrategyID string
	Closed     bool
}

// OrderInstruction is the outbound order for the execution collaborator.
// The core only ever emits market orders; order-book interaction, retries
// and partial fills belong to the broker side.
type OrderInstruction struct {
	Symbol   string
	Side     Side
	Quantity float64
	// Reduce marks an instruction that closes an existing position.
	Reduce bool
}

// EngineEvent is one entry in the rejection/event log.
type EngineEvent struct {
	At     time.Time
	Symbol string
	Kind   string // "rejection" | "data_error" | "emergency_stop"
	Detail string
}
