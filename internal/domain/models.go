package domain

import "time"

// Account represents a settlement account. Balances are stored in cents.
// Accounts are never deleted; a deactivated account keeps its audit trail.
type Account struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email,omitempty"`
	Balance   int64     `json:"balance"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	AccountActive      = "active"
	AccountDeactivated = "deactivated"
)

type EntryKind string

const (
	EntryPurchase  EntryKind = "purchase"
	EntryDeduction EntryKind = "deduction"
	EntryRefund    EntryKind = "refund"
)

// LedgerEntry is an immutable record of one balance mutation. Amounts are
// always positive; the kind carries the sign.
type LedgerEntry struct {
	ID              string    `json:"id"`
	AccountID       int64     `json:"account_id"`
	Kind            EntryKind `json:"kind"`
	Amount          int64     `json:"amount"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

type HoldStatus string

const (
	HoldAuthorized       HoldStatus = "AUTHORIZED"
	HoldFundsHeld        HoldStatus = "FUNDS_HELD"
	HoldDelivered        HoldStatus = "DELIVERED"
	HoldPaid             HoldStatus = "PAID"
	HoldCancelledTimeout HoldStatus = "CANCELLED_TIMEOUT"
	HoldCancelledError   HoldStatus = "CANCELLED_ERROR"
)

// Terminal reports whether a hold status permits no further writes.
func (s HoldStatus) Terminal() bool {
	switch s {
	case HoldDelivered, HoldPaid, HoldCancelledTimeout, HoldCancelledError:
		return true
	}
	return false
}

// CanTransition encodes the escrow state machine. Transitions are monotonic;
// nothing leaves a terminal state.
func (s HoldStatus) CanTransition(to HoldStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case HoldAuthorized:
		return to == HoldFundsHeld || to == HoldDelivered || to == HoldPaid ||
			to == HoldCancelledTimeout || to == HoldCancelledError
	case HoldFundsHeld:
		return to == HoldDelivered || to == HoldPaid ||
			to == HoldCancelledTimeout || to == HoldCancelledError
	}
	return false
}

// EscrowHold is keyed by the processor's payment-intent id. Rows are kept
// forever for audit.
type EscrowHold struct {
	ID             string     `json:"hold_id"`
	OwnerAccountID int64      `json:"owner_account_id"`
	Amount         int64      `json:"amount"`
	Status         HoldStatus `json:"status"`
	ArtifactRef    string     `json:"artifact_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AgentCandidate is a discovery-index result: an agent claiming a capability.
type AgentCandidate struct {
	Identity     string   `json:"identity"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}
