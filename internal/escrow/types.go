package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the per-channel lifecycle state.
type Status uint8

const (
	StatusInactive Status = iota
	StatusActive
	StatusClosing
	StatusDisputed
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusActive:
		return "ACTIVE"
	case StatusClosing:
		return "CLOSING"
	case StatusDisputed:
		return "DISPUTED"
	case StatusSettled:
		return "SETTLED"
	default:
		return "UNKNOWN"
	}
}

// Channel is the per-payer escrow record. Parties are immutable for the
// channel's lifetime; a Settled record may be succeeded by a fresh deposit,
// which bumps Generation so proven-call entries cannot leak across channels.
type Channel struct {
	Payer       common.Address
	Facilitator common.Address
	Receiver    common.Address

	Balance          *big.Int
	ClaimedAmount    *big.Int
	DisputedAmount   *big.Int
	ProvenAmount     *big.Int
	CheckpointRoot   common.Hash
	CheckpointAmount *big.Int

	// Unix seconds; zero when not applicable.
	DisputeDeadline int64
	ProofDeadline   int64

	Status     Status
	Generation uint64

	// SignedProofsRequired is set when the facilitator disputes (asserting
	// the payer underclaimed): every proof entry must then carry the
	// payer's call authorization signature.
	SignedProofsRequired bool

	// closeInitiator records which party proposed the active close; only a
	// payer-initiated close may be fast-confirmed by the facilitator.
	closeInitiator common.Address
}

// clone returns a deep copy; the adjudicator hands copies to readers so
// callers can never mutate committed state.
func (c *Channel) clone() *Channel {
	cp := *c
	cp.Balance = new(big.Int).Set(c.Balance)
	cp.ClaimedAmount = new(big.Int).Set(c.ClaimedAmount)
	cp.DisputedAmount = new(big.Int).Set(c.DisputedAmount)
	cp.ProvenAmount = new(big.Int).Set(c.ProvenAmount)
	cp.CheckpointAmount = new(big.Int).Set(c.CheckpointAmount)
	return &cp
}

// SignedCall is one dispute proof entry: the call identifier, its cost and
// timestamp (the Merkle leaf preimage), and optionally the payer's typed-data
// signature over {callId, cost, timestamp, escrow}.
type SignedCall struct {
	CallID    common.Hash
	Cost      *big.Int
	Timestamp *big.Int
	Signature []byte // 65 bytes when present
}
