package escrow

import (
	"math/big"
	"time"
)

// Protocol constants. Amounts are minor units of the settlement asset
// (10^-6 of a nominal unit for the reference deployment).
const (
	// DisputeWindow is how long the counterparty has to contest a close.
	DisputeWindow = 7 * 24 * time.Hour
	// ProofWindow is how long the facilitator has to submit Merkle proofs
	// after a dispute is raised.
	ProofWindow = 5 * 24 * time.Hour

	// UnderclaimPenaltyNumerator / UnderclaimPenaltyDenominator set the
	// penalty charged against a payer whose acknowledged amount is proven
	// short: penalty = underclaim * num / den.
	UnderclaimPenaltyNumerator   = 1
	UnderclaimPenaltyDenominator = 10
)

var (
	// MinDeposit is the smallest channel opening amount.
	MinDeposit = big.NewInt(10_000_000)
	// DisputeFee is withheld from the channel balance when the payer raises
	// a dispute; refunded at finalization when the proven amount does not
	// exceed the payer's counter-claim.
	DisputeFee = big.NewInt(500_000)
	// MinFacilitatorBond is the bond a facilitator must hold to be
	// eligible at channel open.
	MinFacilitatorBond = big.NewInt(100_000_000)
)
