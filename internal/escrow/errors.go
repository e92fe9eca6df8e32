package escrow

import "errors"

// Operation failures. Every adjudicator operation either commits in full or
// returns one of these with no state mutated.
var (
	ErrChannelNotActive   = errors.New("channel not active")
	ErrChannelNotInactive = errors.New("channel not inactive")
	ErrChannelNotClosing  = errors.New("channel not closing")
	ErrChannelNotDisputed = errors.New("channel not disputed")

	ErrInsufficientDeposit         = errors.New("deposit below minimum")
	ErrInsufficientBalance         = errors.New("insufficient channel balance")
	ErrInsufficientBond            = errors.New("insufficient bond")
	ErrInsufficientFacilitatorBond = errors.New("facilitator bond below minimum")

	ErrInvalidProof     = errors.New("invalid merkle proof")
	ErrInvalidSignature = errors.New("invalid signature")

	ErrDisputeWindowExpired    = errors.New("dispute window expired")
	ErrDisputeWindowNotExpired = errors.New("dispute window not expired")
	ErrProofWindowExpired      = errors.New("proof window expired")
	ErrProofWindowNotExpired   = errors.New("proof window not expired")

	ErrUnauthorized        = errors.New("caller not authorized")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrAssetTransferFailed = errors.New("asset transfer failed")
)
