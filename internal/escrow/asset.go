package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset moves the settlement token between external accounts and the escrow's
// custody. Implementations must report failure for tokens that return false
// instead of reverting; the adjudicator treats any error as
// ErrAssetTransferFailed and aborts the enclosing operation.
//
// Satisfied by asset.Memory and asset.ERC20; decoupled here so the escrow
// package does not import chain plumbing.
type Asset interface {
	// Pull transfers amount from the external account into custody.
	Pull(ctx context.Context, from common.Address, amount *big.Int) error
	// Push transfers amount from custody to the external account.
	Push(ctx context.Context, to common.Address, amount *big.Int) error
}
