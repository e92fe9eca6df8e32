package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DepositBond pulls amount from the facilitator into bonded custody.
func (a *Adjudicator) DepositBond(ctx context.Context, facilitator common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.asset.Pull(ctx, facilitator, amount); err != nil {
		return fmt.Errorf("%w: pull bond: %v", ErrAssetTransferFailed, err)
	}
	bond, ok := a.bonds[facilitator]
	if !ok {
		bond = new(big.Int)
		a.bonds[facilitator] = bond
	}
	bond.Add(bond, amount)

	a.sink.Emit(Event{Kind: EvBondDeposited, Facilitator: facilitator, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawBond releases unlocked bond back to the facilitator. Bond backing
// an unsettled close or dispute stays locked until finalization, so a
// facilitator cannot drain its bond ahead of a pending slash.
func (a *Adjudicator) WithdrawBond(ctx context.Context, facilitator common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bond := a.bonds[facilitator]
	if bond == nil || bond.Cmp(amount) < 0 {
		return ErrInsufficientBond
	}
	available := new(big.Int).Sub(bond, a.lockedBond(facilitator))
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s locked by open disputes", ErrInsufficientBond, new(big.Int).Sub(bond, available))
	}

	if err := a.asset.Push(ctx, facilitator, amount); err != nil {
		return fmt.Errorf("%w: push bond: %v", ErrAssetTransferFailed, err)
	}
	bond.Sub(bond, amount)

	a.sink.Emit(Event{Kind: EvBondWithdrawn, Facilitator: facilitator, Amount: new(big.Int).Set(amount)})
	return nil
}

// lockedBond sums the facilitator's slash exposure over channels that are
// Closing or Disputed: the recorded claim (or counter-claim, if larger)
// minus what has been proven so far. Callers hold the lock.
func (a *Adjudicator) lockedBond(facilitator common.Address) *big.Int {
	locked := new(big.Int)
	for _, c := range a.channels {
		if c.Facilitator != facilitator {
			continue
		}
		if c.Status != StatusClosing && c.Status != StatusDisputed {
			continue
		}
		exposure := new(big.Int).Set(c.ClaimedAmount)
		if c.DisputedAmount.Cmp(exposure) > 0 {
			exposure.Set(c.DisputedAmount)
		}
		exposure.Sub(exposure, c.ProvenAmount)
		if exposure.Sign() > 0 {
			locked.Add(locked, exposure)
		}
	}
	return locked
}
