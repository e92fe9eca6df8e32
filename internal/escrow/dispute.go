package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/roudra323/x402-prototype/internal/ethsig"
	"github.com/roudra323/x402-prototype/internal/merkle"
)

// Dispute is the payer's contest of a close proposal (O6). counter is the
// payer's own maximum admission; the dispute fee is withheld from the
// balance and refunded at finalization when the proven amount does not
// exceed counter. The proven amount restarts from the mutual checkpoint
// baseline.
func (a *Adjudicator) Dispute(payer common.Address, counter *big.Int) error {
	if counter == nil || counter.Sign() < 0 {
		return ErrInvalidAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusClosing)
	if err != nil {
		return err
	}
	now := a.now()
	if now.Unix() > c.DisputeDeadline {
		return ErrDisputeWindowExpired
	}
	if c.Balance.Cmp(DisputeFee) < 0 {
		return fmt.Errorf("%w: balance %s < dispute fee %s", ErrInsufficientBalance, c.Balance, DisputeFee)
	}

	c.Balance.Sub(c.Balance, DisputeFee)
	c.DisputedAmount.Set(counter)
	c.ProvenAmount.Set(c.CheckpointAmount)
	c.ProofDeadline = now.Add(ProofWindow).Unix()
	c.Status = StatusDisputed
	c.SignedProofsRequired = false

	a.sink.Emit(Event{Kind: EvDisputeRaised, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(counter)})
	return nil
}

// FacilitatorDispute is the facilitator's contest of a payer close,
// asserting the payer underclaimed (O7). The facilitator swaps in its own
// root covering the complete call history, so proof accumulation restarts
// from zero; the mutual checkpoint still floors the final proven figure.
// Every proof entry must then carry the payer's call signature — that is
// what lets an honest root beat an inflated counter-claim.
func (a *Adjudicator) FacilitatorDispute(caller, payer common.Address, counter *big.Int, root common.Hash) error {
	if counter == nil || counter.Sign() < 0 {
		return ErrInvalidAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusClosing)
	if err != nil {
		return err
	}
	if caller != c.Facilitator {
		return fmt.Errorf("%w: caller is not the channel facilitator", ErrUnauthorized)
	}
	now := a.now()
	if now.Unix() > c.DisputeDeadline {
		return ErrDisputeWindowExpired
	}
	if counter.Cmp(c.ClaimedAmount) <= 0 {
		return fmt.Errorf("%w: counter-claim %s must exceed claim %s", ErrInvalidAmount, counter, c.ClaimedAmount)
	}

	c.DisputedAmount.Set(counter)
	c.CheckpointRoot = root
	c.ProvenAmount.SetInt64(0)
	c.ProofDeadline = now.Add(ProofWindow).Unix()
	c.Status = StatusDisputed
	c.SignedProofsRequired = true

	a.sink.Emit(Event{Kind: EvDisputeRaised, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(counter)})
	return nil
}

// SubmitProofs credits proven call costs during a dispute (O8). Entries
// whose call id was already credited in this channel generation are skipped
// silently; any invalid proof or signature rejects the whole batch.
func (a *Adjudicator) SubmitProofs(caller, payer common.Address, calls []SignedCall, proofs [][]common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusDisputed)
	if err != nil {
		return err
	}
	if caller != c.Facilitator {
		return fmt.Errorf("%w: caller is not the channel facilitator", ErrUnauthorized)
	}
	if a.now().Unix() > c.ProofDeadline {
		return ErrProofWindowExpired
	}
	if len(calls) != len(proofs) {
		return fmt.Errorf("%w: %d calls, %d proofs", ErrInvalidProof, len(calls), len(proofs))
	}

	// Validate the whole batch before touching state so a late failure
	// cannot leave a partial credit behind.
	batch := new(big.Int)
	accepted := make([]provenKey, 0, len(calls))
	seen := make(map[provenKey]struct{}, len(calls))
	for i, call := range calls {
		if call.Cost == nil || call.Cost.Sign() < 0 || call.Timestamp == nil || call.Timestamp.Sign() < 0 {
			return ErrInvalidAmount
		}
		key := provenKey{payer: payer, generation: c.Generation, callID: call.CallID}
		if _, dup := a.proven[key]; dup {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}

		leaf := CallLeaf(call.CallID, call.Cost, call.Timestamp)
		if !merkle.Verify(leaf, proofs[i], c.CheckpointRoot) {
			return fmt.Errorf("%w: call %s", ErrInvalidProof, call.CallID.Hex())
		}
		if c.SignedProofsRequired {
			digest := CallDigest(call, a.chainID, a.escrowAddr)
			signer, err := ethsig.Recover(digest[:], call.Signature)
			if err != nil || signer != payer {
				return fmt.Errorf("%w: call %s not signed by payer", ErrInvalidSignature, call.CallID.Hex())
			}
		}

		seen[key] = struct{}{}
		accepted = append(accepted, key)
		batch.Add(batch, call.Cost)
	}

	for _, key := range accepted {
		a.proven[key] = struct{}{}
	}
	c.ProvenAmount.Add(c.ProvenAmount, batch)

	a.sink.Emit(Event{Kind: EvProofSubmitted, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: batch, Aux: new(big.Int).Set(c.ProvenAmount)})
	return nil
}

// FinalizeDispute adjudicates after the proof window lapses (O9). Callable
// by anyone. All disbursements are computed up front and pushed before any
// ledger state changes, so a failed transfer aborts the whole operation.
func (a *Adjudicator) FinalizeDispute(ctx context.Context, payer common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusDisputed)
	if err != nil {
		return err
	}
	if a.now().Unix() <= c.ProofDeadline {
		return ErrProofWindowNotExpired
	}

	// The mutual checkpoint floors the proven figure: a facilitator dispute
	// restarts accumulation from zero, but can never adjudicate below what
	// both sides already agreed on.
	proven := new(big.Int).Set(c.ProvenAmount)
	if proven.Cmp(c.CheckpointAmount) < 0 {
		proven.Set(c.CheckpointAmount)
	}

	pot := new(big.Int).Set(c.Balance)
	settlement := new(big.Int)
	var slash, penalty *big.Int

	if c.DisputedAmount.Cmp(c.ClaimedAmount) > 0 {
		// Facilitator-disputed: the counter-claim alleges underclaim.
		settlement.Set(bigMin(proven, c.DisputedAmount, pot))
		if settlement.Cmp(c.ClaimedAmount) > 0 {
			underclaim := new(big.Int).Sub(settlement, c.ClaimedAmount)
			p := new(big.Int).Mul(underclaim, big.NewInt(UnderclaimPenaltyNumerator))
			p.Div(p, big.NewInt(UnderclaimPenaltyDenominator))
			need := new(big.Int).Add(settlement, p)
			if pot.Cmp(need) >= 0 {
				settlement.Set(need)
				penalty = p
			} else {
				a.log.Warn("underclaim penalty skipped, balance exhausted",
					zap.String("payer", payer.Hex()),
					zap.String("penalty", p.String()),
				)
			}
		}
	} else {
		// Payer-disputed: the claim alleges overclaim.
		settlement.Set(bigMin(proven, c.DisputedAmount))
		if proven.Cmp(c.ClaimedAmount) < 0 {
			overclaim := new(big.Int).Sub(c.ClaimedAmount, proven)
			slash = a.slashAmount(c.Facilitator, overclaim)
		}
		if proven.Cmp(c.DisputedAmount) <= 0 {
			// Payer's admission covered everything provable: fee comes back.
			pot.Add(pot, DisputeFee)
		}
		if settlement.Cmp(pot) > 0 {
			settlement.Set(pot)
		}
	}

	refund := new(big.Int).Sub(pot, settlement)

	// Disburse, then commit.
	if slash != nil && slash.Sign() > 0 {
		if err := a.asset.Push(ctx, payer, slash); err != nil {
			return fmt.Errorf("%w: push slash: %v", ErrAssetTransferFailed, err)
		}
	}
	if err := a.disburse(ctx, c, settlement, refund); err != nil {
		return err
	}

	if slash != nil && slash.Sign() > 0 {
		bond := a.bonds[c.Facilitator]
		bond.Sub(bond, slash)
		a.sink.Emit(Event{Kind: EvBondSlashed, Payer: payer, Facilitator: c.Facilitator, Amount: new(big.Int).Set(slash)})
	}
	if penalty != nil {
		a.sink.Emit(Event{Kind: EvPayerPenalized, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(penalty)})
	}
	a.commitSettled(c, settlement, refund)
	return nil
}

// settle disburses the claimed amount and closes the channel (O10 for the
// confirm paths). Callers hold the lock.
func (a *Adjudicator) settle(ctx context.Context, c *Channel, amount *big.Int) error {
	refund := new(big.Int).Sub(c.Balance, amount)
	if refund.Sign() < 0 {
		return fmt.Errorf("%w: settlement %s exceeds balance %s", ErrInsufficientBalance, amount, c.Balance)
	}
	if err := a.disburse(ctx, c, amount, refund); err != nil {
		return err
	}
	a.commitSettled(c, amount, refund)
	return nil
}

func (a *Adjudicator) disburse(ctx context.Context, c *Channel, settlement, refund *big.Int) error {
	if settlement.Sign() > 0 {
		if err := a.asset.Push(ctx, c.Receiver, settlement); err != nil {
			return fmt.Errorf("%w: push settlement: %v", ErrAssetTransferFailed, err)
		}
	}
	if refund.Sign() > 0 {
		if err := a.asset.Push(ctx, c.Payer, refund); err != nil {
			return fmt.Errorf("%w: push refund: %v", ErrAssetTransferFailed, err)
		}
	}
	return nil
}

func (a *Adjudicator) commitSettled(c *Channel, settlement, refund *big.Int) {
	c.Balance.SetInt64(0)
	c.DisputeDeadline = 0
	c.ProofDeadline = 0
	c.Status = StatusSettled

	a.sink.Emit(Event{Kind: EvChannelSettled, Payer: c.Payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(settlement), Aux: new(big.Int).Set(refund)})
}

// slashAmount caps a slash at the facilitator's bond. Callers hold the lock.
func (a *Adjudicator) slashAmount(facilitator common.Address, want *big.Int) *big.Int {
	bond := a.bonds[facilitator]
	if bond == nil || bond.Sign() == 0 {
		return new(big.Int)
	}
	if want.Cmp(bond) > 0 {
		return new(big.Int).Set(bond)
	}
	return new(big.Int).Set(want)
}

func bigMin(vals ...*big.Int) *big.Int {
	min := vals[0]
	for _, v := range vals[1:] {
		if v.Cmp(min) < 0 {
			min = v
		}
	}
	return min
}
