package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Adjudicator is the single entry point for all channel and bond operations.
//
// Every public method validates its arguments, takes the lock, and either
// commits in full or returns a typed error with no state mutated. Operations
// on one channel observe a linear history; the only cross-channel state is
// the bond ledger, mutated under the same lock.
type Adjudicator struct {
	mu sync.Mutex

	asset      Asset
	chainID    *big.Int
	escrowAddr common.Address

	channels map[common.Address]*Channel
	bonds    map[common.Address]*big.Int
	proven   map[provenKey]struct{}

	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

// provenKey scopes proof dedup to a channel generation so entries from a
// settled channel cannot suppress proofs in its successor.
type provenKey struct {
	payer      common.Address
	generation uint64
	callID     common.Hash
}

func New(asset Asset, chainID *big.Int, escrowAddr common.Address, sink Sink, log *zap.Logger) *Adjudicator {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adjudicator{
		asset:      asset,
		chainID:    chainID,
		escrowAddr: escrowAddr,
		channels:   make(map[common.Address]*Channel),
		bonds:      make(map[common.Address]*big.Int),
		proven:     make(map[provenKey]struct{}),
		sink:       sink,
		log:        log,
		now:        time.Now,
	}
}

// EscrowAddress returns the domain-binding address used for call
// authorization digests.
func (a *Adjudicator) EscrowAddress() common.Address { return a.escrowAddr }

// ChainID returns the chain the escrow's signing domains are bound to.
func (a *Adjudicator) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// Channel returns a copy of the payer's channel record.
func (a *Adjudicator) Channel(payer common.Address) (*Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.channels[payer]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Bond returns the facilitator's bonded amount.
func (a *Adjudicator) Bond(facilitator common.Address) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bonds[facilitator]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Deposit opens a fresh channel for payer (O1). The previous channel, if any,
// must be Settled; its proven-call entries are retired by the generation bump.
func (a *Adjudicator) Deposit(ctx context.Context, payer, facilitator, receiver common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Cmp(MinDeposit) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientDeposit, amount, MinDeposit)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if b := a.bonds[facilitator]; b == nil || b.Cmp(MinFacilitatorBond) < 0 {
		return ErrInsufficientFacilitatorBond
	}

	prev, exists := a.channels[payer]
	if exists && prev.Status != StatusInactive && prev.Status != StatusSettled {
		return fmt.Errorf("%w: status %s", ErrChannelNotInactive, prev.Status)
	}

	if err := a.asset.Pull(ctx, payer, amount); err != nil {
		return fmt.Errorf("%w: pull deposit: %v", ErrAssetTransferFailed, err)
	}

	gen := uint64(1)
	if exists {
		gen = prev.Generation + 1
	}
	a.channels[payer] = &Channel{
		Payer:            payer,
		Facilitator:      facilitator,
		Receiver:         receiver,
		Balance:          new(big.Int).Set(amount),
		ClaimedAmount:    new(big.Int),
		DisputedAmount:   new(big.Int),
		ProvenAmount:     new(big.Int),
		CheckpointAmount: new(big.Int),
		Status:           StatusActive,
		Generation:       gen,
	}

	a.sink.Emit(Event{Kind: EvChannelOpened, Payer: payer, Facilitator: facilitator, Receiver: receiver, Amount: new(big.Int).Set(amount)})
	return nil
}

// TopUp adds funds to an Active channel (O2).
func (a *Adjudicator) TopUp(ctx context.Context, payer common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusActive)
	if err != nil {
		return err
	}
	if err := a.asset.Pull(ctx, payer, amount); err != nil {
		return fmt.Errorf("%w: pull top-up: %v", ErrAssetTransferFailed, err)
	}
	c.Balance.Add(c.Balance, amount)

	a.sink.Emit(Event{Kind: EvChannelToppedUp, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(amount)})
	return nil
}

// InitiateClose is the payer's close proposal (O3). acknowledged is the
// amount the payer admits owing; it becomes both the claim and the mutual
// checkpoint baseline, since the payer is signing its own ledger.
func (a *Adjudicator) InitiateClose(payer common.Address, acknowledged *big.Int, root common.Hash) error {
	if acknowledged == nil || acknowledged.Sign() < 0 {
		return ErrInvalidAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusActive)
	if err != nil {
		return err
	}
	if acknowledged.Cmp(c.Balance) > 0 {
		return fmt.Errorf("%w: acknowledged %s > balance %s", ErrInsufficientBalance, acknowledged, c.Balance)
	}

	c.ClaimedAmount.Set(acknowledged)
	c.CheckpointRoot = root
	c.CheckpointAmount.Set(acknowledged)
	c.DisputeDeadline = a.now().Add(DisputeWindow).Unix()
	c.Status = StatusClosing
	c.closeInitiator = payer

	a.sink.Emit(Event{Kind: EvCloseInitiated, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(acknowledged)})
	return nil
}

// ClaimSettlement is the facilitator's close proposal (O4). Unlike O3 it
// does not move the checkpoint baseline: a unilateral claim is not a mutual
// checkpoint, so the payer's dispute still starts from the last agreed floor.
func (a *Adjudicator) ClaimSettlement(caller, payer common.Address, amount *big.Int, root common.Hash) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusActive)
	if err != nil {
		return err
	}
	if caller != c.Facilitator {
		return fmt.Errorf("%w: caller is not the channel facilitator", ErrUnauthorized)
	}
	if amount.Cmp(c.Balance) > 0 {
		return fmt.Errorf("%w: claim %s > balance %s", ErrInsufficientBalance, amount, c.Balance)
	}

	c.ClaimedAmount.Set(amount)
	c.CheckpointRoot = root
	c.DisputeDeadline = a.now().Add(DisputeWindow).Unix()
	c.Status = StatusClosing
	c.closeInitiator = caller

	a.sink.Emit(Event{Kind: EvCloseInitiated, Payer: payer, Facilitator: c.Facilitator, Receiver: c.Receiver, Amount: new(big.Int).Set(amount)})
	return nil
}

// FacilitatorConfirm settles immediately at the claimed amount during
// Closing (O5). Only a payer-initiated close can be confirmed this way;
// confirming one's own claim would strip the payer's dispute right.
func (a *Adjudicator) FacilitatorConfirm(ctx context.Context, caller, payer common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusClosing)
	if err != nil {
		return err
	}
	if caller != c.Facilitator {
		return fmt.Errorf("%w: caller is not the channel facilitator", ErrUnauthorized)
	}
	if c.closeInitiator != c.Payer {
		return fmt.Errorf("%w: cannot confirm own settlement claim", ErrUnauthorized)
	}
	return a.settle(ctx, c, new(big.Int).Set(c.ClaimedAmount))
}

// ConfirmClose settles at the claimed amount once the dispute window has
// lapsed without contest. Callable by anyone.
func (a *Adjudicator) ConfirmClose(ctx context.Context, payer common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.channelIn(payer, StatusClosing)
	if err != nil {
		return err
	}
	if a.now().Unix() <= c.DisputeDeadline {
		return ErrDisputeWindowNotExpired
	}
	return a.settle(ctx, c, new(big.Int).Set(c.ClaimedAmount))
}

// channelIn fetches the payer's channel and checks its status. Callers hold
// the lock.
func (a *Adjudicator) channelIn(payer common.Address, want Status) (*Channel, error) {
	c, ok := a.channels[payer]
	if !ok || c.Status != want {
		switch want {
		case StatusActive:
			return nil, ErrChannelNotActive
		case StatusClosing:
			return nil, ErrChannelNotClosing
		case StatusDisputed:
			return nil, ErrChannelNotDisputed
		default:
			return nil, ErrChannelNotInactive
		}
	}
	return c, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
