package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// EventKind enumerates the adjudicator's observable events.
type EventKind string

const (
	EvChannelOpened   EventKind = "ChannelOpened"
	EvChannelToppedUp EventKind = "ChannelToppedUp"
	EvCloseInitiated  EventKind = "CloseInitiated"
	EvDisputeRaised   EventKind = "DisputeRaised"
	EvProofSubmitted  EventKind = "ProofSubmitted"
	EvChannelSettled  EventKind = "ChannelSettled"
	EvBondDeposited   EventKind = "BondDeposited"
	EvBondWithdrawn   EventKind = "BondWithdrawn"
	EvBondSlashed     EventKind = "BondSlashed"
	EvPayerPenalized  EventKind = "PayerPenalized"
)

// Event carries the indexed parties and minor-unit amounts of one state
// transition. Amount/Aux meaning depends on Kind (e.g. for ChannelSettled,
// Amount is the receiver disbursement and Aux the payer refund).
type Event struct {
	Kind        EventKind
	Payer       common.Address
	Facilitator common.Address
	Receiver    common.Address
	Amount      *big.Int
	Aux         *big.Int
}

// Sink receives events at commit points. Emit must not call back into the
// adjudicator.
type Sink interface {
	Emit(Event)
}

// LogSink writes events to a zap logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("payer", e.Payer.Hex()),
		zap.String("facilitator", e.Facilitator.Hex()),
		zap.String("receiver", e.Receiver.Hex()),
	}
	if e.Amount != nil {
		fields = append(fields, zap.String("amount", e.Amount.String()))
	}
	if e.Aux != nil {
		fields = append(fields, zap.String("aux", e.Aux.String()))
	}
	s.Log.Info(string(e.Kind), fields...)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
