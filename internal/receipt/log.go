package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/roudra323/x402-prototype/internal/escrow"
	"github.com/roudra323/x402-prototype/internal/merkle"
)

// Log is the per-payer off-chain receipt accumulator. Receipts append in
// arrival order; the Merkle tree over their call leaves yields the
// checkpoint root offered at close and the proof paths used in a dispute.
type Log struct {
	rdb *redis.Client
}

func NewLog(rdb *redis.Client) *Log {
	return &Log{rdb: rdb}
}

// Checkpoint summarizes a receipt log: the accumulator root, total cost, and
// call count.
type Checkpoint struct {
	Root      common.Hash
	TotalCost *big.Int
	CallCount int
}

func logKey(payer common.Address) string {
	return fmt.Sprintf(LogKeyFmt, payer.Hex())
}

// Append adds a receipt to the payer's log.
func (l *Log) Append(ctx context.Context, payer common.Address, r Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return l.rdb.RPush(ctx, logKey(payer), string(raw)).Err()
}

// List returns the payer's receipts in insertion order.
func (l *Log) List(ctx context.Context, payer common.Address) ([]Receipt, error) {
	raws, err := l.rdb.LRange(ctx, logKey(payer), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read receipt log: %w", err)
	}
	receipts := make([]Receipt, 0, len(raws))
	for _, raw := range raws {
		var r Receipt
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// Clear drops the payer's log.
func (l *Log) Clear(ctx context.Context, payer common.Address) error {
	return l.rdb.Del(ctx, logKey(payer)).Err()
}

// Tree rebuilds the Merkle accumulator over the payer's receipts.
func (l *Log) Tree(ctx context.Context, payer common.Address) (*merkle.Tree, []Receipt, error) {
	receipts, err := l.List(ctx, payer)
	if err != nil {
		return nil, nil, err
	}
	t := merkle.New()
	for _, r := range receipts {
		t.Insert(escrow.CallLeaf(r.CallID, r.Cost, big.NewInt(r.Timestamp)))
	}
	return t, receipts, nil
}

// Summarize computes the checkpoint for the payer's current log.
func (l *Log) Summarize(ctx context.Context, payer common.Address) (Checkpoint, error) {
	t, receipts, err := l.Tree(ctx, payer)
	if err != nil {
		return Checkpoint{}, err
	}
	total := new(big.Int)
	for _, r := range receipts {
		total.Add(total, r.Cost)
	}
	return Checkpoint{Root: t.Root(), TotalCost: total, CallCount: len(receipts)}, nil
}
