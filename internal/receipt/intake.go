package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueuedReceipt is the intake queue item: a receipt plus the payer it bills.
type QueuedReceipt struct {
	Payer   common.Address `json:"payer"`
	Receipt Receipt        `json:"receipt"`
}

// Intake consumes the facilitator's receipt queue, verifies each server
// signature, and appends accepted receipts to the payer's log. Items signed
// by anything but the known server account go to the DLQ — a bad server key
// is a config problem, not data to drop silently.
type Intake struct {
	rdb         *redis.Client
	log         *Log
	facilitator common.Address
	server      common.Address
	logger      *zap.Logger
}

func NewIntake(rdb *redis.Client, log *Log, facilitator, server common.Address, logger *zap.Logger) *Intake {
	return &Intake{rdb: rdb, log: log, facilitator: facilitator, server: server, logger: logger}
}

// Enqueue pushes a receipt onto the facilitator's intake queue.
func Enqueue(ctx context.Context, rdb *redis.Client, facilitator common.Address, item QueuedReceipt) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queued receipt: %w", err)
	}
	key := fmt.Sprintf(IntakeKeyFmt, facilitator.Hex())
	return rdb.RPush(ctx, key, string(raw)).Err()
}

// Run is the intake loop: BLPOP → verify → append.
func (in *Intake) Run(ctx context.Context) {
	queueKey := fmt.Sprintf(IntakeKeyFmt, in.facilitator.Hex())
	in.logger.Info("receipt intake started", zap.String("queue", queueKey))

	for {
		if ctx.Err() != nil {
			in.logger.Info("receipt intake stopped")
			return
		}

		results, err := in.rdb.BLPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			in.logger.Error("intake: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		in.handle(ctx, results[1])
	}
}

func (in *Intake) handle(ctx context.Context, raw string) {
	var item QueuedReceipt
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		in.logger.Error("intake: unmarshal receipt", zap.String("raw", raw), zap.Error(err))
		return
	}

	signer, err := SignerOf(&item.Receipt)
	if err != nil || signer != in.server {
		dlqKey := fmt.Sprintf(DLQKeyFmt, in.facilitator.Hex())
		in.rdb.RPush(ctx, dlqKey, raw) //nolint:errcheck
		in.logger.Error("intake: receipt rejected — not signed by server",
			zap.String("call", item.Receipt.CallID.Hex()),
			zap.String("payer", item.Payer.Hex()),
			zap.Error(err),
		)
		return
	}

	if err := in.log.Append(ctx, item.Payer, item.Receipt); err != nil {
		// Re-queue so a transient Redis failure cannot lose a billed call.
		key := fmt.Sprintf(IntakeKeyFmt, in.facilitator.Hex())
		in.rdb.LPush(ctx, key, raw) //nolint:errcheck
		in.logger.Error("intake: append failed, re-queued",
			zap.String("call", item.Receipt.CallID.Hex()),
			zap.Error(err),
		)
		return
	}

	in.logger.Info("receipt accepted",
		zap.String("call", item.Receipt.CallID.Hex()),
		zap.String("payer", item.Payer.Hex()),
		zap.String("cost", item.Receipt.Cost.String()),
	)
}
