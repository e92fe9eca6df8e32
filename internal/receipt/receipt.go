package receipt

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roudra323/x402-prototype/internal/ethsig"
)

// Receipt is one off-chain call receipt issued by the server after a
// successful request. Its signature is a personal-sign over the packed
// digest, so any wallet can verify it without typed-data tooling.
type Receipt struct {
	CallID          common.Hash `json:"call_id"`
	Endpoint        string      `json:"endpoint"`
	Cost            *big.Int    `json:"cost"`
	Timestamp       int64       `json:"timestamp"`
	ServerSignature []byte      `json:"server_signature"`
}

// Redis key templates
const (
	LogKeyFmt    = "channel:receipts:%s"  // %s = payer address (checksummed)
	IntakeKeyFmt = "receipts:intake:%s"   // %s = facilitator address
	DLQKeyFmt    = "receipts:dlq:%s"      // rejected intake items
)

// Digest is keccak256(call_id || endpoint || cost || timestamp) with the
// packed widths: 32-byte call id, raw endpoint bytes, 32-byte big-endian
// cost and timestamp.
func (r *Receipt) Digest() common.Hash {
	return ethsig.KeccakPacked(
		r.CallID[:],
		[]byte(r.Endpoint),
		ethsig.U256(r.Cost),
		ethsig.U256FromInt64(r.Timestamp),
	)
}

// Sign attaches the server's personal-sign signature, V in 27/28.
func Sign(r *Receipt, key *ecdsa.PrivateKey) error {
	digest := r.Digest()
	sig, err := crypto.Sign(ethsig.HashPersonal(digest[:]), key)
	if err != nil {
		return err
	}
	sig[64] += 27
	r.ServerSignature = sig
	return nil
}

// SignerOf recovers the server account that signed the receipt.
func SignerOf(r *Receipt) (common.Address, error) {
	digest := r.Digest()
	return ethsig.RecoverPersonal(digest[:], r.ServerSignature)
}
