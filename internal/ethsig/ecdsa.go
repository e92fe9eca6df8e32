package ethsig

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature covers malformed, malleable, and unrecoverable
// signatures. Callers branch with errors.Is.
var ErrInvalidSignature = errors.New("invalid signature")

// Recover extracts the signer address from a 65-byte (R || S || V) signature
// over digest.
//
// V is normalized: values below 27 are treated as 0/1, values 27/28 as the
// Solidity ecrecover convention. Signatures with S in the upper half of the
// curve order are rejected outright — accepting both halves would let anyone
// mint a second valid signature for the same digest.
func Recover(digest []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d, want 65", ErrInvalidSignature, len(sig))
	}

	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	if sigCopy[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}

	r := new(big.Int).SetBytes(sigCopy[:32])
	s := new(big.Int).SetBytes(sigCopy[32:64])
	// homestead=true enforces the low-S rule.
	if !crypto.ValidateSignatureValues(sigCopy[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: high-s or out-of-range values", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(digest, sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: ecrecover: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonal recovers the signer of an EIP-191 personal-sign message.
func RecoverPersonal(msg []byte, sig []byte) (common.Address, error) {
	return Recover(HashPersonal(msg), sig)
}
