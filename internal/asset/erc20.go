package asset

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// 4-byte selectors, computed once.
var (
	transferSig     = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	transferFromSig = crypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
)

// ERC20 moves a token between external accounts and the escrow's custody
// address. Pull uses transferFrom against a prior allowance; Push uses
// transfer from the custody key.
//
// Both paths check the mined receipt status AND the boolean return value via
// a simulated call, because non-reverting tokens signal failure by returning
// false.
type ERC20 struct {
	eth     *ethclient.Client
	token   common.Address
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int
	log     *zap.Logger
}

func NewERC20(eth *ethclient.Client, token common.Address, custodyKey *ecdsa.PrivateKey, chainID *big.Int, log *zap.Logger) *ERC20 {
	if log == nil {
		log = zap.NewNop()
	}
	return &ERC20{
		eth:     eth,
		token:   token,
		key:     custodyKey,
		custody: crypto.PubkeyToAddress(custodyKey.PublicKey),
		chainID: chainID,
		log:     log,
	}
}

// CustodyAddress returns the on-chain account holding escrowed funds.
func (e *ERC20) CustodyAddress() common.Address { return e.custody }

func (e *ERC20) Pull(ctx context.Context, from common.Address, amount *big.Int) error {
	data := make([]byte, 4+3*32)
	copy(data[:4], transferFromSig)
	copy(data[4+12:4+32], from.Bytes())
	copy(data[36+12:36+32], e.custody.Bytes())
	amount.FillBytes(data[68:100])
	return e.execute(ctx, data, "transferFrom")
}

func (e *ERC20) Push(ctx context.Context, to common.Address, amount *big.Int) error {
	data := make([]byte, 4+2*32)
	copy(data[:4], transferSig)
	copy(data[4+12:4+32], to.Bytes())
	amount.FillBytes(data[36:68])
	return e.execute(ctx, data, "transfer")
}

func (e *ERC20) execute(ctx context.Context, callData []byte, op string) error {
	msg := ethereum.CallMsg{From: e.custody, To: &e.token, Data: callData}

	// Simulate first: catches reverts cheaply and surfaces false-returning
	// tokens before gas is spent.
	ret, err := e.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return fmt.Errorf("%s simulate: %w", op, err)
	}
	if !returnedTrue(ret) {
		return fmt.Errorf("%s returned false", op)
	}

	nonce, err := e.eth.PendingNonceAt(ctx, e.custody)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasLimit := uint64(100_000)
	if est, err := e.eth.EstimateGas(ctx, msg); err == nil {
		gasLimit = est * 12 / 10
	}
	header, err := e.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.token,
		Value:     new(big.Int),
		Data:      callData,
	})
	signed, err := types.SignTx(tx, types.NewLondonSigner(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("sign %s tx: %w", op, err)
	}
	if err := e.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send %s tx: %w", op, err)
	}

	receipt, err := bind.WaitMined(ctx, e.eth, signed)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%s reverted: %s", op, signed.Hash().Hex())
	}
	e.log.Debug("erc20 transfer mined",
		zap.String("op", op),
		zap.String("tx", signed.Hash().Hex()),
	)
	return nil
}

// returnedTrue decodes an ERC-20 boolean return. Tokens that return no data
// on success (pre-standard implementations) pass; a 32-byte zero word fails.
func returnedTrue(ret []byte) bool {
	if len(ret) == 0 {
		return true
	}
	for _, b := range ret {
		if b != 0 {
			return true
		}
	}
	return false
}
