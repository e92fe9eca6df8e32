package api

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roudra323/x402-prototype/internal/auth"
	"github.com/roudra323/x402-prototype/internal/escrow"
	"github.com/roudra323/x402-prototype/internal/x402"
)

// Handler exposes the adjudicator's public operations over HTTP. The caller
// identity comes from the wallet-auth middleware; amounts travel as decimal
// strings and digests as 0x-hex.
type Handler struct {
	adj *escrow.Adjudicator
	log *zap.Logger
}

func NewHandler(adj *escrow.Adjudicator, log *zap.Logger) *Handler {
	return &Handler{adj: adj, log: log}
}

// Register mounts all routes. The wallet-auth middleware should already be
// applied to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/bond/deposit", h.handleBondDeposit)
	rg.POST("/bond/withdraw", h.handleBondWithdraw)
	rg.GET("/bond/:facilitator", h.handleBondGet)

	rg.POST("/channel/deposit", h.handleDeposit)
	rg.POST("/channel/topup", h.handleTopUp)
	rg.POST("/channel/close", h.handleClose)
	rg.POST("/channel/claim", h.handleClaim)
	rg.POST("/channel/confirm", h.handleConfirm)
	rg.POST("/channel/dispute", h.handleDispute)
	rg.POST("/channel/counter-dispute", h.handleFacilitatorDispute)
	rg.POST("/channel/proofs", h.handleProofs)
	rg.POST("/channel/finalize", h.handleFinalize)
	rg.GET("/channel/:payer", h.handleChannelGet)
}

// ── bonds ──────────────────────────────────────────────────────────────────

type amountReq struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) handleBondDeposit(c *gin.Context) {
	var req amountReq
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.DepositBond(c.Request.Context(), auth.Caller(c), amount))
}

func (h *Handler) handleBondWithdraw(c *gin.Context) {
	var req amountReq
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.WithdrawBond(c.Request.Context(), auth.Caller(c), amount))
}

func (h *Handler) handleBondGet(c *gin.Context) {
	facilitator := common.HexToAddress(c.Param("facilitator"))
	c.JSON(http.StatusOK, gin.H{
		"facilitator": facilitator.Hex(),
		"bond":        x402.FormatAmount(h.adj.Bond(facilitator)),
	})
}

// ── channel lifecycle ──────────────────────────────────────────────────────

func (h *Handler) handleDeposit(c *gin.Context) {
	var req struct {
		Facilitator string `json:"facilitator" binding:"required"`
		Receiver    string `json:"receiver" binding:"required"`
		Amount      string `json:"amount" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.Deposit(
		c.Request.Context(),
		auth.Caller(c),
		common.HexToAddress(req.Facilitator),
		common.HexToAddress(req.Receiver),
		amount,
	))
}

func (h *Handler) handleTopUp(c *gin.Context) {
	var req amountReq
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.TopUp(c.Request.Context(), auth.Caller(c), amount))
}

func (h *Handler) handleClose(c *gin.Context) {
	var req struct {
		AcknowledgedAmount string `json:"acknowledged_amount" binding:"required"`
		CheckpointRoot     string `json:"checkpoint_root"`
	}
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.AcknowledgedAmount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.InitiateClose(auth.Caller(c), amount, common.HexToHash(req.CheckpointRoot)))
}

func (h *Handler) handleClaim(c *gin.Context) {
	var req struct {
		Payer          string `json:"payer" binding:"required"`
		Amount         string `json:"amount" binding:"required"`
		CheckpointRoot string `json:"checkpoint_root" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	amount, err := x402.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.ClaimSettlement(
		auth.Caller(c),
		common.HexToAddress(req.Payer),
		amount,
		common.HexToHash(req.CheckpointRoot),
	))
}

// handleConfirm routes on caller identity: the channel's facilitator may
// confirm a payer-initiated close immediately; anyone else (the payer
// included) settles only once the dispute window has lapsed.
func (h *Handler) handleConfirm(c *gin.Context) {
	var req struct {
		Payer string `json:"payer" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	payer := common.HexToAddress(req.Payer)
	caller := auth.Caller(c)

	if ch, ok := h.adj.Channel(payer); ok && ch.Facilitator == caller {
		h.run(c, h.adj.FacilitatorConfirm(c.Request.Context(), caller, payer))
		return
	}
	h.run(c, h.adj.ConfirmClose(c.Request.Context(), payer))
}

// ── disputes ───────────────────────────────────────────────────────────────

func (h *Handler) handleDispute(c *gin.Context) {
	var req struct {
		CounterAmount string `json:"counter_amount" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	counter, err := x402.ParseAmount(req.CounterAmount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.Dispute(auth.Caller(c), counter))
}

func (h *Handler) handleFacilitatorDispute(c *gin.Context) {
	var req struct {
		Payer          string `json:"payer" binding:"required"`
		CounterAmount  string `json:"counter_amount" binding:"required"`
		CheckpointRoot string `json:"checkpoint_root" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	counter, err := x402.ParseAmount(req.CounterAmount)
	if err != nil {
		badRequest(c, err)
		return
	}
	h.run(c, h.adj.FacilitatorDispute(
		auth.Caller(c),
		common.HexToAddress(req.Payer),
		counter,
		common.HexToHash(req.CheckpointRoot),
	))
}

type callReq struct {
	CallID    string `json:"call_id" binding:"required"`
	Cost      string `json:"cost" binding:"required"`
	Timestamp string `json:"timestamp" binding:"required"`
	Signature string `json:"signature"`
}

func (h *Handler) handleProofs(c *gin.Context) {
	var req struct {
		Payer  string     `json:"payer" binding:"required"`
		Calls  []callReq  `json:"calls" binding:"required"`
		Proofs [][]string `json:"proofs" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	calls := make([]escrow.SignedCall, 0, len(req.Calls))
	for _, cr := range req.Calls {
		cost, err := x402.ParseAmount(cr.Cost)
		if err != nil {
			badRequest(c, err)
			return
		}
		ts, err := x402.ParseAmount(cr.Timestamp)
		if err != nil {
			badRequest(c, err)
			return
		}
		call := escrow.SignedCall{
			CallID:    common.HexToHash(cr.CallID),
			Cost:      cost,
			Timestamp: ts,
		}
		if cr.Signature != "" {
			call.Signature = common.FromHex(cr.Signature)
		}
		calls = append(calls, call)
	}

	proofs := make([][]common.Hash, 0, len(req.Proofs))
	for _, path := range req.Proofs {
		hashes := make([]common.Hash, 0, len(path))
		for _, p := range path {
			hashes = append(hashes, common.HexToHash(p))
		}
		proofs = append(proofs, hashes)
	}

	h.run(c, h.adj.SubmitProofs(auth.Caller(c), common.HexToAddress(req.Payer), calls, proofs))
}

func (h *Handler) handleFinalize(c *gin.Context) {
	var req struct {
		Payer string `json:"payer" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	h.run(c, h.adj.FinalizeDispute(c.Request.Context(), common.HexToAddress(req.Payer)))
}

func (h *Handler) handleChannelGet(c *gin.Context) {
	payer := common.HexToAddress(c.Param("payer"))
	ch, ok := h.adj.Channel(payer)
	if !ok {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "no channel for payer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payer":             ch.Payer.Hex(),
		"facilitator":       ch.Facilitator.Hex(),
		"receiver":          ch.Receiver.Hex(),
		"balance":           x402.FormatAmount(ch.Balance),
		"claimed_amount":    x402.FormatAmount(ch.ClaimedAmount),
		"disputed_amount":   x402.FormatAmount(ch.DisputedAmount),
		"proven_amount":     x402.FormatAmount(ch.ProvenAmount),
		"checkpoint_root":   ch.CheckpointRoot.Hex(),
		"checkpoint_amount": x402.FormatAmount(ch.CheckpointAmount),
		"dispute_deadline":  ch.DisputeDeadline,
		"proof_deadline":    ch.ProofDeadline,
		"status":            ch.Status.String(),
		"generation":        ch.Generation,
	})
}

// ── plumbing ───────────────────────────────────────────────────────────────

func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) run(c *gin.Context, err error) {
	if err != nil {
		h.log.Warn("operation rejected",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// statusFor maps escrow error kinds onto HTTP statuses. A missing or
// inactive channel is 402 so x402 clients re-enter the payment flow.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrChannelNotActive):
		return http.StatusPaymentRequired
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrChannelNotInactive),
		errors.Is(err, escrow.ErrChannelNotClosing),
		errors.Is(err, escrow.ErrChannelNotDisputed),
		errors.Is(err, escrow.ErrDisputeWindowExpired),
		errors.Is(err, escrow.ErrDisputeWindowNotExpired),
		errors.Is(err, escrow.ErrProofWindowExpired),
		errors.Is(err, escrow.ErrProofWindowNotExpired):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrAssetTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
