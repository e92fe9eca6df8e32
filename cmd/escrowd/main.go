package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/roudra323/x402-prototype/internal/api"
	"github.com/roudra323/x402-prototype/internal/asset"
	"github.com/roudra323/x402-prototype/internal/auth"
	"github.com/roudra323/x402-prototype/internal/config"
	"github.com/roudra323/x402-prototype/internal/escrow"
	"github.com/roudra323/x402-prototype/internal/receipt"
	"github.com/roudra323/x402-prototype/internal/x402"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Settlement asset ──────────────────────────────────────────────────────
	chainID := big.NewInt(cfg.Chain.ChainID)
	var settlementAsset escrow.Asset
	switch cfg.Chain.AssetBackend {
	case "memory":
		settlementAsset = asset.NewMemory()
		log.Warn("using in-memory settlement asset — local deployments only")
	case "erc20":
		eth, err := ethclient.Dial(cfg.Chain.RPCURL)
		if err != nil {
			log.Fatal("dial rpc failed", zap.Error(err))
		}
		custodyKey, err := crypto.HexToECDSA(cfg.Chain.CustodyKey)
		if err != nil {
			log.Fatal("parse custody key failed", zap.Error(err))
		}
		settlementAsset = asset.NewERC20(eth, common.HexToAddress(cfg.Chain.TokenAddress), custodyKey, chainID, log)
	default:
		log.Fatal("unknown asset backend", zap.String("backend", cfg.Chain.AssetBackend))
	}

	// ── Adjudicator ───────────────────────────────────────────────────────────
	escrowAddr := common.HexToAddress(cfg.Chain.EscrowAddress)
	adj := escrow.New(settlementAsset, chainID, escrowAddr, escrow.LogSink{Log: log}, log)

	// ── Receipt log + intake ──────────────────────────────────────────────────
	facilitatorAddr := common.HexToAddress(cfg.Channel.FacilitatorAddress)
	serverAddr := common.HexToAddress(cfg.Channel.ServerAddress)
	rlog := receipt.NewLog(rdb)
	intake := receipt.NewIntake(rdb, rlog, facilitatorAddr, serverAddr, log)
	go intake.Run(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	escrowAPI := r.Group("/api", auth.Middleware(rdb))
	api.NewHandler(adj, log).Register(escrowAPI)

	// Paid demo surface: mounted only when this process also holds the
	// server's receipt-signing key (single-binary deployments).
	if cfg.Channel.ServerKey != "" {
		serverKey, err := crypto.HexToECDSA(cfg.Channel.ServerKey)
		if err != nil {
			log.Fatal("parse server key failed", zap.Error(err))
		}
		price, err := x402.ParseAmount(cfg.Channel.PricePerCall)
		if err != nil {
			log.Fatal("invalid PRICE_PER_CALL", zap.Error(err))
		}
		challenge := x402.Challenge{
			X402Version: x402.Version,
			Scheme:      x402.SchemeChannel,
			ChainID:     cfg.Chain.ChainID,
			Network:     cfg.Channel.Network,
			PayTo:       serverAddr.Hex(),
			Asset:       cfg.Chain.TokenAddress,
			MaxAmount:   cfg.Channel.PricePerCall,
			Extra: x402.ChallengeExtra{
				EscrowAddress:      escrowAddr.Hex(),
				MinDeposit:         x402.FormatAmount(escrow.MinDeposit),
				FacilitatorAddress: facilitatorAddr.Hex(),
				FacilitatorBond:    x402.FormatAmount(escrow.MinFacilitatorBond),
			},
		}
		admission := auth.NewAdmission(rdb, chainID, escrowAddr, challenge, log)
		paid := r.Group("/paid", admission.Gate())
		paid.GET("/echo", paidEcho(rdb, serverKey, price, facilitatorAddr, adj, log))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// paidEcho serves a metered request: the admitted agent must hold an Active
// channel whose balance is at least one call's price (calls already served
// are not deducted from it), then gets a signed receipt in the
// response headers while the receipt is queued for the facilitator's log.
func paidEcho(
	rdb *redis.Client,
	serverKey *ecdsa.PrivateKey,
	price *big.Int,
	facilitator common.Address,
	adj *escrow.Adjudicator,
	log *zap.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := auth.Agent(c)

		ch, ok := adj.Channel(agent)
		if !ok || ch.Status != escrow.StatusActive || ch.Balance.Cmp(price) < 0 {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "no funded channel for agent"})
			return
		}

		var callID common.Hash
		if _, err := rand.Read(callID[:]); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		rcpt := receipt.Receipt{
			CallID:    callID,
			Endpoint:  c.FullPath(),
			Cost:      new(big.Int).Set(price),
			Timestamp: time.Now().Unix(),
		}
		if err := receipt.Sign(&rcpt, serverKey); err != nil {
			log.Error("sign receipt failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		item := receipt.QueuedReceipt{Payer: agent, Receipt: rcpt}
		if err := receipt.Enqueue(c.Request.Context(), rdb, facilitator, item); err != nil {
			log.Error("enqueue receipt failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		header := x402.ReceiptHeader{
			CallID:          callID.Hex(),
			Endpoint:        rcpt.Endpoint,
			Cost:            x402.FormatAmount(rcpt.Cost),
			Timestamp:       rcpt.Timestamp,
			ServerSignature: hexutil.Encode(rcpt.ServerSignature),
		}
		if encoded, err := x402.Encode(header); err == nil {
			c.Header(x402.HeaderReceipt, encoded)
		}
		c.JSON(http.StatusOK, gin.H{"echo": c.Query("msg")})
	}
}
