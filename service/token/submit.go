package token

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/gagliardetto/solana-go"
)

// ReceiptStatus only moves pending -> confirmed or pending -> failed.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// SubmissionReceipt exists only after a successful broadcast.
type SubmissionReceipt struct {
	Signature        solana.Signature `json:"signature"`
	Status           ReceiptStatus    `json:"status"`
	FeePayer         solana.PublicKey `json:"fee_payer"`
	MintAddress      solana.PublicKey `json:"mint_address"`
	HoldingAddress   solana.PublicKey `json:"holding_address"`
	MetadataURI      string           `json:"metadata_uri"`
	ImageURI         string           `json:"image_uri"`
	PaymentLamports  uint64           `json:"payment_lamports"`
	PaymentSignature solana.Signature `json:"payment_signature"`
	Anchor           Anchor           `json:"anchor"`
	Slot             uint64           `json:"slot,omitempty"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
	Err              string           `json:"error,omitempty"`
}

// ConfirmPolicy bounds the confirmation wait.
type ConfirmPolicy struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{
		Timeout:         60 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

func (p ConfirmPolicy) withDefaults() ConfirmPolicy {
	d := DefaultConfirmPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// SubmissionController gets the wallet signature, broadcasts once and
// watches for confirmation. It never re-broadcasts.
type SubmissionController struct {
	ledger  Ledger
	policy  ConfirmPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSubmissionController creates a controller. If m is nil, no metrics are
// recorded.
func NewSubmissionController(ledger Ledger, policy ConfirmPolicy, m *metrics.Metrics, logger *slog.Logger) *SubmissionController {
	return &SubmissionController{
		ledger:  ledger,
		policy:  policy.withDefaults(),
		metrics: m,
		logger:  logger,
	}
}

// Submit asks the wallet to sign and then behaves like SubmitSigned. A
// wallet refusal is terminal and nothing is broadcast. The wallet may only
// add its signature; a changed message is rejected before broadcast.
func (c *SubmissionController) Submit(ctx context.Context, partial *PartialTransaction, wallet Wallet) (*SubmissionReceipt, error) {
	// Wallets may sign in place, so the message is captured first.
	want, err := partial.Tx.Message.MarshalBinary()
	if err != nil {
		return nil, newError(KindValidation, StageSign, err, "failed to serialize prepared message")
	}

	signed, err := wallet.SignTransaction(ctx, partial.Tx)
	if err != nil {
		return nil, newError(KindUserRejected, StageSign, err, "wallet did not sign")
	}
	if signed == nil {
		return nil, newError(KindUserRejected, StageSign, nil, "wallet returned no transaction")
	}

	got, err := signed.Message.MarshalBinary()
	if err != nil || !bytes.Equal(want, got) {
		return nil, newError(KindValidation, StageSign, err, "wallet changed the transaction message")
	}
	return c.SubmitSigned(ctx, signed, partial.Anchor)
}

// SubmitSigned broadcasts a fully signed transaction and waits for it.
//
// Cancelling ctx stops watching, not the transaction: once broadcast it
// may still land. Whenever a broadcast happened the receipt is returned,
// also alongside an error.
func (c *SubmissionController) SubmitSigned(ctx context.Context, tx *solana.Transaction, anchor Anchor) (*SubmissionReceipt, error) {
	if err := tx.VerifySignatures(); err != nil {
		return nil, newError(KindUserRejected, StageSign, err, "transaction is not fully signed")
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, newError(KindValidation, StageBroadcast, err, "failed to serialize transaction")
	}

	sig, err := c.ledger.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, classifyBroadcastError(err)
	}

	receipt := &SubmissionReceipt{
		Signature:        sig,
		Status:           ReceiptPending,
		PaymentSignature: sig,
		Anchor:           anchor,
		SubmittedAt:      time.Now().UTC(),
	}
	if len(tx.Message.AccountKeys) > 0 {
		receipt.FeePayer = tx.Message.AccountKeys[0]
	}

	c.logger.InfoContext(ctx, "broadcast transaction",
		"signature", sig.String(),
		"last_valid_block_height", anchor.LastValidBlockHeight,
	)

	return receipt, c.await(ctx, receipt)
}

func classifyBroadcastError(err error) error {
	switch {
	case errors.Is(err, ErrAnchorExpired):
		e := newError(KindNetworkUnavailable, StageBroadcast, err, "blockhash expired before broadcast")
		e.Expired = true
		return e
	case errors.Is(err, ErrTransactionRejected):
		return newError(KindLedgerExecutionFailed, StageBroadcast, err, "ledger rejected transaction")
	default:
		return newError(KindNetworkUnavailable, StageBroadcast, err, "failed to broadcast transaction")
	}
}

// await polls with exponential backoff until the receipt reaches a terminal
// status, the anchor expires, or the policy timeout elapses.
func (c *SubmissionController) await(ctx context.Context, receipt *SubmissionReceipt) error {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	interval := c.policy.InitialInterval
	polls := 0
	outcome := "timeout"
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordConfirmation(outcome, polls, time.Since(start).Seconds())
		}
	}()

	for {
		polls++
		status, err := c.ledger.SignatureStatus(waitCtx, receipt.Signature)
		if err != nil {
			c.logger.WarnContext(ctx, "signature status poll failed",
				"signature", receipt.Signature.String(),
				"attempt", polls,
				"error", err,
			)
		}

		if status != nil {
			if status.Err != nil {
				outcome = "failed"
				receipt.Status = ReceiptFailed
				receipt.Slot = status.Slot
				receipt.Err = status.Err.Error()
				e := newError(KindLedgerExecutionFailed, StageConfirm, status.Err, "transaction failed on-chain")
				e.Signature = receipt.Signature.String()
				return e
			}
			if status.Confirmed {
				outcome = "confirmed"
				now := time.Now().UTC()
				receipt.Status = ReceiptConfirmed
				receipt.Slot = status.Slot
				receipt.ConfirmedAt = &now
				c.logger.InfoContext(ctx, "transaction confirmed",
					"signature", receipt.Signature.String(),
					"slot", status.Slot,
					"attempts", polls,
				)
				return nil
			}
		} else if err == nil && c.anchorExpired(waitCtx, receipt) {
			outcome = "expired"
			receipt.Status = ReceiptFailed
			receipt.Err = "blockhash expired"
			e := newError(KindNetworkUnavailable, StageConfirm, ErrAnchorExpired, "transaction was not included before its blockhash expired")
			e.Signature = receipt.Signature.String()
			e.Expired = true
			return e
		}

		timer := time.NewTimer(interval)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			e := newError(KindTimeout, StageConfirm, waitCtx.Err(), "stopped waiting for confirmation after %d polls", polls)
			e.Signature = receipt.Signature.String()
			return e
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * c.policy.Multiplier)
		if interval > c.policy.MaxInterval {
			interval = c.policy.MaxInterval
		}
	}
}

// anchorExpired reports whether the chain has moved past the receipt's last
// valid block height and the transaction is still unknown.
func (c *SubmissionController) anchorExpired(ctx context.Context, receipt *SubmissionReceipt) bool {
	if receipt.Anchor.LastValidBlockHeight == 0 {
		return false
	}
	height, err := c.ledger.BlockHeight(ctx)
	if err != nil || height <= receipt.Anchor.LastValidBlockHeight {
		return false
	}
	// The transaction may have landed in the last valid block.
	status, err := c.ledger.SignatureStatus(ctx, receipt.Signature)
	return err == nil && status == nil
}
