package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/metrics"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/token"
	solanago "github.com/gagliardetto/solana-go"
)

// Outcomes reported by CheckSignature.
const (
	OutcomePending   = "pending"
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"
)

// ReconcileInput identifies a broadcast transaction whose outcome is unknown.
type ReconcileInput struct {
	Signature            string        `json:"signature"`
	Network              string        `json:"network"` // "mainnet" or "devnet"
	FeePayer             string        `json:"fee_payer"`
	MintAddress          string        `json:"mint_address"`
	LastValidBlockHeight uint64        `json:"last_valid_block_height"`
	Interval             time.Duration `json:"interval"`
	Timeout              time.Duration `json:"timeout"`
	SubmittedAt          time.Time     `json:"submitted_at"`
}

// ReconcileResult contains the resolved outcome.
type ReconcileResult struct {
	Signature string  `json:"signature"`
	Status    string  `json:"status"`
	Slot      uint64  `json:"slot,omitempty"`
	Checks    int     `json:"checks"`
	Error     *string `json:"error,omitempty"`
}

// CheckSignatureInput contains parameters for the CheckSignature activity.
type CheckSignatureInput struct {
	Signature            string `json:"signature"`
	Network              string `json:"network"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// CheckSignatureResult is the ledger's view of a signature.
type CheckSignatureResult struct {
	Outcome string `json:"outcome"`
	Slot    uint64 `json:"slot,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RecordOutcomeInput contains parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	Signature   string    `json:"signature"`
	Network     string    `json:"network"`
	FeePayer    string    `json:"fee_payer"`
	MintAddress string    `json:"mint_address"`
	Status      string    `json:"status"` // receipt status: confirmed or failed
	Slot        uint64    `json:"slot,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LedgerInterface defines the ledger reads needed by activities.
// This allows for easy mocking in tests.
type LedgerInterface interface {
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*token.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateReceiptStatus(ctx context.Context, params db.UpdateReceiptStatusParams) (*db.Receipt, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishTokenEvent(ctx context.Context, event *natspkg.TokenEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	ledgers   map[string]LedgerInterface // keyed by network
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// Store and publisher are optional. If metrics is nil, no metrics will be recorded.
func NewActivities(
	ledgers map[string]LedgerInterface,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		ledgers:   ledgers,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(activity string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

// CheckSignature asks the ledger about a signature. An unseen signature is
// expired once the block height has passed its anchor's last valid height.
func (a *Activities) CheckSignature(ctx context.Context, input CheckSignatureInput) (*CheckSignatureResult, error) {
	start := time.Now()
	defer a.recordDuration("CheckSignature", start)

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}

	ledger, ok := a.ledgers[input.Network]
	if !ok {
		return nil, fmt.Errorf("invalid network: %s (must be mainnet or devnet)", input.Network)
	}

	status, err := ledger.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	if status == nil {
		height, err := ledger.BlockHeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get block height: %w", err)
		}
		if height <= input.LastValidBlockHeight {
			return &CheckSignatureResult{Outcome: OutcomePending}, nil
		}

		// The node may have landed it between the two calls.
		status, err = ledger.SignatureStatus(ctx, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to get signature status: %w", err)
		}
		if status == nil {
			a.logger.InfoContext(ctx, "signature expired unseen",
				"signature", input.Signature,
				"block_height", height,
				"last_valid_block_height", input.LastValidBlockHeight,
			)
			return &CheckSignatureResult{Outcome: OutcomeExpired}, nil
		}
	}

	switch {
	case status.Err != nil:
		return &CheckSignatureResult{Outcome: OutcomeFailed, Slot: status.Slot, Error: status.Err.Error()}, nil
	case status.Confirmed:
		return &CheckSignatureResult{Outcome: OutcomeConfirmed, Slot: status.Slot}, nil
	default:
		return &CheckSignatureResult{Outcome: OutcomePending, Slot: status.Slot}, nil
	}
}

// RecordOutcome journals the resolved status and announces it.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) error {
	start := time.Now()
	defer a.recordDuration("RecordOutcome", start)

	event := &natspkg.TokenEvent{
		Type:        natspkg.EventTypeForStatus(token.ReceiptStatus(input.Status)),
		Signature:   input.Signature,
		Network:     input.Network,
		Slot:        int64(input.Slot),
		FeePayer:    input.FeePayer,
		MintAddress: input.MintAddress,
		Error:       input.Error,
		SubmittedAt: input.SubmittedAt,
		PublishedAt: time.Now().UTC(),
	}

	if a.store != nil {
		params := db.UpdateReceiptStatusParams{
			Signature: input.Signature,
			Status:    input.Status,
		}
		if input.Slot > 0 {
			slot := int64(input.Slot)
			params.Slot = &slot
		}
		if input.Error != "" {
			msg := input.Error
			params.Error = &msg
		}
		if input.Status == string(token.ReceiptConfirmed) {
			now := time.Now().UTC()
			params.ConfirmedAt = &now
		}

		receipt, err := a.store.UpdateReceiptStatus(ctx, params)
		switch {
		case errors.Is(err, db.ErrReceiptNotFound):
			a.logger.WarnContext(ctx, "no journaled receipt for signature", "signature", input.Signature)
		case errors.Is(err, db.ErrReceiptFinal):
			// Already announced when it was resolved.
			a.logger.InfoContext(ctx, "receipt already resolved",
				"signature", input.Signature,
				"status", receipt.Status,
				"reconciled_status", input.Status,
			)
			return nil
		case err != nil:
			return fmt.Errorf("failed to update receipt: %w", err)
		default:
			event = natspkg.FromDBReceipt(event.Type, receipt)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishTokenEvent(ctx, event); err != nil {
			// The journal is the source of truth; a lost event is not retried.
			a.logger.ErrorContext(ctx, "failed to publish token event",
				"signature", input.Signature,
				"error", err,
			)
		}
	}

	if a.metrics != nil && !input.SubmittedAt.IsZero() {
		a.metrics.RecordReconcileWorkflow(input.Status, time.Since(input.SubmittedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "recorded reconciled outcome",
		"signature", input.Signature,
		"status", input.Status,
		"slot", input.Slot,
	)
	return nil
}
