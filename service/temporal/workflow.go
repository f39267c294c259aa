package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/tokenforge/service/token"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultReconcileInterval = 15 * time.Second
	defaultReconcileTimeout  = 10 * time.Minute
)

var a *Activities // for type-safe activity invocation

// ReconcileReceiptWorkflow resolves a submission whose confirmation wait
// timed out. It never rebroadcasts; it only watches the signature until the
// ledger reports an outcome, the anchor expires, or the deadline passes.
//
// The workflow performs these steps:
// 1. Check the signature (CheckSignature activity), sleeping between checks
// 2. Record the outcome in the journal and publish it (RecordOutcome activity)
func ReconcileReceiptWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileReceiptWorkflow started", "signature", input.Signature)

	interval := input.Interval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	deadline := workflow.Now(ctx).Add(timeout)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &ReconcileResult{Signature: input.Signature}
	record := RecordOutcomeInput{
		Signature:   input.Signature,
		Network:     input.Network,
		FeePayer:    input.FeePayer,
		MintAddress: input.MintAddress,
		SubmittedAt: input.SubmittedAt,
	}

	for {
		var check *CheckSignatureResult
		err := workflow.ExecuteActivity(ctx, a.CheckSignature, CheckSignatureInput{
			Signature:            input.Signature,
			Network:              input.Network,
			LastValidBlockHeight: input.LastValidBlockHeight,
		}).Get(ctx, &check)
		result.Checks++
		if err != nil {
			// Activity retries are exhausted; keep watching until the deadline.
			logger.Warn("signature check failed", "signature", input.Signature, "error", err)
			check = &CheckSignatureResult{Outcome: OutcomePending}
		}

		switch check.Outcome {
		case OutcomeConfirmed:
			record.Status = string(token.ReceiptConfirmed)
			record.Slot = check.Slot
		case OutcomeFailed:
			record.Status = string(token.ReceiptFailed)
			record.Slot = check.Slot
			record.Error = check.Error
		case OutcomeExpired:
			record.Status = string(token.ReceiptFailed)
			record.Error = "blockhash expired before the transaction landed"
		}

		if record.Status == "" && !workflow.Now(ctx).Before(deadline) {
			record.Status = string(token.ReceiptFailed)
			record.Error = fmt.Sprintf("outcome unknown after %s", timeout)
		}

		if record.Status != "" {
			break
		}

		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, err
		}
	}

	if err := workflow.ExecuteActivity(ctx, a.RecordOutcome, record).Get(ctx, nil); err != nil {
		logger.Error("failed to record outcome", "signature", input.Signature, "error", err)
		errMsg := fmt.Sprintf("failed to record outcome: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record outcome: %w", err)
	}

	result.Status = record.Status
	result.Slot = record.Slot
	if record.Error != "" {
		msg := record.Error
		result.Error = &msg
	}

	logger.Info("ReconcileReceiptWorkflow completed",
		"signature", input.Signature,
		"status", result.Status,
		"checks", result.Checks,
	)
	return result, nil
}
