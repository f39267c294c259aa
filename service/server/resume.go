package server

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/tokenforge/service/db"
)

// PendingReceiptLister lists journaled submissions still awaiting an outcome.
type PendingReceiptLister interface {
	ListPendingReceipts(ctx context.Context, submittedBefore time.Time) ([]*db.Receipt, error)
}

// ResumeReconciliation starts reconciliation for every pending receipt of
// this server's network submitted more than olderThan ago. Receipts whose
// workflow is still running are left to it. It returns how many were started.
func (s *Server) ResumeReconciliation(ctx context.Context, lister PendingReceiptLister, olderThan time.Duration) (int, error) {
	if s.reconciler == nil {
		return 0, nil
	}

	pending, err := lister.ListPendingReceipts(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to list pending receipts: %w", err)
	}

	template := s.submitDeps().reconcile
	started := 0
	for _, r := range pending {
		if r.Network != s.cfg.Network {
			s.logger.DebugContext(ctx, "skipping pending receipt from another network",
				"signature", r.Signature,
				"network", r.Network,
			)
			continue
		}

		input := template
		input.Signature = r.Signature
		input.FeePayer = r.FeePayer
		input.MintAddress = r.MintAddress
		input.LastValidBlockHeight = uint64(r.LastValidBlockHeight)
		input.SubmittedAt = r.SubmittedAt

		if err := s.reconciler.StartReconcile(ctx, input); err != nil {
			s.logger.ErrorContext(ctx, "failed to resume reconciliation",
				"signature", r.Signature,
				"error", err,
			)
			continue
		}
		started++
	}

	s.logger.InfoContext(ctx, "resumed pending reconciliations",
		"pending", len(pending),
		"started", started,
	)
	return started, nil
}
