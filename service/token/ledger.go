package token

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Anchor is the short-lived validity window of a transaction.
type Anchor struct {
	Blockhash            solana.Hash `json:"blockhash"`
	LastValidBlockHeight uint64      `json:"last_valid_block_height"`
}

// SignatureStatus is the ledger's view of a broadcast transaction.
type SignatureStatus struct {
	Slot      uint64
	Confirmed bool  // reached the requested commitment
	Err       error // execution error reported by the ledger, if any
}

// Ledger is the RPC boundary used by the pipeline.
type Ledger interface {
	LatestAnchor(ctx context.Context) (Anchor, error)
	MinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
	// SignatureStatus returns nil when the ledger has not seen sig yet.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Wallet is the external signer holding the fee payer key.
type Wallet interface {
	Connect(ctx context.Context) (solana.PublicKey, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	Disconnect(ctx context.Context) error
}

// ContentPublisher stores content off-chain and returns a retrievable URI.
// Implementations make a single attempt.
type ContentPublisher interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	UploadJSON(ctx context.Context, doc any) (string, error)
}
