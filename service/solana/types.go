package solana

import (
	"time"

	"github.com/brojonat/tokenforge/service/token"
)

// CreationSummary is what a creation transaction did on-chain, rebuilt from
// the ledger rather than from local state.
type CreationSummary struct {
	Signature              string       `json:"signature"`
	Slot                   uint64       `json:"slot"`
	BlockTime              time.Time    `json:"block_time"`
	FeePayer               string       `json:"fee_payer"`
	FeeReceiver            string       `json:"fee_receiver,omitempty"`
	FeeLamports            uint64       `json:"fee_lamports"`
	Mint                   string       `json:"mint,omitempty"`
	HoldingAccount         string       `json:"holding_account,omitempty"`
	MetadataAccount        string       `json:"metadata_account,omitempty"`
	Decimals               *int         `json:"decimals,omitempty"`
	MintedAmount           uint64       `json:"minted_amount"`
	MintAuthorityRevoked   bool         `json:"mint_authority_revoked"`
	FreezeAuthorityRevoked bool         `json:"freeze_authority_revoked"`
	Steps                  []token.Step `json:"steps"`
	Err                    *string      `json:"error,omitempty"` // nil if transaction succeeded
}
