package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	systemCreateAccountInstruction = uint32(0)
	systemTransferInstruction      = uint32(2)
)

// Token Program instruction types
const (
	tokenSetAuthorityInstruction    = uint8(6)
	tokenMintToInstruction          = uint8(7)
	tokenInitializeMint2Instruction = uint8(20)
)

// SPL SetAuthority authority types
const (
	authorityMintTokens    = uint8(0)
	authorityFreezeAccount = uint8(1)
)

// parseCreation walks the instructions of a confirmed transaction and
// rebuilds the creation summary from them.
func parseCreation(sig solana.Signature, result *rpc.GetTransactionResult) (*CreationSummary, error) {
	summary := &CreationSummary{
		Signature: sig.String(),
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		summary.BlockTime = result.BlockTime.Time()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		summary.Err = &errMsg
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s has no body", sig)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	if len(accountKeys) > 0 {
		summary.FeePayer = accountKeys[0].String()
	}

	account := func(ix solana.CompiledInstruction, pos int) (solana.PublicKey, bool) {
		if pos >= len(ix.Accounts) || int(ix.Accounts[pos]) >= len(accountKeys) {
			return solana.PublicKey{}, false
		}
		return accountKeys[ix.Accounts[pos]], true
	}

	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[ix.ProgramIDIndex]
		data := []byte(ix.Data)

		switch {
		case programID.Equals(solana.SystemProgramID):
			if len(data) < 12 {
				continue
			}
			switch binary.LittleEndian.Uint32(data[0:4]) {
			case systemTransferInstruction:
				if to, ok := account(ix, 1); ok && summary.FeeReceiver == "" {
					summary.FeeReceiver = to.String()
					summary.FeeLamports = binary.LittleEndian.Uint64(data[4:12])
					summary.Steps = append(summary.Steps, token.StepFeeTransfer)
				}
			case systemCreateAccountInstruction:
				if mint, ok := account(ix, 1); ok {
					summary.Mint = mint.String()
					summary.Steps = append(summary.Steps, token.StepCreateMintAccount)
				}
			}

		case programID.Equals(solana.TokenProgramID):
			if len(data) == 0 {
				continue
			}
			switch data[0] {
			case tokenInitializeMint2Instruction:
				if len(data) >= 2 {
					decimals := int(data[1])
					summary.Decimals = &decimals
				}
				summary.Steps = append(summary.Steps, token.StepInitializeMint)
			case tokenMintToInstruction:
				if len(data) >= 9 {
					summary.MintedAmount = binary.LittleEndian.Uint64(data[1:9])
				}
				if dest, ok := account(ix, 1); ok {
					summary.HoldingAccount = dest.String()
				}
				summary.Steps = append(summary.Steps, token.StepMintTo)
			case tokenSetAuthorityInstruction:
				if len(data) < 2 {
					continue
				}
				switch data[1] {
				case authorityMintTokens:
					summary.MintAuthorityRevoked = true
					summary.Steps = append(summary.Steps, token.StepRevokeMintAuthority)
				case authorityFreezeAccount:
					summary.FreezeAuthorityRevoked = true
					summary.Steps = append(summary.Steps, token.StepRevokeFreezeAuthority)
				}
			}

		case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
			summary.Steps = append(summary.Steps, token.StepCreateHoldingAccount)

		case programID.Equals(solana.TokenMetadataProgramID):
			if metadata, ok := account(ix, 0); ok {
				summary.MetadataAccount = metadata.String()
			}
			summary.Steps = append(summary.Steps, token.StepCreateMetadata)
		}
	}

	return summary, nil
}
