package token

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Result is the record handed to the presentation layer after a confirmed
// creation.
type Result struct {
	MintAddress  string      `json:"mintAddress"`
	TokenAddress string      `json:"tokenAddress"`
	MetadataURL  string      `json:"metadataUrl"`
	ImageURL     string      `json:"imageUrl"`
	PaymentInfo  PaymentInfo `json:"paymentInfo"`
	Name         string      `json:"name,omitempty"`
	Symbol       string      `json:"symbol,omitempty"`
	ExplorerURL  string      `json:"explorerUrl,omitempty"`
}

type PaymentInfo struct {
	Amount    decimal.Decimal `json:"amount"`
	Lamports  uint64          `json:"lamports"`
	Signature string          `json:"signature"`
}

// ResultReporter maps a receipt to a Result or a typed error.
type ResultReporter struct {
	network string
}

// NewResultReporter creates a reporter. network selects the explorer
// cluster ("mainnet" links have no cluster parameter).
func NewResultReporter(network string) *ResultReporter {
	return &ResultReporter{network: network}
}

// ToResult returns the Result for a confirmed receipt. Any other state is
// returned as an *Error; cause is the error the submission returned, if any.
func (r *ResultReporter) ToResult(receipt *SubmissionReceipt, cfg *AssetConfig, cause error) (*Result, error) {
	if cause != nil {
		var e *Error
		if errors.As(cause, &e) {
			return nil, e
		}
		return nil, newError(KindNetworkUnavailable, StageConfirm, cause, "creation did not complete")
	}
	if receipt == nil {
		return nil, newError(KindNetworkUnavailable, StageBroadcast, nil, "no transaction was broadcast")
	}

	switch receipt.Status {
	case ReceiptConfirmed:
	case ReceiptFailed:
		e := newError(KindLedgerExecutionFailed, StageConfirm, errors.New(receipt.Err), "transaction failed")
		e.Signature = receipt.Signature.String()
		return nil, e
	default:
		e := newError(KindTimeout, StageConfirm, nil, "transaction is not confirmed yet")
		e.Signature = receipt.Signature.String()
		return nil, e
	}

	res := &Result{
		MintAddress:  receipt.MintAddress.String(),
		TokenAddress: receipt.HoldingAddress.String(),
		MetadataURL:  receipt.MetadataURI,
		ImageURL:     receipt.ImageURI,
		PaymentInfo: PaymentInfo{
			Amount:    LamportsToSOL(receipt.PaymentLamports),
			Lamports:  receipt.PaymentLamports,
			Signature: receipt.PaymentSignature.String(),
		},
		ExplorerURL: r.ExplorerURL(receipt.MintAddress),
	}
	if cfg != nil {
		res.Name = cfg.Name
		res.Symbol = cfg.Symbol
	}
	return res, nil
}

// ExplorerURL links to the account on the Solana explorer.
func (r *ResultReporter) ExplorerURL(account solana.PublicKey) string {
	url := fmt.Sprintf("https://explorer.solana.com/address/%s", account)
	if r.network != "" && r.network != "mainnet" && r.network != "mainnet-beta" {
		url += "?cluster=" + r.network
	}
	return url
}

func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromInt(int64(lamports)).Shift(-9)
}
