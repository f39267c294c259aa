package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
)

// SignFunc signs a base64-encoded transaction and returns the signed
// transaction, also base64-encoded.
type SignFunc func(ctx context.Context, txBase64 string) (string, error)

// CallbackWallet delegates signing to an external signer.
type CallbackWallet struct {
	publicKey solana.PublicKey
	sign      SignFunc
}

var _ token.Wallet = (*CallbackWallet)(nil)

// FromCallback creates a wallet from a public key and an arbitrary signing
// function.
func FromCallback(publicKey solana.PublicKey, sign SignFunc) *CallbackWallet {
	return &CallbackWallet{publicKey: publicKey, sign: sign}
}

func (w *CallbackWallet) Connect(ctx context.Context) (solana.PublicKey, error) {
	if w.sign == nil {
		return solana.PublicKey{}, errors.New("no signing callback configured")
	}
	return w.publicKey, nil
}

func (w *CallbackWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	signed, err := w.sign(ctx, encoded)
	if err != nil {
		return nil, err
	}

	out, err := solana.TransactionFromBase64(signed)
	if err != nil {
		return nil, fmt.Errorf("signer returned an invalid transaction: %w", err)
	}
	return out, nil
}

func (w *CallbackWallet) Disconnect(ctx context.Context) error {
	return nil
}
