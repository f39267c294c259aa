package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrNotConnected     = errors.New("wallet not connected")
	ErrFeePayerMismatch = errors.New("transaction fee payer is not this wallet")
)

// KeypairWallet signs with a locally held private key.
type KeypairWallet struct {
	key solana.PrivateKey

	mu        sync.Mutex
	connected bool
}

var _ token.Wallet = (*KeypairWallet)(nil)

// FromKeygenFile loads a key written by solana-keygen.
func FromKeygenFile(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return &KeypairWallet{key: key}, nil
}

// FromBase58 parses a base58-encoded 64-byte private key.
func FromBase58(secret string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeypairWallet{key: key}, nil
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) Connect(ctx context.Context) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return w.key.PublicKey(), nil
}

// SignTransaction adds the fee payer signature, keeping signatures that are
// already present.
func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	w.mu.Lock()
	connected := w.connected
	w.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pub := w.key.PublicKey()
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(pub) {
		return nil, ErrFeePayerMismatch
	}

	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

func (w *KeypairWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}
