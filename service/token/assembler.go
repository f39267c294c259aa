package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MintIdentity is the ephemeral keypair of a new mint account. It signs
// exactly once, during assembly, and is discarded afterwards.
type MintIdentity struct {
	mu     sync.Mutex
	key    solana.PrivateKey
	public solana.PublicKey
}

func NewMintIdentity() (*MintIdentity, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
	}
	return &MintIdentity{key: key, public: key.PublicKey()}, nil
}

func (m *MintIdentity) PublicKey() solana.PublicKey {
	return m.public
}

// signer returns the private key for the mint's public key, or nil once the
// identity has been discarded.
func (m *MintIdentity) signer(key solana.PublicKey) *solana.PrivateKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil || !key.Equals(m.public) {
		return nil
	}
	k := m.key
	return &k
}

// Discard zeroes the private key. Safe to call more than once.
func (m *MintIdentity) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.key {
		m.key[i] = 0
	}
	m.key = nil
}

// Discarded reports whether the key material has been wiped.
func (m *MintIdentity) Discarded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key == nil
}

// PartialTransaction is signed by the mint key and waits for the fee payer.
type PartialTransaction struct {
	Tx       *solana.Transaction
	Anchor   Anchor
	FeePayer solana.PublicKey
	Mint     solana.PublicKey
}

// TransactionAssembler compiles an instruction set into a transaction.
type TransactionAssembler struct {
	ledger Ledger
	logger *slog.Logger
}

func NewTransactionAssembler(ledger Ledger, logger *slog.Logger) *TransactionAssembler {
	return &TransactionAssembler{ledger: ledger, logger: logger}
}

// Assemble fetches a fresh anchor, compiles the transaction with feePayer as
// fee payer and co-signs it with the mint key.
func (a *TransactionAssembler) Assemble(ctx context.Context, set InstructionSet, feePayer solana.PublicKey, mint *MintIdentity) (*PartialTransaction, error) {
	if len(set) == 0 {
		return nil, newError(KindValidation, StageAssemble, nil, "instruction set is empty")
	}
	if mint == nil || mint.Discarded() {
		return nil, newError(KindValidation, StageAssemble, nil, "mint identity is not available")
	}

	anchor, err := a.ledger.LatestAnchor(ctx)
	if err != nil {
		return nil, newError(KindNetworkUnavailable, StageAssemble, err, "failed to fetch latest blockhash")
	}

	tx, err := solana.NewTransaction(set.Instructions(), anchor.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, newError(KindValidation, StageAssemble, err, "failed to compile transaction")
	}

	if _, err := tx.PartialSign(mint.signer); err != nil {
		return nil, newError(KindValidation, StageAssemble, err, "failed to sign with mint key")
	}

	a.logger.DebugContext(ctx, "assembled transaction",
		"mint", mint.PublicKey().String(),
		"fee_payer", feePayer.String(),
		"instructions", len(set),
		"last_valid_block_height", anchor.LastValidBlockHeight,
	)

	return &PartialTransaction{
		Tx:       tx,
		Anchor:   anchor,
		FeePayer: feePayer,
		Mint:     mint.PublicKey(),
	}, nil
}
