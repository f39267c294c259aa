package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	ix, err := system.NewTransferInstruction(1_000, payer, solana.NewWallet().PublicKey()).ValidateAndBuild()
	require.NoError(t, err)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.HashFromBytes([]byte("anchor-blockhash-0123456789abcde")),
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestKeypairWallet(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	w, err := FromBase58(key.String())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = w.SignTransaction(ctx, unsignedTx(t, key.PublicKey()))
	assert.ErrorIs(t, err, ErrNotConnected)

	pub, err := w.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), pub)

	signed, err := w.SignTransaction(ctx, unsignedTx(t, key.PublicKey()))
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 1)
	assert.False(t, signed.Signatures[0].IsZero())
	assert.NoError(t, signed.VerifySignatures())

	_, err = w.SignTransaction(ctx, unsignedTx(t, solana.NewWallet().PublicKey()))
	assert.ErrorIs(t, err, ErrFeePayerMismatch)

	require.NoError(t, w.Disconnect(ctx))
	_, err = w.SignTransaction(ctx, unsignedTx(t, key.PublicKey()))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestFromKeygenFile(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	w, err := FromKeygenFile(path)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), w.PublicKey())

	_, err = FromKeygenFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFromBase58_Invalid(t *testing.T) {
	_, err := FromBase58("not-a-key")
	assert.Error(t, err)
}

func TestCallbackWallet(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	signer := func(ctx context.Context, txBase64 string) (string, error) {
		tx, err := solana.TransactionFromBase64(txBase64)
		if err != nil {
			return "", err
		}
		if _, err := tx.PartialSign(func(pk solana.PublicKey) *solana.PrivateKey {
			if pk.Equals(key.PublicKey()) {
				return &key
			}
			return nil
		}); err != nil {
			return "", err
		}
		return tx.ToBase64()
	}

	w := FromCallback(key.PublicKey(), signer)
	pub, err := w.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), pub)

	signed, err := w.SignTransaction(context.Background(), unsignedTx(t, key.PublicKey()))
	require.NoError(t, err)
	assert.NoError(t, signed.VerifySignatures())
	assert.NoError(t, w.Disconnect(context.Background()))
}

func TestCallbackWallet_Declined(t *testing.T) {
	declined := errors.New("user closed the popup")
	w := FromCallback(solana.NewWallet().PublicKey(), func(ctx context.Context, txBase64 string) (string, error) {
		return "", declined
	})

	_, err := w.SignTransaction(context.Background(), unsignedTx(t, solana.NewWallet().PublicKey()))
	assert.ErrorIs(t, err, declined)
}

func TestCallbackWallet_NoCallback(t *testing.T) {
	_, err := FromCallback(solana.NewWallet().PublicKey(), nil).Connect(context.Background())
	assert.Error(t, err)
}
