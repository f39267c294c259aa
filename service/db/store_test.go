package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiptParams(signature, feePayer string, submittedAt time.Time) CreateReceiptParams {
	return CreateReceiptParams{
		Signature:            signature,
		Network:              "devnet",
		Status:               string(token.ReceiptPending),
		FeePayer:             feePayer,
		MintAddress:          "mint-" + signature,
		HoldingAddress:       "holding-" + signature,
		MetadataURI:          "https://gateway.example/ipfs/meta",
		ImageURI:             "https://gateway.example/ipfs/image",
		Name:                 "Forge Token",
		Symbol:               "FRG",
		PaymentLamports:      260_000_000,
		LastValidBlockHeight: 1_000,
		SubmittedAt:          submittedAt,
	}
}

func TestCreateReceipt(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond) // Truncate for comparison

	t.Run("create pending receipt", func(t *testing.T) {
		params := receiptParams("sig-pending", "payer1", now)

		r, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)

		assert.Equal(t, "sig-pending", r.Signature)
		assert.Equal(t, "pending", r.Status)
		assert.Equal(t, int64(260_000_000), r.PaymentLamports)
		assert.Equal(t, int64(1_000), r.LastValidBlockHeight)
		assert.Nil(t, r.Slot)
		assert.Nil(t, r.Error)
		assert.Nil(t, r.ConfirmedAt)
		assert.WithinDuration(t, now, r.SubmittedAt, time.Microsecond)
		assert.WithinDuration(t, time.Now(), r.UpdatedAt, 5*time.Second)
	})

	t.Run("second write takes the newer status", func(t *testing.T) {
		params := receiptParams("sig-pending", "payer1", now)
		params.Status = string(token.ReceiptConfirmed)
		slot := int64(99)
		params.Slot = &slot
		params.ConfirmedAt = &now

		r, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "confirmed", r.Status)
		require.NotNil(t, r.Slot)
		assert.Equal(t, int64(99), *r.Slot)
		require.NotNil(t, r.ConfirmedAt)
	})
}

func TestUpdateReceiptStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateReceipt(ctx, receiptParams("sig-update", "payer1", time.Now()))
	require.NoError(t, err)

	msg := "custom program error: 0x1"
	r, err := store.UpdateReceiptStatus(ctx, UpdateReceiptStatusParams{
		Signature: "sig-update",
		Status:    string(token.ReceiptFailed),
		Error:     &msg,
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, msg, *r.Error)

	_, err = store.UpdateReceiptStatus(ctx, UpdateReceiptStatusParams{Signature: "missing", Status: "failed"})
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestResolvedReceiptIsFinal(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	store.MustExec(t, `
		INSERT INTO receipts (
			signature, network, status, fee_payer, mint_address, holding_address,
			metadata_uri, image_uri, payment_lamports, last_valid_block_height,
			slot, submitted_at, confirmed_at
		) VALUES ($1, 'devnet', 'confirmed', 'payer1', 'mint', 'holding', '', '', 0, 1000, 42, NOW(), NOW())`,
		"sig-final",
	)

	t.Run("update does not overwrite", func(t *testing.T) {
		msg := "blockhash expired"
		r, err := store.UpdateReceiptStatus(ctx, UpdateReceiptStatusParams{
			Signature: "sig-final",
			Status:    string(token.ReceiptFailed),
			Error:     &msg,
		})
		assert.ErrorIs(t, err, ErrReceiptFinal)
		require.NotNil(t, r)
		assert.Equal(t, "confirmed", r.Status)
		assert.Nil(t, r.Error)
	})

	t.Run("rewrite keeps the resolved row", func(t *testing.T) {
		r, err := store.CreateReceipt(ctx, receiptParams("sig-final", "payer1", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "confirmed", r.Status)
		require.NotNil(t, r.Slot)
		assert.Equal(t, int64(42), *r.Slot)
	})

	r, err := store.GetReceipt(ctx, "sig-final")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", r.Status)
	assert.NotNil(t, r.ConfirmedAt)
}

func TestGetReceipt(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateReceipt(ctx, receiptParams("sig-get", "payer1", time.Now()))
	require.NoError(t, err)

	r, err := store.GetReceipt(ctx, "sig-get")
	require.NoError(t, err)
	assert.Equal(t, "FRG", r.Symbol)

	_, err = store.GetReceipt(ctx, "nope")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestListReceipts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, sig := range []string{"sig-a", "sig-b", "sig-c"} {
		_, err := store.CreateReceipt(ctx, receiptParams(sig, "payer1", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := store.CreateReceipt(ctx, receiptParams("sig-other", "payer2", base))
	require.NoError(t, err)
	_, err = store.UpdateReceiptStatus(ctx, UpdateReceiptStatusParams{Signature: "sig-b", Status: "confirmed"})
	require.NoError(t, err)

	t.Run("by fee payer, most recent first", func(t *testing.T) {
		receipts, err := store.ListReceiptsByFeePayer(ctx, "payer1", 10, 0)
		require.NoError(t, err)
		require.Len(t, receipts, 3)
		assert.Equal(t, "sig-c", receipts[0].Signature)
		assert.Equal(t, "sig-a", receipts[2].Signature)

		page, err := store.ListReceiptsByFeePayer(ctx, "payer1", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "sig-b", page[0].Signature)
	})

	t.Run("pending only, oldest first", func(t *testing.T) {
		pending, err := store.ListPendingReceipts(ctx, time.Now())
		require.NoError(t, err)
		sigs := make([]string, len(pending))
		for i, r := range pending {
			sigs[i] = r.Signature
		}
		assert.ElementsMatch(t, []string{"sig-a", "sig-c", "sig-other"}, sigs)

		none, err := store.ListPendingReceipts(ctx, base.Add(-time.Minute))
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestReceiptParamsFromSubmission(t *testing.T) {
	confirmedAt := time.Now()
	r := &token.SubmissionReceipt{
		Signature:       solana.SignatureFromBytes(make([]byte, 64)),
		Status:          token.ReceiptConfirmed,
		FeePayer:        solana.SystemProgramID,
		MintAddress:     solana.TokenProgramID,
		HoldingAddress:  solana.SPLAssociatedTokenAccountProgramID,
		MetadataURI:     "https://gateway.example/ipfs/meta",
		PaymentLamports: 100_000_000,
		Anchor:          token.Anchor{LastValidBlockHeight: 77},
		Slot:            12,
		SubmittedAt:     confirmedAt.Add(-time.Second),
		ConfirmedAt:     &confirmedAt,
	}

	params := ReceiptParamsFromSubmission("mainnet", "Forge Token", "FRG", r)
	assert.Equal(t, "confirmed", params.Status)
	assert.Equal(t, "mainnet", params.Network)
	assert.Equal(t, solana.TokenProgramID.String(), params.MintAddress)
	assert.Equal(t, int64(77), params.LastValidBlockHeight)
	require.NotNil(t, params.Slot)
	assert.Equal(t, int64(12), *params.Slot)
	assert.Nil(t, params.Error)
	assert.Equal(t, &confirmedAt, params.ConfirmedAt)
}
