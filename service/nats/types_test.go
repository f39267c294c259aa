package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromReceipt(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey()
	r := &token.SubmissionReceipt{
		Signature:       solana.SignatureFromBytes(make([]byte, 64)),
		Status:          token.ReceiptFailed,
		FeePayer:        feePayer,
		MintAddress:     solana.NewWallet().PublicKey(),
		PaymentLamports: 180_000_000,
		Slot:            55,
		Err:             "custom program error: 0x1",
		SubmittedAt:     time.Now(),
	}

	event := FromReceipt(EventTypeForStatus(r.Status), "devnet", "Forge Token", "FRG", r)
	assert.Equal(t, EventFailed, event.Type)
	assert.Equal(t, "tokens."+feePayer.String(), event.Subject())
	assert.Equal(t, int64(55), event.Slot)
	assert.Equal(t, "custom program error: 0x1", event.Error)
	assert.False(t, event.PublishedAt.IsZero())

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"failed"`)
	assert.NotContains(t, string(raw), `"confirmed_at"`)
}

func TestFromDBReceipt(t *testing.T) {
	slot := int64(9)
	r := &db.Receipt{
		Signature:       "sig",
		Network:         "mainnet",
		Status:          "confirmed",
		FeePayer:        "payer",
		PaymentLamports: 100_000_000,
		Slot:            &slot,
	}

	event := FromDBReceipt(EventConfirmed, r)
	assert.Equal(t, "tokens.payer", event.Subject())
	assert.Equal(t, int64(9), event.Slot)
	assert.Empty(t, event.Error)
}

func TestEventTypeForStatus(t *testing.T) {
	assert.Equal(t, EventConfirmed, EventTypeForStatus(token.ReceiptConfirmed))
	assert.Equal(t, EventFailed, EventTypeForStatus(token.ReceiptFailed))
	assert.Equal(t, EventSubmitted, EventTypeForStatus(token.ReceiptPending))
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishTokenEvent(ctx, &TokenEvent{FeePayer: "a"}))
	require.NoError(t, m.PublishTokenEvent(ctx, &TokenEvent{FeePayer: "b"}))
	assert.Len(t, m.GetPublishedEvents(), 2)
	assert.Len(t, m.GetPublishedEventsForFeePayer("a"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishTokenEvent(ctx, &TokenEvent{FeePayer: "a"}))
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
