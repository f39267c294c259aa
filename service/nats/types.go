package nats

import (
	"time"

	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/token"
)

// EventType names a point in a creation's lifecycle.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventConfirmed EventType = "confirmed"
	EventFailed    EventType = "failed"
	EventTimeout   EventType = "timeout"
)

// TokenEvent represents a token creation event published to NATS.
// This is published to the subject "tokens.{fee_payer}" in JetStream.
type TokenEvent struct {
	Type EventType `json:"type"`

	// Submission identifiers
	Signature string `json:"signature"`
	Network   string `json:"network"`
	Slot      int64  `json:"slot,omitempty"`

	// Accounts
	FeePayer       string `json:"fee_payer"`
	MintAddress    string `json:"mint_address"`
	HoldingAddress string `json:"holding_address"`

	// Asset details
	Name            string `json:"name,omitempty"`
	Symbol          string `json:"symbol,omitempty"`
	MetadataURI     string `json:"metadata_uri"`
	PaymentLamports int64  `json:"payment_lamports"`
	Error           string `json:"error,omitempty"`

	// Timing information
	SubmittedAt time.Time  `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *TokenEvent) Subject() string {
	return SubjectPrefix + e.FeePayer
}

// FromReceipt converts a submission receipt to a TokenEvent for publishing.
func FromReceipt(eventType EventType, network, name, symbol string, r *token.SubmissionReceipt) *TokenEvent {
	return &TokenEvent{
		Type:            eventType,
		Signature:       r.Signature.String(),
		Network:         network,
		Slot:            int64(r.Slot),
		FeePayer:        r.FeePayer.String(),
		MintAddress:     r.MintAddress.String(),
		HoldingAddress:  r.HoldingAddress.String(),
		Name:            name,
		Symbol:          symbol,
		MetadataURI:     r.MetadataURI,
		PaymentLamports: int64(r.PaymentLamports),
		Error:           r.Err,
		SubmittedAt:     r.SubmittedAt,
		ConfirmedAt:     r.ConfirmedAt,
		PublishedAt:     time.Now().UTC(),
	}
}

// FromDBReceipt converts a journaled receipt to a TokenEvent for publishing.
func FromDBReceipt(eventType EventType, r *db.Receipt) *TokenEvent {
	event := &TokenEvent{
		Type:            eventType,
		Signature:       r.Signature,
		Network:         r.Network,
		FeePayer:        r.FeePayer,
		MintAddress:     r.MintAddress,
		HoldingAddress:  r.HoldingAddress,
		Name:            r.Name,
		Symbol:          r.Symbol,
		MetadataURI:     r.MetadataURI,
		PaymentLamports: r.PaymentLamports,
		SubmittedAt:     r.SubmittedAt,
		ConfirmedAt:     r.ConfirmedAt,
		PublishedAt:     time.Now().UTC(),
	}

	// Convert optional fields
	if r.Slot != nil {
		event.Slot = *r.Slot
	}
	if r.Error != nil {
		event.Error = *r.Error
	}

	return event
}

// EventTypeForStatus maps a receipt status to the event announcing it.
func EventTypeForStatus(status token.ReceiptStatus) EventType {
	switch status {
	case token.ReceiptConfirmed:
		return EventConfirmed
	case token.ReceiptFailed:
		return EventFailed
	default:
		return EventSubmitted
	}
}
