package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/token"
	solanago "github.com/gagliardetto/solana-go"
)

// receiptResponse is the JSON response format for a receipt.
type receiptResponse struct {
	Signature            string     `json:"signature"`
	Source               string     `json:"source"` // "journal" or "ledger"
	Status               string     `json:"status"`
	Network              string     `json:"network,omitempty"`
	FeePayer             string     `json:"fee_payer,omitempty"`
	MintAddress          string     `json:"mint_address,omitempty"`
	HoldingAddress       string     `json:"holding_address,omitempty"`
	Name                 string     `json:"name,omitempty"`
	Symbol               string     `json:"symbol,omitempty"`
	MetadataURI          string     `json:"metadata_uri,omitempty"`
	ImageURI             string     `json:"image_uri,omitempty"`
	PaymentLamports      int64      `json:"payment_lamports,omitempty"`
	LastValidBlockHeight int64      `json:"last_valid_block_height,omitempty"`
	Slot                 *int64     `json:"slot,omitempty"`
	Error                *string    `json:"error,omitempty"`
	SubmittedAt          *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty"`
}

func receiptToResponse(r *db.Receipt) receiptResponse {
	submittedAt := r.SubmittedAt
	return receiptResponse{
		Signature:            r.Signature,
		Source:               "journal",
		Status:               r.Status,
		Network:              r.Network,
		FeePayer:             r.FeePayer,
		MintAddress:          r.MintAddress,
		HoldingAddress:       r.HoldingAddress,
		Name:                 r.Name,
		Symbol:               r.Symbol,
		MetadataURI:          r.MetadataURI,
		ImageURI:             r.ImageURI,
		PaymentLamports:      r.PaymentLamports,
		LastValidBlockHeight: r.LastValidBlockHeight,
		Slot:                 r.Slot,
		Error:                r.Error,
		SubmittedAt:          &submittedAt,
		ConfirmedAt:          r.ConfirmedAt,
	}
}

func statusToResponse(sig string, s *token.SignatureStatus) receiptResponse {
	resp := receiptResponse{Signature: sig, Source: "ledger", Status: string(token.ReceiptPending)}
	slot := int64(s.Slot)
	resp.Slot = &slot
	switch {
	case s.Err != nil:
		msg := s.Err.Error()
		resp.Status = string(token.ReceiptFailed)
		resp.Error = &msg
	case s.Confirmed:
		resp.Status = string(token.ReceiptConfirmed)
	}
	return resp
}

// handleGetReceipt returns a handler that looks up a submission by signature.
// The journal is consulted first; signatures it does not know are looked up
// on the ledger.
// GET /api/v1/receipts/{signature}
func handleGetReceipt(store ReceiptStore, ledger StatusLedger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("signature")
		sig, err := solanago.SignatureFromBase58(raw)
		if err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}

		if store != nil {
			receipt, err := store.GetReceipt(r.Context(), raw)
			switch {
			case err == nil:
				writeJSON(w, receiptToResponse(receipt), http.StatusOK)
				return
			case !errors.Is(err, db.ErrReceiptNotFound):
				logger.Error("failed to get receipt", "signature", raw, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		if ledger == nil {
			writeError(w, "receipt not found", http.StatusNotFound)
			return
		}

		status, err := ledger.SignatureStatus(r.Context(), sig)
		if err != nil {
			logger.Warn("ledger status lookup failed", "signature", raw, "error", err)
			writeError(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		if status == nil {
			writeError(w, "receipt not found", http.StatusNotFound)
			return
		}

		writeJSON(w, statusToResponse(raw, status), http.StatusOK)
	})
}

// handleListReceipts returns a handler that lists journaled receipts for a fee payer.
// GET /api/v1/receipts?fee_payer=ADDRESS&limit=N&offset=N
func handleListReceipts(store ReceiptStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		feePayer := query.Get("fee_payer")

		if feePayer == "" {
			writeError(w, "fee_payer query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(feePayer); err != nil {
			logger.Debug("invalid address", "address", feePayer, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Parse limit (default 50, max 500)
		limit := int32(50)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 500 {
				writeError(w, "limit cannot exceed 500", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		receipts, err := store.ListReceiptsByFeePayer(r.Context(), feePayer, limit, offset)
		if err != nil {
			logger.Error("failed to list receipts", "fee_payer", feePayer, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]receiptResponse, len(receipts))
		for i, receipt := range receipts {
			resp[i] = receiptToResponse(receipt)
		}

		writeJSON(w, map[string]interface{}{
			"receipts": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}
