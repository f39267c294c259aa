package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/tokenforge/service/db"
	"github.com/brojonat/tokenforge/service/metrics"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/temporal"
	"github.com/brojonat/tokenforge/service/token"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - signed transactions are far smaller
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	multipartOverhead  = 1 << 20 // config JSON and form framing on top of the image
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// quoteResponse is the cost breakdown plus its lamport total.
type quoteResponse struct {
	token.CostBreakdown
	TotalLamports uint64 `json:"total_lamports"`
}

func toQuoteResponse(c token.CostBreakdown) quoteResponse {
	return quoteResponse{CostBreakdown: c, TotalLamports: c.TotalLamports()}
}

// handleQuote returns a handler that prices a set of options.
// POST /api/v1/quote
func handleQuote(creator TokenCreator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var flags token.CostFlags
		if err := json.NewDecoder(r.Body).Decode(&flags); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug("failed to decode quote request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		writeJSON(w, toQuoteResponse(creator.Quote(flags)), http.StatusOK)
	})
}

// prepareResponse describes a creation waiting for the fee payer's signature.
type prepareResponse struct {
	ID                   string        `json:"id"`
	Transaction          string        `json:"transaction"` // base64, signed by the mint key only
	FeePayer             string        `json:"fee_payer"`
	MintAddress          string        `json:"mint_address"`
	HoldingAddress       string        `json:"holding_address"`
	ImageURI             string        `json:"image_uri"`
	MetadataURI          string        `json:"metadata_uri"`
	Cost                 quoteResponse `json:"cost"`
	Steps                []token.Step  `json:"steps"`
	LastValidBlockHeight uint64        `json:"last_valid_block_height"`
	ExpiresAt            time.Time     `json:"expires_at"`
}

func toPrepareResponse(id string, p *token.Prepared, expiresAt time.Time) (*prepareResponse, error) {
	encoded, err := p.Transaction.Tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return &prepareResponse{
		ID:                   id,
		Transaction:          encoded,
		FeePayer:             p.FeePayer.String(),
		MintAddress:          p.Mint.String(),
		HoldingAddress:       p.HoldingAccount.String(),
		ImageURI:             p.ImageURI,
		MetadataURI:          p.MetadataURI,
		Cost:                 toQuoteResponse(p.Cost),
		Steps:                p.Steps,
		LastValidBlockHeight: p.Transaction.Anchor.LastValidBlockHeight,
		ExpiresAt:            expiresAt,
	}, nil
}

// handlePrepare returns a handler that publishes the token content and
// assembles a transaction for the fee payer to sign.
// POST /api/v1/tokens/prepare (multipart: config, image, fee_payer)
func handlePrepare(creator TokenCreator, cache *preparedCache, maxImageBytes int, logger *slog.Logger) http.Handler {
	if maxImageBytes <= 0 {
		maxImageBytes = token.DefaultMaxImageBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(maxImageBytes + multipartOverhead)
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		if err := r.ParseMultipartForm(limit); err != nil {
			logger.Debug("failed to parse prepare form", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, fmt.Sprintf("request body too large: image must be at most %d bytes", maxImageBytes), http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "invalid request body: must be multipart/form-data", http.StatusBadRequest)
			return
		}

		feePayerStr := r.FormValue("fee_payer")
		if err := validateAddress(feePayerStr); err != nil {
			writeError(w, "fee_payer: "+err.Error(), http.StatusBadRequest)
			return
		}
		feePayer, err := solanago.PublicKeyFromBase58(feePayerStr)
		if err != nil {
			writeError(w, "fee_payer: invalid public key", http.StatusBadRequest)
			return
		}

		var cfg token.AssetConfig
		if err := json.Unmarshal([]byte(r.FormValue("config")), &cfg); err != nil {
			logger.Debug("failed to decode asset config", "error", err)
			writeError(w, "config: must be a valid JSON asset configuration", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			// Validation reports the missing image.
		case err != nil:
			writeError(w, "image: "+err.Error(), http.StatusBadRequest)
			return
		default:
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				writeError(w, "image: failed to read upload", http.StatusBadRequest)
				return
			}
			cfg.Image = token.Image{
				Data:        data,
				ContentType: header.Header.Get("Content-Type"),
				Filename:    header.Filename,
			}
		}

		prepared, err := creator.Prepare(r.Context(), &cfg, feePayer)
		if err != nil {
			logger.WarnContext(r.Context(), "prepare failed",
				"fee_payer", feePayerStr,
				"symbol", cfg.Symbol,
				"error", err,
			)
			writeTokenError(w, err)
			return
		}

		id, expiresAt := cache.Put(prepared)
		resp, err := toPrepareResponse(id, prepared, expiresAt)
		if err != nil {
			cache.Take(id)
			logger.ErrorContext(r.Context(), "failed to encode prepared transaction", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "creation prepared",
			"id", id,
			"fee_payer", feePayerStr,
			"mint", resp.MintAddress,
			"total_lamports", resp.Cost.TotalLamports,
		)
		writeJSON(w, resp, http.StatusCreated)
	})
}

// submitDeps groups what the submit handler touches after a broadcast.
type submitDeps struct {
	creator    TokenCreator
	prepared   *preparedCache
	store      ReceiptStore
	publisher  natspkg.Publisher
	reconciler temporal.Reconciler
	network    string
	reconcile  temporal.ReconcileInput // interval and timeout template
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type submitRequest struct {
	ID          string `json:"id"`
	Transaction string `json:"transaction"` // base64, signed by the fee payer
}

type submitResponse struct {
	Signature string        `json:"signature"`
	Result    *token.Result `json:"result"`
}

// expiredResponse carries a rebuilt creation when the previous anchor expired
// before the transaction landed.
type expiredResponse struct {
	errorResponse
	Prepared *prepareResponse `json:"prepared,omitempty"`
}

// handleSubmit returns a handler that broadcasts a fee-payer-signed
// transaction and waits for confirmation.
// POST /api/v1/tokens/submit
func handleSubmit(d submitDeps) http.Handler {
	logger := d.logger
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode submit request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			writeError(w, "id is required", http.StatusBadRequest)
			return
		}
		if req.Transaction == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}

		// Taking the entry makes a concurrent second submit of the same id
		// miss instead of broadcasting twice.
		prepared, ok := d.prepared.Take(req.ID)
		if !ok {
			writeError(w, "prepared creation not found or expired", http.StatusNotFound)
			return
		}

		signed, err := solanago.TransactionFromBase64(req.Transaction)
		if err != nil {
			d.prepared.Replace(req.ID, prepared)
			writeError(w, "transaction: invalid base64 transaction", http.StatusBadRequest)
			return
		}
		if err := sameMessage(prepared.Transaction.Tx, signed); err != nil {
			d.prepared.Replace(req.ID, prepared)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		ctx := r.Context()
		receipt, err := d.creator.CompleteSigned(ctx, prepared, signed)

		if receipt == nil && !token.IsExpired(err) {
			// Nothing was broadcast; the fee payer may try again.
			d.prepared.Replace(req.ID, prepared)
			d.recordCreation(err, start)
			writeTokenError(w, err)
			return
		}

		if receipt != nil {
			d.journal(ctx, prepared, receipt)
			d.announce(ctx, prepared, receipt, err)
			if token.KindOf(err) == token.KindTimeout {
				d.startReconcile(ctx, receipt)
			}
		}

		if token.IsExpired(err) {
			d.recordCreation(err, start)
			d.rebuild(w, r, req.ID, prepared, err)
			return
		}

		result, err := d.creator.Reporter().ToResult(receipt, prepared.Config, err)
		d.recordCreation(err, start)
		if err != nil {
			writeTokenError(w, err)
			return
		}

		logger.InfoContext(ctx, "token created",
			"signature", receipt.Signature.String(),
			"mint", result.MintAddress,
			"symbol", result.Symbol,
		)
		writeJSON(w, submitResponse{Signature: receipt.Signature.String(), Result: result}, http.StatusOK)
	})
}

// sameMessage reports an error unless signed carries exactly the prepared
// message; the fee payer may only add its signature.
func sameMessage(prepared, signed *solanago.Transaction) error {
	want, err := prepared.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize prepared message: %w", err)
	}
	got, err := signed.Message.MarshalBinary()
	if err != nil {
		return errorf("transaction: failed to serialize message")
	}
	if !bytes.Equal(want, got) {
		return errorf("transaction: signed message does not match the prepared transaction")
	}
	return nil
}

func (d submitDeps) rebuild(w http.ResponseWriter, r *http.Request, id string, prepared *token.Prepared, cause error) {
	next, err := d.creator.Rebuild(r.Context(), prepared)
	if err != nil {
		d.logger.WarnContext(r.Context(), "rebuild after expiry failed", "id", id, "error", err)
		writeTokenError(w, cause)
		return
	}

	expiresAt := d.prepared.Replace(id, next)
	resp, err := toPrepareResponse(id, next, expiresAt)
	if err != nil {
		d.prepared.Take(id)
		writeTokenError(w, cause)
		return
	}

	d.logger.InfoContext(r.Context(), "rebuilt expired creation",
		"id", id,
		"previous_mint", prepared.Mint.String(),
		"mint", next.Mint.String(),
	)
	writeJSON(w, expiredResponse{errorResponse: toErrorResponse(cause), Prepared: resp}, http.StatusConflict)
}

func (d submitDeps) journal(ctx context.Context, p *token.Prepared, receipt *token.SubmissionReceipt) {
	if d.store == nil {
		return
	}
	params := db.ReceiptParamsFromSubmission(d.network, p.Config.Name, p.Config.Symbol, receipt)
	if _, err := d.store.CreateReceipt(ctx, params); err != nil {
		d.logger.ErrorContext(ctx, "failed to journal receipt",
			"signature", params.Signature,
			"status", params.Status,
			"error", err,
		)
	}
}

func (d submitDeps) announce(ctx context.Context, p *token.Prepared, receipt *token.SubmissionReceipt, err error) {
	if d.publisher == nil {
		return
	}
	eventType := natspkg.EventTypeForStatus(receipt.Status)
	if token.KindOf(err) == token.KindTimeout {
		eventType = natspkg.EventTimeout
	}
	event := natspkg.FromReceipt(eventType, d.network, p.Config.Name, p.Config.Symbol, receipt)
	if err := d.publisher.PublishTokenEvent(ctx, event); err != nil {
		d.logger.ErrorContext(ctx, "failed to publish token event",
			"signature", event.Signature,
			"type", event.Type,
			"error", err,
		)
	}
}

func (d submitDeps) startReconcile(ctx context.Context, receipt *token.SubmissionReceipt) {
	if d.reconciler == nil {
		d.logger.WarnContext(ctx, "reconciliation disabled, outcome left pending",
			"signature", receipt.Signature.String(),
		)
		return
	}
	input := d.reconcile
	input.Signature = receipt.Signature.String()
	input.FeePayer = receipt.FeePayer.String()
	input.MintAddress = receipt.MintAddress.String()
	input.LastValidBlockHeight = receipt.Anchor.LastValidBlockHeight
	input.SubmittedAt = receipt.SubmittedAt

	// The request context may already be done after a confirmation timeout.
	if err := d.reconciler.StartReconcile(context.WithoutCancel(ctx), input); err != nil {
		d.logger.ErrorContext(ctx, "failed to start reconciliation",
			"signature", input.Signature,
			"error", err,
		)
	}
}

func (d submitDeps) recordCreation(err error, start time.Time) {
	if d.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(token.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	d.metrics.RecordCreation(outcome, time.Since(start).Seconds())
}

// errorResponse is the JSON body for pipeline errors.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Signature string `json:"signature,omitempty"`
	Expired   bool   `json:"expired,omitempty"`
}

func toErrorResponse(err error) errorResponse {
	var e *token.Error
	if !errors.As(err, &e) {
		return errorResponse{Error: err.Error()}
	}
	return errorResponse{
		Error:     e.Error(),
		Kind:      string(e.Kind),
		Stage:     string(e.Stage),
		Signature: e.Signature,
		Expired:   e.Expired,
	}
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind token.Kind) int {
	switch kind {
	case token.KindValidation, token.KindUserRejected:
		return http.StatusBadRequest
	case token.KindStorageUnavailable:
		return http.StatusBadGateway
	case token.KindNetworkUnavailable:
		return http.StatusServiceUnavailable
	case token.KindLedgerExecutionFailed:
		return http.StatusUnprocessableEntity
	case token.KindTimeout:
		// Broadcast happened; the outcome is resolved asynchronously.
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func writeTokenError(w http.ResponseWriter, err error) {
	writeJSON(w, toErrorResponse(err), statusForKind(token.KindOf(err)))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
