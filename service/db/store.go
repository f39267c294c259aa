package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const receiptsTable = "receipts"

var (
	// ErrReceiptNotFound is returned when no receipt exists for a signature.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrReceiptFinal is returned when a status update targets a receipt
	// that is already confirmed or failed.
	ErrReceiptFinal = errors.New("receipt already resolved")
)

// Store journals submission receipts so that timed-out submissions can be
// resolved later without broadcasting a second creation.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Receipt is a journaled submission.
type Receipt struct {
	Signature            string
	Network              string // "mainnet" or "devnet"
	Status               string
	FeePayer             string
	MintAddress          string
	HoldingAddress       string
	MetadataURI          string
	ImageURI             string
	Name                 string
	Symbol               string
	PaymentLamports      int64
	LastValidBlockHeight int64
	Slot                 *int64
	Error                *string
	SubmittedAt          time.Time
	ConfirmedAt          *time.Time
	UpdatedAt            time.Time
}

// CreateReceiptParams contains the parameters for journaling a receipt.
type CreateReceiptParams struct {
	Signature            string
	Network              string
	Status               string
	FeePayer             string
	MintAddress          string
	HoldingAddress       string
	MetadataURI          string
	ImageURI             string
	Name                 string
	Symbol               string
	PaymentLamports      int64
	LastValidBlockHeight int64
	Slot                 *int64
	Error                *string
	SubmittedAt          time.Time
	ConfirmedAt          *time.Time
}

// UpdateReceiptStatusParams records the outcome of a submission.
type UpdateReceiptStatusParams struct {
	Signature   string
	Status      string
	Slot        *int64
	Error       *string
	ConfirmedAt *time.Time
}

// ReceiptParamsFromSubmission converts a submission receipt into journal
// parameters.
func ReceiptParamsFromSubmission(network, name, symbol string, r *token.SubmissionReceipt) CreateReceiptParams {
	params := CreateReceiptParams{
		Signature:            r.Signature.String(),
		Network:              network,
		Status:               string(r.Status),
		FeePayer:             r.FeePayer.String(),
		MintAddress:          r.MintAddress.String(),
		HoldingAddress:       r.HoldingAddress.String(),
		MetadataURI:          r.MetadataURI,
		ImageURI:             r.ImageURI,
		Name:                 name,
		Symbol:               symbol,
		PaymentLamports:      int64(r.PaymentLamports),
		LastValidBlockHeight: int64(r.Anchor.LastValidBlockHeight),
		SubmittedAt:          r.SubmittedAt,
		ConfirmedAt:          r.ConfirmedAt,
	}
	if r.Slot > 0 {
		slot := int64(r.Slot)
		params.Slot = &slot
	}
	if r.Err != "" {
		msg := r.Err
		params.Error = &msg
	}
	return params
}

// EnsureSchema creates the receipts table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.record("ensure_schema", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const receiptColumns = `signature, network, status, fee_payer, mint_address, holding_address,
	metadata_uri, image_uri, name, symbol, payment_lamports, last_valid_block_height,
	slot, error, submitted_at, confirmed_at, updated_at`

// CreateReceipt journals a receipt. Writing the same signature twice keeps
// the first row's content and takes the newer status while the row is still
// pending. A resolved row is returned unchanged.
func (s *Store) CreateReceipt(ctx context.Context, params CreateReceiptParams) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO receipts (
			signature, network, status, fee_payer, mint_address, holding_address,
			metadata_uri, image_uri, name, symbol, payment_lamports, last_valid_block_height,
			slot, error, submitted_at, confirmed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (signature) DO UPDATE SET
			status = EXCLUDED.status,
			slot = COALESCE(EXCLUDED.slot, receipts.slot),
			error = EXCLUDED.error,
			confirmed_at = COALESCE(EXCLUDED.confirmed_at, receipts.confirmed_at),
			updated_at = NOW()
		WHERE receipts.status = 'pending'
		RETURNING `+receiptColumns,
		params.Signature,
		params.Network,
		params.Status,
		params.FeePayer,
		params.MintAddress,
		params.HoldingAddress,
		params.MetadataURI,
		params.ImageURI,
		params.Name,
		params.Symbol,
		params.PaymentLamports,
		params.LastValidBlockHeight,
		pgint8FromInt64Ptr(params.Slot),
		pgtextFromStringPtr(params.Error),
		pgtype.Timestamptz{Time: params.SubmittedAt, Valid: true},
		pgtimestamptzFromTimePtr(params.ConfirmedAt),
	)
	receipt, err := scanReceipt(row)
	s.record("create", start, err)
	if errors.Is(err, ErrReceiptNotFound) {
		// The conflicting row is already resolved.
		return s.GetReceipt(ctx, params.Signature)
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// UpdateReceiptStatus records a terminal (or still pending) status. Only
// pending receipts change; a resolved receipt is returned along with
// ErrReceiptFinal.
func (s *Store) UpdateReceiptStatus(ctx context.Context, params UpdateReceiptStatusParams) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE receipts SET
			status = $2,
			slot = COALESCE($3, slot),
			error = $4,
			confirmed_at = COALESCE($5, confirmed_at),
			updated_at = NOW()
		WHERE signature = $1 AND status = 'pending'
		RETURNING `+receiptColumns,
		params.Signature,
		params.Status,
		pgint8FromInt64Ptr(params.Slot),
		pgtextFromStringPtr(params.Error),
		pgtimestamptzFromTimePtr(params.ConfirmedAt),
	)
	receipt, err := scanReceipt(row)
	s.record("update", start, err)
	if errors.Is(err, ErrReceiptNotFound) {
		existing, getErr := s.GetReceipt(ctx, params.Signature)
		if getErr != nil {
			return nil, getErr
		}
		return existing, ErrReceiptFinal
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by its signature.
func (s *Store) GetReceipt(ctx context.Context, signature string) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE signature = $1`, signature)
	receipt, err := scanReceipt(row)
	s.record("get", start, err)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceiptsByFeePayer returns a fee payer's receipts, most recent first.
func (s *Store) ListReceiptsByFeePayer(ctx context.Context, feePayer string, limit, offset int32) ([]*Receipt, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE fee_payer = $1
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3`,
		feePayer, limit, offset,
	)
	if err != nil {
		s.record("list_by_fee_payer", start, err)
		return nil, err
	}
	receipts, err := collectReceipts(rows)
	s.record("list_by_fee_payer", start, err)
	return receipts, err
}

// ListPendingReceipts returns receipts still awaiting an outcome that were
// submitted before the given time, oldest first.
func (s *Store) ListPendingReceipts(ctx context.Context, submittedBefore time.Time) ([]*Receipt, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE status = 'pending' AND submitted_at < $1
		ORDER BY submitted_at ASC`,
		pgtype.Timestamptz{Time: submittedBefore, Valid: true},
	)
	if err != nil {
		s.record("list_pending", start, err)
		return nil, err
	}
	receipts, err := collectReceipts(rows)
	s.record("list_pending", start, err)
	return receipts, err
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, ErrReceiptNotFound) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, receiptsTable, time.Since(start).Seconds(), err)
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r           Receipt
		slot        pgtype.Int8
		errMsg      pgtype.Text
		submittedAt pgtype.Timestamptz
		confirmedAt pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&r.Signature,
		&r.Network,
		&r.Status,
		&r.FeePayer,
		&r.MintAddress,
		&r.HoldingAddress,
		&r.MetadataURI,
		&r.ImageURI,
		&r.Name,
		&r.Symbol,
		&r.PaymentLamports,
		&r.LastValidBlockHeight,
		&slot,
		&errMsg,
		&submittedAt,
		&confirmedAt,
		&updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Slot = int64PtrFromPgint8(slot)
	r.Error = stringPtrFromPgtext(errMsg)
	r.SubmittedAt = submittedAt.Time
	r.ConfirmedAt = timePtrFromPgTimestamptz(confirmedAt)
	r.UpdatedAt = updatedAt.Time
	return &r, nil
}

func collectReceipts(rows pgx.Rows) ([]*Receipt, error) {
	defer rows.Close()
	var receipts []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Helper functions for pgtype conversions

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int64PtrFromPgint8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func pgtimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
