package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// JSON-RPC error codes returned by sendTransaction.
const (
	errCodePreflightFailure      = -32002
	errCodeSignatureVerification = -32003
)

const maxReadAttempts = 4

// Client is the ledger used by the creation pipeline. Reads are retried
// with backoff on rate limits; sendTransaction is attempted exactly once.
type Client struct {
	rpc        RPCClient
	commitment rpc.CommitmentType
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	backoff    time.Duration
}

var _ token.Ledger = (*Client)(nil)

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, commitment rpc.CommitmentType, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		commitment: commitment,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		backoff:    time.Second,
	}
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// withRetry runs a read-only call, retrying rate limits and transport errors
// with exponential backoff. JSON-RPC errors from the node are not retried.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		start := time.Now()
		err = fn()
		c.record(method, start, err)
		if err == nil {
			return nil
		}

		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return err
		}

		reason := "timeout_or_error"
		backoff := c.backoff << uint(attempt) // 1s, 2s, 4s
		if isRateLimited(err) {
			reason = "rate_limit"
			backoff *= 2
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		}
		if attempt == maxReadAttempts-1 {
			break
		}

		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method, reason)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", method, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", method, maxReadAttempts, err)
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

// LatestAnchor returns the latest blockhash and its last valid block height.
func (c *Client) LatestAnchor(ctx context.Context) (token.Anchor, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.withRetry(ctx, "GetLatestBlockhash", func() error {
		var err error
		out, err = c.rpc.GetLatestBlockhash(ctx, c.commitment)
		return err
	})
	if err != nil {
		return token.Anchor{}, err
	}
	if out == nil || out.Value == nil {
		return token.Anchor{}, fmt.Errorf("GetLatestBlockhash returned no value")
	}
	return token.Anchor{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *Client) MinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.withRetry(ctx, "GetMinimumBalanceForRentExemption", func() error {
		var err error
		lamports, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
		return err
	})
	return lamports, err
}

// SendRawTransaction broadcasts once. Preflight failures wrap
// token.ErrTransactionRejected, or token.ErrAnchorExpired when the
// blockhash is unknown to the node.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendRawTransaction(ctx, raw, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "send transaction failed", "error", err)
		return solana.Signature{}, classifySendError(err)
	}
	return sig, nil
}

func classifySendError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	if strings.Contains(strings.ToLower(rpcErr.Message), "blockhash not found") {
		return fmt.Errorf("%s: %w", rpcErr.Message, token.ErrAnchorExpired)
	}
	switch rpcErr.Code {
	case errCodePreflightFailure, errCodeSignatureVerification:
		return fmt.Errorf("%s: %w", rpcErr.Message, token.ErrTransactionRejected)
	}
	return err
}

// SignatureStatus returns nil when the node has not seen the signature.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*token.SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, sig)
	if errors.Is(err, rpc.ErrNotFound) {
		err = nil
	}
	c.record("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	v := out.Value[0]
	status := &token.SignatureStatus{
		Slot:      v.Slot,
		Confirmed: reachedCommitment(v.ConfirmationStatus, c.commitment),
	}
	if v.Err != nil {
		status.Err = fmt.Errorf("%v", v.Err)
	}
	return status, nil
}

func reachedCommitment(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentProcessed:
		return status != ""
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}

func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, "GetBlockHeight", func() error {
		var err error
		height, err = c.rpc.GetBlockHeight(ctx, c.commitment)
		return err
	})
	return height, err
}

func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var out *rpc.GetBalanceResult
	err := c.withRetry(ctx, "GetBalance", func() error {
		var err error
		out, err = c.rpc.GetBalance(ctx, account, c.commitment)
		return err
	})
	if err != nil {
		return 0, err
	}
	if out == nil {
		return 0, nil
	}
	return out.Value, nil
}

// InspectCreation fetches a confirmed transaction and summarizes the token
// creation it performed.
func (c *Client) InspectCreation(ctx context.Context, sig solana.Signature) (*CreationSummary, error) {
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err := c.withRetry(ctx, "GetTransaction", func() error {
		var err error
		result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, rpc.ErrNotFound
	}

	summary, err := parseCreation(sig, result)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "inspected creation",
		"signature", sig.String(),
		"mint", summary.Mint,
		"steps", len(summary.Steps),
	)
	return summary, nil
}
