package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
)

// maxRebuilds bounds how often Create re-signs after the anchor expired.
const maxRebuilds = 2

// Quote is a cost breakdown with its lamport total.
type Quote struct {
	token.CostBreakdown
	TotalLamports uint64 `json:"total_lamports"`
}

// PreparedCreation is a creation waiting for the fee payer's signature.
type PreparedCreation struct {
	ID                   string       `json:"id"`
	Transaction          string       `json:"transaction"`
	FeePayer             string       `json:"fee_payer"`
	MintAddress          string       `json:"mint_address"`
	HoldingAddress       string       `json:"holding_address"`
	ImageURI             string       `json:"image_uri"`
	MetadataURI          string       `json:"metadata_uri"`
	Cost                 Quote        `json:"cost"`
	Steps                []token.Step `json:"steps"`
	LastValidBlockHeight uint64       `json:"last_valid_block_height"`
	ExpiresAt            time.Time    `json:"expires_at"`
}

// SubmitResult is returned once a creation is confirmed.
type SubmitResult struct {
	Signature string        `json:"signature"`
	Result    *token.Result `json:"result"`
}

// Receipt is a submission as known to the journal or the ledger.
type Receipt struct {
	Signature            string     `json:"signature"`
	Source               string     `json:"source"`
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

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int               `json:"-"`
	Message    string            `json:"error"`
	Kind       token.Kind        `json:"kind,omitempty"`
	Stage      token.Stage       `json:"stage,omitempty"`
	Signature  string            `json:"signature,omitempty"`
	Expired    bool              `json:"expired,omitempty"`
	Prepared   *PreparedCreation `json:"prepared,omitempty"` // set when the server rebuilt an expired creation
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Is matches the pipeline's kind sentinels, e.g. errors.Is(err, token.ErrTimeout).
func (e *APIError) Is(target error) bool {
	var t *token.Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind != "" && t.Kind == e.Kind
}

// Client is the HTTP client for the tokenforge service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new tokenforge service client. Submissions block until
// the server stops waiting for confirmation, so the default timeout is long.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Quote prices a set of options.
func (c *Client) Quote(ctx context.Context, flags token.CostFlags) (*Quote, error) {
	var quote Quote
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/quote", flags, http.StatusOK, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// Prepare uploads the asset configuration and image and returns the
// transaction the fee payer must sign.
func (c *Client) Prepare(ctx context.Context, cfg *token.AssetConfig, feePayer solana.PublicKey) (*PreparedCreation, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("fee_payer", feePayer.String()); err != nil {
		return nil, fmt.Errorf("failed to write form: %w", err)
	}
	if err := mw.WriteField("config", string(configJSON)); err != nil {
		return nil, fmt.Errorf("failed to write form: %w", err)
	}
	if len(cfg.Image.Data) > 0 {
		filename := cfg.Image.Filename
		if filename == "" {
			filename = "image"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
		h.Set("Content-Type", cfg.ImageContentType())
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to write form: %w", err)
		}
		if _, err := part.Write(cfg.Image.Data); err != nil {
			return nil, fmt.Errorf("failed to write form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to write form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/tokens/prepare", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var prepared PreparedCreation
	if err := c.do(req, http.StatusCreated, &prepared); err != nil {
		return nil, err
	}

	c.logger.Debug("creation prepared", "id", prepared.ID, "mint", prepared.MintAddress)
	return &prepared, nil
}

// Submit sends the fee-payer-signed transaction for a prepared creation. A
// timeout, an expired anchor and every other failure are returned as
// *APIError.
func (c *Client) Submit(ctx context.Context, id, signedTx string) (*SubmitResult, error) {
	reqBody := map[string]string{
		"id":          id,
		"transaction": signedTx,
	}
	var result SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tokens/submit", reqBody, http.StatusOK, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("creation submitted", "id", id, "signature", result.Signature)
	return &result, nil
}

// Create runs prepare, sign and submit with a local wallet. When the server
// reports that the anchor expired it re-signs the rebuilt creation it
// returned.
func (c *Client) Create(ctx context.Context, cfg *token.AssetConfig, wallet token.Wallet) (*SubmitResult, error) {
	feePayer, err := wallet.Connect(ctx)
	if err != nil {
		return nil, &token.Error{Kind: token.KindUserRejected, Stage: token.StageSign, Message: "wallet connection refused", Cause: err}
	}
	defer func() {
		if err := wallet.Disconnect(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("wallet disconnect failed", "error", err)
		}
	}()

	prepared, err := c.Prepare(ctx, cfg, feePayer)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		signed, err := signPrepared(ctx, wallet, prepared.Transaction)
		if err != nil {
			return nil, err
		}

		result, err := c.Submit(ctx, prepared.ID, signed)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || !apiErr.Expired || apiErr.Prepared == nil || attempt >= maxRebuilds {
			return result, err
		}

		c.logger.Info("anchor expired, signing rebuilt creation",
			"id", prepared.ID,
			"previous_mint", prepared.MintAddress,
			"mint", apiErr.Prepared.MintAddress,
		)
		prepared = apiErr.Prepared
	}
}

func signPrepared(ctx context.Context, wallet token.Wallet, encoded string) (string, error) {
	tx, err := solana.TransactionFromBase64(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode prepared transaction: %w", err)
	}
	signed, err := wallet.SignTransaction(ctx, tx)
	if err != nil {
		return "", &token.Error{Kind: token.KindUserRejected, Stage: token.StageSign, Message: "wallet did not sign", Cause: err}
	}
	if signed == nil {
		return "", &token.Error{Kind: token.KindUserRejected, Stage: token.StageSign, Message: "wallet returned no transaction"}
	}
	return signed.ToBase64()
}

// Receipt looks up a submission by signature.
func (c *Client) Receipt(ctx context.Context, signature string) (*Receipt, error) {
	var receipt Receipt
	path := "/api/v1/receipts/" + url.PathEscape(signature)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts lists journaled receipts for a fee payer.
func (c *Client) ListReceipts(ctx context.Context, feePayer string, limit, offset int) ([]*Receipt, error) {
	params := url.Values{}
	params.Set("fee_payer", feePayer)
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", offset))
	}

	var response struct {
		Receipts []*Receipt `json:"receipts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/receipts?"+params.Encode(), nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Receipts, nil
}

// TokenQR returns a PNG QR code linking to the mint on the explorer.
func (c *Client) TokenQR(ctx context.Context, mint string, size int) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v1/tokens/%s/qr", c.baseURL, url.PathEscape(mint))
	if size > 0 {
		u += fmt.Sprintf("?size=%d", size)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}
	return io.ReadAll(resp.Body)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, wantStatus, out)
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(body))
	}
	return apiErr
}
