package storage

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
	"strings"
	"time"

	"github.com/brojonat/tokenforge/service/metrics"
	"github.com/brojonat/tokenforge/service/token"
)

const (
	DefaultUploadURL  = "https://node.lighthouse.storage/api/v0/add"
	DefaultGatewayURL = "https://gateway.lighthouse.storage/ipfs/"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// Config configures the Lighthouse publisher.
type Config struct {
	APIKey     string
	UploadURL  string
	GatewayURL string
	Timeout    time.Duration
}

// Publisher uploads content to Lighthouse (IPFS) and returns gateway URLs.
// Every upload is a single attempt; retrying is the caller's decision.
type Publisher struct {
	client     *http.Client
	apiKey     string
	uploadURL  string
	gatewayURL string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var _ token.ContentPublisher = (*Publisher)(nil)

// addResponse is the body returned by the Lighthouse add endpoint.
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NewPublisher creates a publisher. If metrics is nil, no metrics will be recorded.
func NewPublisher(cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("storage API key is required")
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if !strings.HasSuffix(cfg.GatewayURL, "/") {
		cfg.GatewayURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Publisher{
		client:     &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		uploadURL:  cfg.UploadURL,
		gatewayURL: cfg.GatewayURL,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Upload stores an image and returns its gateway URL.
func (p *Publisher) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("upload content is empty")
	}
	return p.add(ctx, "image", filenameFor(contentType), contentType, data)
}

// UploadJSON encodes doc and stores it as metadata.json.
func (p *Publisher) UploadJSON(ctx context.Context, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return p.add(ctx, "metadata", "metadata.json", "application/json", data)
}

func (p *Publisher) add(ctx context.Context, kind, filename, contentType string, data []byte) (uri string, err error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordUpload(kind, len(data), time.Since(start).Seconds(), err)
		}
	}()

	body, formType, err := multipartBody(filename, contentType, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.ErrorContext(ctx, "upload request failed", "kind", kind, "error", err)
		return "", fmt.Errorf("upload %s: %w", kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.ErrorContext(ctx, "upload rejected",
			"kind", kind,
			"status", resp.StatusCode,
			"body", truncate(raw),
		)
		return "", fmt.Errorf("upload %s failed: status=%d body=%s", kind, resp.StatusCode, truncate(raw))
	}

	var res addResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if res.Hash == "" {
		return "", errors.New("upload response has empty hash")
	}

	uri = p.gatewayURL + res.Hash
	p.logger.InfoContext(ctx, "uploaded content",
		"kind", kind,
		"bytes", len(data),
		"cid", res.Hash,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return uri, nil
}

func multipartBody(filename, contentType string, data []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func filenameFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "image.jpg"
	case "image/png":
		return "image.png"
	default:
		return "file"
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
