package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/tokenforge/service/config"
	"github.com/brojonat/tokenforge/service/db"
	natspkg "github.com/brojonat/tokenforge/service/nats"
	"github.com/brojonat/tokenforge/service/temporal"
	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger confirms whatever it is sent unless configured otherwise.
type fakeLedger struct {
	mu sync.Mutex

	anchorHeight uint64
	blockHeight  uint64
	unseen       bool  // never report a status for sent transactions
	execErr      error // report this execution error for sent transactions
	sent         map[solana.Signature]bool
	anchors      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		anchorHeight: 1_000,
		blockHeight:  900,
		sent:         make(map[solana.Signature]bool),
	}
}

func (f *fakeLedger) LatestAnchor(ctx context.Context) (token.Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors++
	var hash solana.Hash
	hash[0] = byte(f.anchors)
	return token.Anchor{Blockhash: hash, LastValidBlockHeight: f.anchorHeight}, nil
}

func (f *fakeLedger) MinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	return 1_461_600, nil
}

func (f *fakeLedger) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[tx.Signatures[0]] = true
	return tx.Signatures[0], nil
}

func (f *fakeLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (*token.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sent[sig] || f.unseen {
		return nil, nil
	}
	if f.execErr != nil {
		return &token.SignatureStatus{Slot: 55, Confirmed: true, Err: f.execErr}, nil
	}
	return &token.SignatureStatus{Slot: 55, Confirmed: true}, nil
}

func (f *fakeLedger) BlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

func (f *fakeLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return 10 * token.LamportsPerSOL, nil
}

func (f *fakeLedger) broadcasts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeContent struct{}

func (fakeContent) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	return "https://gateway.example/ipfs/image-cid", nil
}

func (fakeContent) UploadJSON(ctx context.Context, doc any) (string, error) {
	return "https://gateway.example/ipfs/metadata-cid", nil
}

// memoryStore is an in-memory receipt journal.
type memoryStore struct {
	mu       sync.Mutex
	receipts map[string]*db.Receipt
}

func newMemoryStore() *memoryStore {
	return &memoryStore{receipts: make(map[string]*db.Receipt)}
}

func (s *memoryStore) CreateReceipt(ctx context.Context, p db.CreateReceiptParams) (*db.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.receipts[p.Signature]; ok && existing.Status != "pending" {
		return existing, nil
	}
	r := &db.Receipt{
		Signature:            p.Signature,
		Network:              p.Network,
		Status:               p.Status,
		FeePayer:             p.FeePayer,
		MintAddress:          p.MintAddress,
		HoldingAddress:       p.HoldingAddress,
		MetadataURI:          p.MetadataURI,
		ImageURI:             p.ImageURI,
		Name:                 p.Name,
		Symbol:               p.Symbol,
		PaymentLamports:      p.PaymentLamports,
		LastValidBlockHeight: p.LastValidBlockHeight,
		Slot:                 p.Slot,
		Error:                p.Error,
		SubmittedAt:          p.SubmittedAt,
		ConfirmedAt:          p.ConfirmedAt,
		UpdatedAt:            time.Now(),
	}
	s.receipts[p.Signature] = r
	return r, nil
}

func (s *memoryStore) GetReceipt(ctx context.Context, signature string) (*db.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[signature]
	if !ok {
		return nil, db.ErrReceiptNotFound
	}
	return r, nil
}

func (s *memoryStore) ListReceiptsByFeePayer(ctx context.Context, feePayer string, limit, offset int32) ([]*db.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Receipt
	for _, r := range s.receipts {
		if r.FeePayer == feePayer {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	if int(offset) >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if int(limit) < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type testEnv struct {
	handler    http.Handler
	ledger     *fakeLedger
	store      *memoryStore
	publisher  *natspkg.MockPublisher
	reconciler *temporal.MockReconciler
	payer      solana.PrivateKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger := newFakeLedger()
	cfg := &config.Config{
		Network:           config.NetworkDevnet,
		PreparedTTL:       time.Minute,
		ConfirmTimeout:    300 * time.Millisecond,
		ReconcileInterval: 15 * time.Second,
		ReconcileTimeout:  10 * time.Minute,
	}
	creator := token.NewCreator(token.CreatorConfig{
		FeeReceiver: solana.NewWallet().PublicKey(),
		FeeSchedule: token.DefaultFeeSchedule(),
		ConfirmPolicy: token.ConfirmPolicy{
			Timeout:         cfg.ConfirmTimeout,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		},
		Network: cfg.Network,
	}, ledger, fakeContent{}, nil, testLogger())

	env := &testEnv{
		ledger:     ledger,
		store:      newMemoryStore(),
		publisher:  natspkg.NewMockPublisher(),
		reconciler: temporal.NewMockReconciler(),
		payer:      solana.NewWallet().PrivateKey,
	}
	srv := New(":0", cfg, creator, ledger, env.store, env.publisher, env.reconciler, nil, nil, testLogger())
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func prepareRequest(t *testing.T, feePayer string, cfg map[string]any, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if feePayer != "" {
		require.NoError(t, mw.WriteField("fee_payer", feePayer))
	}
	if cfg != nil {
		raw, err := json.Marshal(cfg)
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("config", string(raw)))
	}
	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="logo.png"`)
		h.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokens/prepare", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func assetConfig() map[string]any {
	return map[string]any{
		"name":         "Forge Token",
		"symbol":       "FRG",
		"decimals":     6,
		"total_supply": "1000000",
		"description":  "a test token",
		"social_links": []map[string]string{{"label": "Website", "url": "https://forge.example"}},
		"authorities":  map[string]bool{"revoke_mint": true, "revoke_freeze": true},
	}
}

// prepare runs a successful prepare for the env's payer.
func (e *testEnv) prepare(t *testing.T) *prepareResponse {
	t.Helper()
	rec := e.do(t, prepareRequest(t, e.payer.PublicKey().String(), assetConfig(), pngImage))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp prepareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

// sign adds the payer's signature to a prepared base64 transaction.
func (e *testEnv) sign(t *testing.T, encoded string) string {
	t.Helper()
	tx, err := solana.TransactionFromBase64(encoded)
	require.NoError(t, err)
	_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(e.payer.PublicKey()) {
			return &e.payer
		}
		return nil
	})
	require.NoError(t, err)
	out, err := tx.ToBase64()
	require.NoError(t, err)
	return out
}
