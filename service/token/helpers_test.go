package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	pngImage  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	jpegImage = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validConfig() *AssetConfig {
	return &AssetConfig{
		Name:        "Forge Token",
		Symbol:      "FRG",
		Decimals:    9,
		TotalSupply: decimal.NewFromInt(1_000_000),
		Description: "a test token",
		Image:       Image{Data: pngImage, ContentType: "image/png", Filename: "logo.png"},
		SocialLinks: []SocialLink{
			{Label: "Website", URL: "https://forge.example"},
			{Label: "Twitter", URL: "https://twitter.com/forge"},
		},
	}
}

// fakeLedger returns scripted statuses, one per poll.
type fakeLedger struct {
	mu sync.Mutex

	anchor      Anchor
	anchorErr   error
	rent        uint64
	rentErr     error
	sendErr     error
	statuses    []*SignatureStatus
	statusErr   error
	blockHeight uint64

	anchorCalls int
	rentCalls   int
	sends       [][]byte
	polls       int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		anchor: Anchor{
			Blockhash:            solana.HashFromBytes([]byte("anchor-blockhash-0123456789abcde")),
			LastValidBlockHeight: 1_000,
		},
		rent:        1_461_600,
		blockHeight: 900,
	}
}

func (f *fakeLedger) LatestAnchor(ctx context.Context) (Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchorCalls++
	return f.anchor, f.anchorErr
}

func (f *fakeLedger) MinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rentCalls++
	return f.rent, f.rentErr
}

func (f *fakeLedger) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	f.sends = append(f.sends, raw)
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

func (f *fakeLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return nil, nil
	}
	idx := f.polls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

func (f *fakeLedger) BlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

func (f *fakeLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return 10 * LamportsPerSOL, nil
}

func (f *fakeLedger) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.anchorCalls + f.rentCalls + len(f.sends) + f.polls
}

func (f *fakeLedger) broadcasts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakePublisher struct {
	mu        sync.Mutex
	uploadErr error
	jsonErr   error
	uploads   int
	docs      []any
}

func (p *fakePublisher) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads++
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	return "https://gateway.example/ipfs/image-cid", nil
}

func (p *fakePublisher) UploadJSON(ctx context.Context, doc any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, doc)
	if p.jsonErr != nil {
		return "", p.jsonErr
	}
	return "https://gateway.example/ipfs/metadata-cid", nil
}

func (p *fakePublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads + len(p.docs)
}

type fakeWallet struct {
	key     solana.PrivateKey
	signErr error
	signs   int
	tamper  func(tx *solana.Transaction) // applied before signing
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &fakeWallet{key: key}
}

func (w *fakeWallet) Connect(ctx context.Context) (solana.PublicKey, error) {
	return w.key.PublicKey(), nil
}

func (w *fakeWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	w.signs++
	if w.signErr != nil {
		return nil, w.signErr
	}
	if w.tamper != nil {
		w.tamper(tx)
	}
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.key.PublicKey()) {
			return &w.key
		}
		return nil
	})
	return tx, err
}

func (w *fakeWallet) Disconnect(ctx context.Context) error {
	return nil
}

var errUserClosedPopup = errors.New("user closed the popup")
