package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brojonat/tokenforge/service/token"
	solanago "github.com/gagliardetto/solana-go"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// handleTokenQR returns a handler that renders the mint's explorer URL as a
// PNG QR code.
// GET /api/v1/tokens/{mint}/qr?size=N
func handleTokenQR(reporter *token.ResultReporter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mint, err := solanago.PublicKeyFromBase58(r.PathValue("mint"))
		if err != nil {
			writeError(w, "invalid mint address", http.StatusBadRequest)
			return
		}

		size := defaultQRSize
		if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
			if _, err := fmt.Sscanf(sizeStr, "%d", &size); err != nil {
				writeError(w, "invalid size parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if size < minQRSize || size > maxQRSize {
				writeError(w, fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize), http.StatusBadRequest)
				return
			}
		}

		url := reporter.ExplorerURL(mint)
		png, err := qrcode.Encode(url, qrcode.Medium, size)
		if err != nil {
			logger.Error("failed to encode QR code", "mint", mint.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	})
}
