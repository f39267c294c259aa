package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedUpload struct {
	auth        string
	filename    string
	contentType string
	body        []byte
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedUpload) {
	t.Helper()
	var uploads []capturedUpload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)

		uploads = append(uploads, capturedUpload{
			auth:        r.Header.Get("Authorization"),
			filename:    header.Filename,
			contentType: header.Header.Get("Content-Type"),
			body:        body,
		})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &uploads
}

func newTestPublisher(t *testing.T, uploadURL string) *Publisher {
	t.Helper()
	p, err := NewPublisher(Config{
		APIKey:     "secret-key",
		UploadURL:  uploadURL,
		GatewayURL: "https://gateway.example/ipfs",
		Timeout:    5 * time.Second,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestUpload(t *testing.T) {
	srv, uploads := newTestServer(t, http.StatusOK, `{"Name":"image.png","Hash":"bafyimage","Size":"68"}`)
	p := newTestPublisher(t, srv.URL)

	uri, err := p.Upload(context.Background(), []byte("\x89PNG\r\n\x1a\nrest"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example/ipfs/bafyimage", uri)

	require.Len(t, *uploads, 1)
	got := (*uploads)[0]
	assert.Equal(t, "Bearer secret-key", got.auth)
	assert.Equal(t, "image.png", got.filename)
	assert.Equal(t, "image/png", got.contentType)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\nrest"), got.body)
}

func TestUploadJSON(t *testing.T) {
	srv, uploads := newTestServer(t, http.StatusOK, `{"Name":"metadata.json","Hash":"bafymeta","Size":"40"}`)
	p := newTestPublisher(t, srv.URL)

	uri, err := p.UploadJSON(context.Background(), map[string]string{"name": "Forge Token"})
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example/ipfs/bafymeta", uri)

	require.Len(t, *uploads, 1)
	assert.Equal(t, "metadata.json", (*uploads)[0].filename)
	var doc map[string]string
	require.NoError(t, json.Unmarshal((*uploads)[0].body, &doc))
	assert.Equal(t, "Forge Token", doc["name"])
}

func TestUpload_Failures(t *testing.T) {
	t.Run("server error is a single attempt", func(t *testing.T) {
		srv, uploads := newTestServer(t, http.StatusBadGateway, "upstream down")
		p := newTestPublisher(t, srv.URL)

		_, err := p.Upload(context.Background(), []byte("data"), "image/png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status=502")
		assert.Len(t, *uploads, 1)
	})

	t.Run("missing hash", func(t *testing.T) {
		srv, _ := newTestServer(t, http.StatusOK, `{"Name":"image.png"}`)
		p := newTestPublisher(t, srv.URL)

		_, err := p.Upload(context.Background(), []byte("data"), "image/png")
		assert.Error(t, err)
	})

	t.Run("empty content", func(t *testing.T) {
		p := newTestPublisher(t, "http://127.0.0.1:0")

		_, err := p.Upload(context.Background(), nil, "image/png")
		assert.Error(t, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		p := newTestPublisher(t, url)

		_, err := p.Upload(context.Background(), []byte("data"), "image/png")
		assert.Error(t, err)
	})
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(Config{}, nil, slog.Default())
	assert.Error(t, err)

	p, err := NewPublisher(Config{APIKey: "k"}, nil, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultUploadURL, p.uploadURL)
	assert.Equal(t, DefaultGatewayURL, p.gatewayURL)
}
