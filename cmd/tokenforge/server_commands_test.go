package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	err := newApp().Run([]string{"tokenforge", "--server-url", server.URL, "server", "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newApp().Run([]string{"tokenforge", "--server-url", server.URL, "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_Unreachable(t *testing.T) {
	err := newApp().Run([]string{"tokenforge", "--server-url", "http://127.0.0.1:1", "server", "health", "--timeout", "500ms"})
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	err := newApp().Run([]string{"tokenforge", "server", "version"})
	require.NoError(t, err)
}
