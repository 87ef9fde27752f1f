package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthResponse{OK: true, ModelID: "m1", Dim: 768, Device: "cpu"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 768, resp.Dim)
}

func TestEmbed_PreservesRequestOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vectors := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			vectors[i] = []float32{float32(i)}
		}
		json.NewEncoder(w).Encode(embedResponse{Vectors: vectors})
	}))
	defer srv.Close()

	c := New(srv.URL)
	vectors, err := c.Embed(context.Background(), []string{"a", "b", "c"}, true)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(2), vectors[2][0])
}

func TestEmbed_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Vectors: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	vectors, err := c.Embed(context.Background(), []string{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []float32{1, 2, 3}, vectors[0])
}

func TestEmbed_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Embed(context.Background(), []string{"a"}, false)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbed_CancellationReturnsContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Embed(ctx, []string{"a"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfo_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		json.NewEncoder(w).Encode(InfoResponse{ModelID: "m1", Dim: 768, Device: "cpu", Version: "1.0"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.ModelID)
}
