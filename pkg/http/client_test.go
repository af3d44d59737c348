package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "goldcast", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	c := NewClient(WithHeader("User-Agent", "goldcast"))
	require.NoError(t, c.PostJSON(context.Background(), srv.URL+"/forecast", map[string]int{"a": 1}, &out))
	assert.True(t, out.OK)
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient().GetJSON(context.Background(), srv.URL, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "model not loaded", se.Body)
	assert.Contains(t, err.Error(), "503")
}

func TestGetJSONRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewClient().GetJSON(ctx, srv.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]int{1, 2})
	}))
	defer srv.Close()

	var raw []byte
	require.NoError(t, NewClient().GetJSON(context.Background(), srv.URL, &raw))
	assert.JSONEq(t, `[1,2]`, string(raw))
}

func TestUnencodablePayload(t *testing.T) {
	err := NewClient().PostJSON(context.Background(), "http://unused", make(chan int), nil)
	assert.ErrorContains(t, err, "encode payload")
}
