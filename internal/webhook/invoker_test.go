package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hooklane/hooklane/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestInvoker(timeout time.Duration) *HTTPInvoker {
	return NewHTTPInvoker(config.Config{WebhookTimeout: timeout}, zap.NewNop())
}

func TestInvokePostsJSONAndReturnsBody(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody = readAll(t, r)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"summary":"done"}`))
	}))
	defer srv.Close()

	invoker := newTestInvoker(5 * time.Second)
	result, err := invoker.Invoke(context.Background(), srv.URL, json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"text":"hi"}`, string(gotBody))

	assert.True(t, result.Success())
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"summary":"done"}`, string(result.Body))
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestInvokeEmptyPayloadSendsEmptyObject(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = string(readAll(t, r))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	invoker := newTestInvoker(5 * time.Second)
	result, err := invoker.Invoke(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", gotBody)
	assert.True(t, result.Success())
}

func TestInvokeNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	invoker := newTestInvoker(5 * time.Second)
	result, err := invoker.Invoke(context.Background(), srv.URL, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
}

func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	invoker := newTestInvoker(50 * time.Millisecond)
	_, err := invoker.Invoke(context.Background(), srv.URL, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInvokeUnreachableHost(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	invoker := newTestInvoker(2 * time.Second)
	_, err := invoker.Invoke(context.Background(), srv.URL, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return body
}
