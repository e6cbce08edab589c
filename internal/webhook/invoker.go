package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hooklane/hooklane/internal/config"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

var (
	ErrTimeout     = errors.New("webhook_timeout")
	ErrUnavailable = errors.New("webhook_unavailable")
)

// Result is the outcome of one outbound agent invocation.
type Result struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

func (r *Result) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoker posts an execution payload to an agent's endpoint. It is an
// interface so tests and staging can inject fakes instead of matching URLs.
type Invoker interface {
	Invoke(ctx context.Context, url string, payload json.RawMessage) (*Result, error)
}

type HTTPInvoker struct {
	client  *http.Client
	log     *zap.Logger
	timeout time.Duration
}

func NewHTTPInvoker(cfg config.Config, log *zap.Logger) *HTTPInvoker {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("webhook.invoker"),
		timeout: timeout,
	}
}

// Invoke performs the outbound call. It never runs inside a database
// transaction; billing happens only after it returns.
func (i *HTTPInvoker) Invoke(ctx context.Context, url string, payload json.RawMessage) (*Result, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, ErrUnavailable
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hooklane/1.0")

	start := time.Now()
	resp, err := i.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if isTimeout(err) {
			i.log.Warn("webhook timed out", zap.String("url", url), zap.Duration("after", duration))
			return nil, ErrTimeout
		}
		i.log.Warn("webhook unreachable", zap.String("url", url), zap.Error(err))
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ErrUnavailable
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   duration,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
