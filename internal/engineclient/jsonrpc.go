package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	otelpkg "github.com/ariabot/ariabot/internal/otel"
)

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client is a typed JSON-RPC 2.0 facade over an aria2-compatible download
// engine. All public methods are safe to call from multiple goroutines; a
// semaphore bounds how many requests are in flight at once so a slow engine
// cannot pile up an unbounded number of blocked goroutines.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	sem        *semaphore.Weighted
	nextID     int64
	metrics    *otelpkg.Metrics
	logger     *slog.Logger
}

// Config carries the dial parameters for New.
type Config struct {
	BaseURL        string
	Secret         string
	MaxConcurrent  int64
	RequestTimeout time.Duration
	// Metrics is optional; when set, every call records its duration and
	// any resulting error.
	Metrics *otelpkg.Metrics
	Logger  *slog.Logger
}

// New constructs a Client. A MaxConcurrent <= 0 falls back to 8; a zero
// RequestTimeout falls back to the spec's ~10s soft timeout.
func New(cfg Config) *Client {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(maxConcurrent),
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// call issues one JSON-RPC request, retrying transport failures with
// exponential backoff. A JSON-RPC-level error response is never retried —
// it is a definitive answer from the engine, not a transient condition.
func (c *Client) call(ctx context.Context, method string, params ...any) (result json.RawMessage, err error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.EngineRequestDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(otelpkg.AttrRPCMethod.String(method)))
			if err != nil {
				c.metrics.EngineRequestErrors.Add(ctx, 1, metric.WithAttributes(otelpkg.AttrRPCMethod.String(method)))
			}
		}()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire engine client slot: %w", err)
	}
	defer c.sem.Release(1)

	allParams := make([]any, 0, len(params)+1)
	allParams = append(allParams, "token:"+c.secret)
	allParams = append(allParams, params...)

	operation := func() (jsonRPCResponse, error) {
		resp, err := c.do(ctx, method, allParams)
		if err != nil {
			return jsonRPCResponse{}, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		var connErr *ConnectionError
		if asConnectionError(err, &connErr) {
			return nil, connErr
		}
		return nil, &ConnectionError{Op: method, Err: err}
	}

	if resp.Error != nil {
		if isNotFoundMessage(resp.Error.Message) {
			gid := ""
			if len(params) > 0 {
				if s, ok := params[0].(string); ok {
					gid = s
				}
			}
			return nil, &TaskNotFoundError{GID: gid}
		}
		return nil, &RequestError{Op: method, Code: resp.Error.Code, Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	return resp.Result, nil
}

// do performs a single HTTP round trip. Transport failures are returned
// wrapped so call's retry loop can classify and retry them; they are never
// permanent backoff.Permanent errors since a dead engine may come back.
func (c *Client) do(ctx context.Context, method string, params []any) (jsonRPCResponse, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}

	body, err := json.Marshal(req)
	if err != nil {
		return jsonRPCResponse{}, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return jsonRPCResponse{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return jsonRPCResponse{}, &ConnectionError{Op: method, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return jsonRPCResponse{}, &ConnectionError{Op: method, Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return jsonRPCResponse{}, &ConnectionError{
			Op:  method,
			Err: fmt.Errorf("unexpected status %s", httpResp.Status),
		}
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return jsonRPCResponse{}, backoff.Permanent(&RequestError{Op: method, Err: fmt.Errorf("decode reply: %w", err)})
	}
	return rpcResp, nil
}

func asConnectionError(err error, target **ConnectionError) bool {
	for err != nil {
		if ce, ok := err.(*ConnectionError); ok {
			*target = ce
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// isNotFoundMessage matches the engine's "not found" phrasing for an
// unknown gid, grounded on the upstream client's "Download not found"
// substring check.
func isNotFoundMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not found")
}

