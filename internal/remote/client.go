// Package remote talks to the remote sharing server's REST API.
//
// REQUEST PIPELINE (every call):
//  1. authenticated calls with an empty token fail with apperror.ErrUnauthenticated
//     before anything touches the network
//  2. the caller's context gets a deadline of Config.Timeout
//  3. the outbound rate limiter is waited on
//  4. the request runs through a circuit breaker; transport failures and 5xx
//     answers count as breaker failures, 4xx answers do not
//  5. non-2xx answers become *apperror.RemoteError, network failures (and an
//     open breaker) become apperror.ErrTransport
//
// Bearer tokens are attached by an oauth2.Transport wrapping the shared
// base transport.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/xid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sakif/keybridge/internal/apperror"
	"github.com/sakif/keybridge/internal/metrics"
)

const (
	breakerName = "remote-api"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL          string // e.g. https://share.example.com
	Version          string // e.g. v1; joined as {BaseURL}/{Version}
	AnalysisEndpoint string // path for snapshot uploads, default /analysis/share
	Timeout          time.Duration
	RateLimit        float64 // requests per second; <= 0 disables limiting
	RateBurst        int
	BreakerFailures  uint32        // consecutive failures that open the breaker
	BreakerTimeout   time.Duration // how long the breaker stays open
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	cfg       Config
	transport http.RoundTripper
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*response]
	logger    *slog.Logger
}

// response is a fully-read HTTP answer.
type response struct {
	status int
	body   []byte
}

// serverFault lets a 5xx answer count as a breaker failure while still
// handing the response back to the caller.
type serverFault struct {
	resp *response
}

func (f *serverFault) Error() string {
	return fmt.Sprintf("remote returned %d", f.resp.status)
}

// New creates a Client. Zero-valued tuning fields get defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AnalysisEndpoint == "" {
		cfg.AnalysisEndpoint = "/analysis/share"
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if v := strings.Trim(cfg.Version, "/"); v != "" {
		base += "/" + v
	}

	c := &Client{
		baseURL:   base,
		cfg:       cfg,
		transport: http.DefaultTransport.(*http.Transport).Clone(),
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return c
}

// BaseURL returns the versioned base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call describes one request.
type call struct {
	op          string // metrics label
	method      string
	path        string
	token       string
	requireAuth bool
	body        any
}

// do runs c through the request pipeline and decodes a 2xx body into out
// (when out is non-nil and the body is non-empty).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	if cl.requireAuth && cl.token == "" {
		return apperror.Unauthenticated("no access token, login first")
	}

	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("remote %s: encoding request body: %w", cl.op, err)
		}
		payload = b
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RemoteRequests.WithLabelValues(cl.op, "rejected").Inc()
		return apperror.Transport(fmt.Sprintf("remote %s: rate limit wait aborted", cl.op), err)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, cl, payload)
	})
	metrics.RemoteRequestDuration.WithLabelValues(cl.op).Observe(time.Since(start).Seconds())

	if err != nil {
		var fault *serverFault
		switch {
		case errors.As(err, &fault):
			resp = fault.resp
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.RemoteRequests.WithLabelValues(cl.op, "rejected").Inc()
			return apperror.Transport("remote service temporarily unavailable", err)
		default:
			metrics.RemoteRequests.WithLabelValues(cl.op, "transport_error").Inc()
			c.logger.Warn("remote call failed",
				slog.String("op", cl.op),
				slog.String("error", err.Error()),
			)
			return apperror.Transport(fmt.Sprintf("remote %s failed: %v", cl.op, err), err)
		}
	}

	if resp.status < 200 || resp.status >= 300 {
		metrics.RemoteRequests.WithLabelValues(cl.op, "remote_error").Inc()
		return newRemoteError(resp)
	}
	metrics.RemoteRequests.WithLabelValues(cl.op, "ok").Inc()

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return malformed(cl.op, resp.body, fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, cl call, payload []byte) (*response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", xid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient(cl.token).Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	resp := &response{status: res.StatusCode, body: data}
	if res.StatusCode >= 500 {
		return resp, &serverFault{resp: resp}
	}
	return resp, nil
}

func (c *Client) httpClient(token string) *http.Client {
	if token == "" {
		return &http.Client{Transport: c.transport}
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
}

// malformed reports a 2xx answer that cannot be used. It matches ErrRemote
// like any other bad answer from the server.
func malformed(op string, body []byte, reason string) *apperror.RemoteError {
	return &apperror.RemoteError{
		StatusCode: http.StatusBadGateway,
		Message:    fmt.Sprintf("%s: %s", op, reason),
		Raw:        string(body),
	}
}

// newRemoteError keeps the body verbatim and, when it is JSON, also parsed.
func newRemoteError(resp *response) *apperror.RemoteError {
	re := &apperror.RemoteError{
		StatusCode: resp.status,
		Raw:        string(resp.body),
	}

	var parsed any
	if err := json.Unmarshal(resp.body, &parsed); err == nil {
		re.Body = parsed
		if m, ok := parsed.(map[string]any); ok {
			for _, field := range []string{"message", "error", "detail"} {
				if s, ok := m[field].(string); ok && s != "" {
					re.Message = s
					break
				}
			}
		}
	}

	return re
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
