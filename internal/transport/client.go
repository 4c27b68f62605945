// Package transport implements the request execution service used by flow runs.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flow-runner/internal/config"
	"flow-runner/internal/log"
	"flow-runner/internal/models"
	"flow-runner/internal/validator"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const demoLimitMessage = "You have reached the demo limit. Please create an account to unlock unlimited access."

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// DemoCounter tracks how many requests have been made in demo mode. Reserve
// takes one unit of the quota atomically and reports false once limit units
// are taken; Release returns a unit taken by Reserve.
type DemoCounter interface {
	Reserve(ctx context.Context, limit int) (bool, error)
	Release(ctx context.Context) error
}

// URLGuard rejects URLs the service must not call.
type URLGuard func(rawURL string) error

type Client struct {
	httpClient      *http.Client
	limiter         *rate.Limiter
	counter         DemoCounter
	guard           URLGuard
	demoLimit       int
	maxResponseSize int64
	userAgent       string
	logger          *zap.Logger
}

// NewClient builds a client from the request execution settings in cfg.
func NewClient(cfg *config.Config, counter DemoCounter) *Client {
	guard := func(rawURL string) error {
		return validator.ValidateExecutionURL(rawURL, cfg.AllowLocalhost, cfg.AllowPrivateIPs)
	}

	limit := rate.Inf
	if cfg.OutboundRateLimitRPS > 0 {
		limit = rate.Limit(cfg.OutboundRateLimitRPS)
	}

	burst := cfg.OutboundRateLimitBurst
	if burst < 1 {
		burst = 1
	}

	if counter == nil {
		counter = NewMemoryDemoCounter()
	}

	c := &Client{
		limiter:         rate.NewLimiter(limit, burst),
		counter:         counter,
		guard:           guard,
		demoLimit:       cfg.DemoRequestLimit,
		maxResponseSize: cfg.MaxResponseSize,
		userAgent:       cfg.UserAgent,
		logger:          log.Component("RequestService"),
	}
	c.httpClient = &http.Client{
		Timeout: cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			// Validate redirect URL for SSRF
			if err := c.guard(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	return c
}

// Execute performs the request. Network and protocol failures are reported
// in the response's Error field; a returned error means the call could not be
// attempted at all (cancelled context, unavailable demo counter).
func (c *Client) Execute(ctx context.Context, req models.ExecutionRequest,
	mode models.ExecutionMode) (*models.ExecutionResponse, error) {
	if mode == models.ModeDemo {
		ok, err := c.counter.Reserve(ctx, c.demoLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve demo usage: %w", err)
		}
		if !ok {
			return errorResponse(models.ErrorTypeDemoLimitReached, demoLimitMessage, 0), nil
		}
	}

	resp, err := c.send(ctx, req)

	// only requests that got a response count against the demo quota
	if mode == models.ModeDemo && (err != nil || resp.Error != nil) {
		if releaseErr := c.counter.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			c.logger.Warn("Failed to release demo usage", zap.Error(releaseErr))
		}
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, execReq models.ExecutionRequest) (*models.ExecutionResponse, error) {
	method := strings.ToUpper(execReq.Method)
	if !supportedMethods[method] {
		return errorResponse(models.ErrorTypeUnknown, fmt.Sprintf("Unsupported method: %s", execReq.Method), 0), nil
	}

	parsed, err := url.Parse(execReq.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		msg := "missing http or https scheme or host"
		if err != nil {
			msg = err.Error()
		}
		return errorResponse(models.ErrorTypeInvalidURL, fmt.Sprintf(
			"Invalid URL format: %s. Please ensure the protocol (http/https) is correct.", msg), 0), nil
	}

	if err := c.guard(execReq.URL); err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return errorResponse(classify(err), err.Error(), 0), nil
		}
		return errorResponse(models.ErrorTypeInvalidURL, fmt.Sprintf("URL blocked by SSRF protection: %v", err), 0), nil
	}

	var bodyReader io.Reader
	if execReq.Body != nil {
		bodyReader = bytes.NewReader([]byte(*execReq.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, execReq.URL, bodyReader)
	if err != nil {
		return errorResponse(models.ErrorTypeUnknown, fmt.Sprintf("failed to create request: %v", err), 0), nil
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for key, value := range execReq.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctxErr)
		}
		errType := classify(err)
		c.logger.Debug("Request failed", zap.String("url", execReq.URL), zap.String("errorType", string(errType)),
			zap.Error(err))
		return errorResponse(errType, err.Error(), time.Since(start).Milliseconds()), nil
	}
	defer resp.Body.Close()

	// Read response body with size limit
	limitedReader := io.LimitReader(resp.Body, c.maxResponseSize)
	responseBody, err := io.ReadAll(limitedReader)
	if err != nil {
		return errorResponse(models.ErrorTypeUnknown, err.Error(), time.Since(start).Milliseconds()), nil
	}
	duration := time.Since(start)

	// Extract response headers
	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	return &models.ExecutionResponse{
		Status:     resp.StatusCode,
		Headers:    responseHeaders,
		Body:       string(responseBody),
		DurationMs: duration.Milliseconds(),
	}, nil
}

// classify maps a transport failure to its structured error type.
func classify(err error) models.ErrorType {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return models.ErrorTypeTimeout
		}
		return models.ErrorTypeDNS
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return models.ErrorTypeTimeout
	}

	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) || errors.As(err, &invalidCert) {
		return models.ErrorTypeSSL
	}

	return models.ErrorTypeNetwork
}

func errorResponse(errType models.ErrorType, message string, durationMs int64) *models.ExecutionResponse {
	return &models.ExecutionResponse{
		Status:     0,
		Headers:    map[string]string{},
		DurationMs: durationMs,
		Error: &models.ExecutionError{
			ErrorType: errType,
			Message:   message,
		},
	}
}
