// Package client is a typed wrapper over the transfer server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"go-file-transfer/internal/logger"
	"go-file-transfer/internal/model"
	"go-file-transfer/pkg/apierror"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTimeout  = 120 * time.Second
	DefaultRetryMax       = 3
)

type Config struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	RetryMax       int
	Logger         *slog.Logger
	// Transport overrides the underlying round tripper, mostly for tests.
	Transport http.RoundTripper
}

// Client talks to /api/v1. Idempotent reads go through a retrying client;
// everything that changes server state is sent exactly once.
type Client struct {
	baseURL        string
	token          string
	reads          *http.Client
	writes         *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	log            *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.BaseURL)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = logger.RetryLogger{Logger: log}
	retryClient.HTTPClient = &http.Client{Transport: transport}
	// Hand non-2xx answers back to the envelope decoder instead of a
	// "giving up" error once retries are exhausted.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:        base.String(),
		token:          cfg.Token,
		reads:          retryClient.StandardClient(),
		writes:         &http.Client{Transport: transport},
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
		log:            log,
	}, nil
}

// BaseURL returns the server root the client was configured with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

// StatusOf returns the HTTP status carried by an API error, or 0 when err did
// not come from a server answer.
func StatusOf(err error) int {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus
	}
	return 0
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, httpClient *http.Client, method string, path string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return apierror.New("HTTP_ERROR", http.StatusText(resp.StatusCode), strings.TrimSpace(string(raw)), resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		if env.Error == nil {
			return apierror.New("HTTP_ERROR", http.StatusText(resp.StatusCode), "", resp.StatusCode)
		}
		return apierror.New(env.Error.Code, env.Error.Message, env.Error.Details, resp.StatusCode)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
