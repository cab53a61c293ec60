// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/github-monitor/lib/clock"
)

// githubAPIVersion is the GitHub REST API version header. Pinning the
// version ensures consistent behavior as GitHub evolves the API.
const githubAPIVersion = "2022-11-28"

// defaultBaseURL is the base URL for the public GitHub API.
const defaultBaseURL = "https://api.github.com"

// maxResponseSize bounds API response body reads: 256 MB. Exists
// solely to prevent a pathological response from exhausting memory;
// legitimate responses are orders of magnitude smaller.
const maxResponseSize int64 = 256 << 20

// Config holds configuration for creating a GitHub API Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// "https://api.github.com". Must use HTTPS.
	BaseURL string

	// Token is a personal access token or fine-grained token.
	// Required.
	Token string

	// HTTPClient is used for all HTTP requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Clock provides time operations. Defaults to clock.Real().
	// Inject clock.Fake() in tests for deterministic behavior.
	Clock clock.Clock

	// Logger is used for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a typed GitHub REST API client with automatic
// authentication, rate limiting, pagination, ETag caching, and
// structured error handling. The monitor uses only list endpoints,
// so the client is read-only.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authHeader string
	rateLimit  *rateLimitTracker
	etagCache  *etagCache
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a GitHub API client from the given configuration.
// Returns an error if the configuration is invalid (missing token,
// non-HTTPS URL).
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	// Enforce HTTPS.
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}

	if config.Token == "" {
		return nil, fmt.Errorf("github: no authentication configured (set Token)")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		authHeader: "Bearer " + config.Token,
		rateLimit:  newRateLimitTracker(clk),
		etagCache:  newETagCache(),
		clock:      clk,
		logger:     logger,
	}, nil
}

// do executes an authenticated GET against a path relative to the base
// URL. Handles rate limit waiting, ETag caching, and error parsing.
// Returns the response body as raw bytes. On non-2xx responses,
// returns an *APIError.
func (client *Client) do(ctx context.Context, path string) ([]byte, error) {
	return client.doWithRetry(ctx, path, false)
}

// doWithRetry is the internal implementation of do with a retry flag
// to prevent infinite recursion on persistent rate limiting.
func (client *Client) doWithRetry(ctx context.Context, path string, isRetry bool) ([]byte, error) {
	url := client.baseURL + path
	response, err := client.doRaw(ctx, url)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	// Handle 304 Not Modified — return cached body.
	if response.StatusCode == http.StatusNotModified {
		cached := client.etagCache.body(url)
		if cached != nil {
			return cached, nil
		}
		// Cache miss on 304 — should not happen, but fall through to
		// read the (empty) response body rather than failing silently.
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	// Handle non-2xx responses.
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		// Check for rate limit — attempt one retry after backoff.
		if !isRetry && (response.StatusCode == 429 || (response.StatusCode == 403 && isRateLimitMessage(string(body)))) {
			retryDuration := client.rateLimit.retryAfter(response.Header)
			if retryDuration > 0 {
				client.logger.Info("rate limited, backing off",
					"duration", retryDuration,
					"path", path,
				)

				select {
				case <-client.clock.After(retryDuration):
				case <-ctx.Done():
					return nil, ctx.Err()
				}

				return client.doWithRetry(ctx, path, true)
			}
		}

		return nil, parseAPIErrorFromBody(response.StatusCode, body)
	}

	// Cache ETag for successful responses.
	if etag := response.Header.Get("ETag"); etag != "" {
		client.etagCache.put(url, etag, body)
	}

	return body, nil
}

// doRaw executes a GET request with authentication and rate limit
// waiting, but without response parsing. Returns the raw
// *http.Response; the caller is responsible for closing the body.
//
// This is used by both do() (for standard requests) and PageIterator
// (which needs access to the Link header before parsing the body).
func (client *Client) doRaw(ctx context.Context, url string) (*http.Response, error) {
	// Preemptive rate limit check.
	if err := client.rateLimit.wait(ctx); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	request.Header.Set("Authorization", client.authHeader)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", githubAPIVersion)

	// ETag for conditional requests.
	if etag := client.etagCache.get(url); etag != "" {
		request.Header.Set("If-None-Match", etag)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: GET %s: %w", url, err)
	}

	// Update rate limit tracker from every response.
	client.rateLimit.update(response.Header)

	return response, nil
}

// get executes a GET request and decodes the JSON response into result.
func (client *Client) get(ctx context.Context, path string, result any) error {
	body, err := client.do(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, result)
}
