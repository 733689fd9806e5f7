// Package client talks to the OSM API 0.6: map downloads, changeset
// lifecycle, uploads and user details. All requests are rate limited and
// traced, and authenticated calls draw tokens from a TokenProvider.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/osm"
	"github.com/osmedit/osmedit/pkg/osmxml"
	"github.com/osmedit/osmedit/pkg/tracing"
)

const (
	// ProductionBaseURL is the live OSM API.
	ProductionBaseURL = "https://api.openstreetmap.org"

	// DevBaseURL is the sandbox API for testing edits.
	DevBaseURL = "https://master.apis.dev.openstreetmap.org"

	// UserAgent identifies this client per the OSM API usage policy.
	UserAgent = "osmedit/1.0 (https://github.com/osmedit/osmedit)"

	apiPrefix = "/api/0.6"
)

// TokenProvider supplies bearer tokens for authenticated endpoints.
type TokenProvider interface {
	// AccessToken returns a valid token, refreshing if necessary. It
	// returns an error satisfying errors.Is(err, core.ErrAuthRequired)
	// when the user has not authorized the application.
	AccessToken(ctx context.Context) (string, error)
}

// Client is a rate-limited OSM API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenProvider
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTokenProvider installs the token source for authenticated endpoints.
func WithTokenProvider(tp TokenProvider) Option {
	return func(c *Client) { c.tokens = tp }
}

// New creates a client against the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: core.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) wait(ctx context.Context, endpoint string) error {
	if !c.limiter.Allow() {
		hookRateLimit(endpoint)
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return core.ErrAuthRequired
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// MapData downloads all elements inside the bbox and returns the raw XML
// payload. An object-limit refusal (HTTP 400 or 509) is reported as
// core.ErrObjectLimit so callers can shrink and retry.
func (c *Client) MapData(ctx context.Context, bbox geo.BoundingBox) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.map_data",
		trace.WithAttributes(attribute.String(tracing.AttrFetchBbox, bbox.Query())))
	defer span.End()

	if !bbox.Valid() {
		return nil, core.NewError(core.ErrInvalidBbox,
			fmt.Sprintf("invalid bbox %q", bbox.Query()))
	}

	const endpoint = "map"
	if err := c.wait(ctx, endpoint); err != nil {
		return nil, err
	}
	hookRequest(endpoint)
	start := time.Now()

	url := fmt.Sprintf("%s%s/map?bbox=%s", c.baseURL, apiPrefix, bbox.Query())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.NewError(core.ErrInternalError, err.Error())
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := core.DoWithRetry(ctx, req, c.httpClient)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) && core.IsObjectLimit(coreErr.Status) {
			hookError(endpoint, "object_limit")
			span.SetStatus(codes.Error, "object limit")
			return nil, core.NewError(core.ErrObjectLimitCode,
				"too many objects in requested bbox").WithBody(coreErr.Body)
		}
		hookError(endpoint, "request")
		return nil, err
	}
	defer resp.Body.Close()
	hookResponse(endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		hookError(endpoint, "read")
		return nil, core.NewError(core.ErrNetworkError,
			fmt.Sprintf("reading map response: %v", err))
	}
	span.SetAttributes(attribute.Int("osm.map.bytes", len(data)))
	return data, nil
}

// RawQuery downloads an OSM XML document from an arbitrary URL, such as an
// Overpass query result. No authorization is attached.
func (c *Client) RawQuery(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.raw_query")
	defer span.End()

	const endpoint = "raw_query"
	if err := c.wait(ctx, endpoint); err != nil {
		return nil, err
	}
	hookRequest(endpoint)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.NewError(core.ErrInvalidInput, err.Error())
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := core.DoWithRetry(ctx, req, c.httpClient)
	if err != nil {
		hookError(endpoint, "request")
		return nil, err
	}
	defer resp.Body.Close()
	hookResponse(endpoint, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		hookError(endpoint, "read")
		return nil, core.NewError(core.ErrNetworkError,
			fmt.Sprintf("reading query response: %v", err))
	}
	return data, nil
}

// OpenChangeset creates a changeset on the server and returns its id. The
// response body is the id as plain text.
func (c *Client) OpenChangeset(ctx context.Context, comment string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.changeset_create")
	defer span.End()

	const endpoint = "changeset_create"
	if err := c.wait(ctx, endpoint); err != nil {
		return 0, err
	}

	var body bytes.Buffer
	if err := osmxml.EncodeChangesetCreate(&body, comment); err != nil {
		return 0, core.NewError(core.ErrInternalError, err.Error())
	}
	payload := body.Bytes()

	hookRequest(endpoint)
	start := time.Now()
	resp, err := core.WithRetryFactory(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut,
			c.baseURL+apiPrefix+"/changeset/create", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	}, c.httpClient, core.DefaultRetryOptions)
	if err != nil {
		hookError(endpoint, "request")
		return 0, err
	}
	defer resp.Body.Close()
	hookResponse(endpoint, resp.StatusCode, time.Since(start))

	text, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, core.NewError(core.ErrNetworkError, err.Error())
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(text)), 10, 64)
	if err != nil {
		return 0, core.NewError(core.ErrMalformedResponse,
			fmt.Sprintf("changeset create returned %q", strings.TrimSpace(string(text))))
	}
	span.SetAttributes(attribute.Int64(tracing.AttrChangesetID, id))
	return id, nil
}

// UploadChangeset posts the plan as an osmChange document and returns the
// server's id and version rewrites. On rejection the server's explanation
// travels back verbatim in the error body.
func (c *Client) UploadChangeset(ctx context.Context, changesetID int64, plan osm.ChangePlan) ([]osmxml.DiffEntry, error) {
	creates, modifies, deletes := plan.Counts()
	ctx, span := tracing.StartSpan(ctx, "osm.changeset_upload",
		trace.WithAttributes(
			attribute.Int64(tracing.AttrChangesetID, changesetID),
			attribute.Int(tracing.AttrChangesetCreates, creates),
			attribute.Int(tracing.AttrChangesetModify, modifies),
			attribute.Int(tracing.AttrChangesetDeletes, deletes),
		))
	defer span.End()

	const endpoint = "changeset_upload"
	if err := c.wait(ctx, endpoint); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := osmxml.EncodeChange(&body, plan); err != nil {
		return nil, core.NewError(core.ErrInternalError, err.Error())
	}
	payload := body.Bytes()

	hookRequest(endpoint)
	start := time.Now()
	url := fmt.Sprintf("%s%s/changeset/%d/upload", c.baseURL, apiPrefix, changesetID)
	resp, err := core.WithRetryFactory(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	}, c.httpClient, core.DefaultRetryOptions)
	if err != nil {
		hookError(endpoint, "request")
		span.SetStatus(codes.Error, "upload rejected")
		return nil, err
	}
	defer resp.Body.Close()
	hookResponse(endpoint, resp.StatusCode, time.Since(start))

	entries, err := osmxml.DecodeDiffResult(resp.Body)
	if err != nil {
		return nil, core.NewError(core.ErrMalformedResponse, err.Error())
	}
	return entries, nil
}

// CloseChangeset closes a changeset. The server closes abandoned
// changesets on its own, so callers treat failures as advisory.
func (c *Client) CloseChangeset(ctx context.Context, changesetID int64) error {
	ctx, span := tracing.StartSpan(ctx, "osm.changeset_close",
		trace.WithAttributes(attribute.Int64(tracing.AttrChangesetID, changesetID)))
	defer span.End()

	const endpoint = "changeset_close"
	if err := c.wait(ctx, endpoint); err != nil {
		return err
	}
	hookRequest(endpoint)

	url := fmt.Sprintf("%s%s/changeset/%d/close", c.baseURL, apiPrefix, changesetID)
	resp, err := core.WithRetryFactory(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	}, c.httpClient, core.DefaultRetryOptions)
	if err != nil {
		hookError(endpoint, "request")
		return err
	}
	resp.Body.Close()
	return nil
}

// UserInfo identifies the authorized user.
type UserInfo struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	AccountAge  string `json:"account_created"`
	ImageURL    string `json:"-"`
}

// UserDetails fetches the authorized user's account details.
func (c *Client) UserDetails(ctx context.Context) (*UserInfo, error) {
	ctx, span := tracing.StartSpan(ctx, "osm.user_details")
	defer span.End()

	const endpoint = "user_details"
	if err := c.wait(ctx, endpoint); err != nil {
		return nil, err
	}
	hookRequest(endpoint)
	start := time.Now()

	resp, err := core.WithRetryFactory(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet,
			c.baseURL+apiPrefix+"/user/details.json", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
		return req, nil
	}, c.httpClient, core.DefaultRetryOptions)
	if err != nil {
		hookError(endpoint, "request")
		return nil, err
	}
	defer resp.Body.Close()
	hookResponse(endpoint, resp.StatusCode, time.Since(start))

	return decodeUserDetails(resp.Body)
}
