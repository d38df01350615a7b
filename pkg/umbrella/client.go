package umbrella

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/engine"
)

const tagColumnPrefix = "customtags:"

// Config holds client settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.umbrellacost.example.
	BaseURL string

	// LoginKey is exchanged for a bearer token.
	LoginKey string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// MaxRetries bounds retry attempts per request. Zero means 4.
	MaxRetries int

	Logger zerolog.Logger
}

// Client talks to the Umbrella API. It is safe for concurrent use;
// token refresh is serialized internally.
type Client struct {
	baseURL    string
	loginKey   string
	httpClient *http.Client
	maxRetries int
	logger     zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a client from config.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		loginKey:   cfg.LoginKey,
		httpClient: httpClient,
		maxRetries: maxRetries,
		logger:     cfg.Logger.With().Str("component", "umbrella-client").Logger(),
	}
}

// Authenticate exchanges the login key for a bearer token. It is a
// no-op while the current token is still valid.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	body, err := json.Marshal(map[string]string{"loginKey": c.loginKey})
	if err != nil {
		return engine.NewPermanentError("failed to encode auth request", err)
	}

	var auth struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/auth/token", "application/json", body, "", &auth)
	if err != nil {
		return err
	}

	token := auth.AccessToken
	if token == "" {
		token = auth.Token
	}
	if token == "" {
		return engine.NewPermanentError("auth response contained no token", nil).
			WithOperation("authenticate")
	}

	// Tokens typically last an hour; refresh five minutes early.
	expiresIn := auth.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3300
	}
	c.token = token
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)

	c.logger.Info().Time("expiry", c.tokenExpiry).Msg("authenticated")
	return nil
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
}

// doAuthed performs a bearer-authenticated request. Tokens can expire
// in the middle of a long run; a 401 triggers one token refresh and a
// single replay before the error stands.
func (c *Client) doAuthed(ctx context.Context, method, endpoint, contentType string, body []byte, out any) error {
	err := c.doJSON(ctx, method, endpoint, contentType, body, c.bearer(), out)
	if !isUnauthorized(err) {
		return err
	}

	c.logger.Info().Str("endpoint", endpoint).Msg("token rejected, re-authenticating")
	c.invalidateToken()
	if aerr := c.Authenticate(ctx); aerr != nil {
		return aerr
	}
	return c.doJSON(ctx, method, endpoint, contentType, body, c.bearer(), out)
}

func isUnauthorized(err error) bool {
	var e *engine.EngineError
	return errors.As(err, &e) && e.Code == engine.ErrCodeUnauthorized
}

// ListAccounts fetches the cloud accounts visible to this login.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var raw json.RawMessage
	err := c.doAuthed(ctx, http.MethodGet, c.baseURL+"/accounts", "", nil, &raw)
	if err != nil {
		return nil, err
	}

	// The endpoint returns either a bare list or {"accounts": [...]}.
	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err == nil {
		return accounts, nil
	}
	var wrapped struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, engine.NewPermanentError("failed to decode accounts response", err)
	}
	return wrapped.Accounts, nil
}

// FetchResources retrieves one page of the resource export.
func (c *Client) FetchResources(ctx context.Context, q ResourceQuery) (ResourcePage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 1000
	}

	params := url.Values{}
	params.Set("startDate", q.StartDate)
	params.Set("endDate", q.EndDate)
	params.Set("isK8S", "0")
	params.Set("granLevel", "week")
	params.Add("columns", "resourceid")
	params.Add("columns", "linkedaccid")
	params.Add("columns", "payeraccount")
	for _, key := range q.TagKeys {
		params.Add("columns", tagColumnPrefix+key)
	}
	params.Add("columns", "costType")
	params.Add("columns", "isUnblended")
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	params.Set("page", strconv.Itoa(q.Page))

	if len(q.FilterDimensions) > 0 {
		parts := make([]string, len(q.FilterDimensions))
		for i, dim := range q.FilterDimensions {
			parts[i] = dim + ": no_tag"
		}
		params.Set("governance_tags_keys", strings.Join(parts, ","))
	}

	endpoint := fmt.Sprintf("%s/exports/resources/%s?%s",
		c.baseURL, url.PathEscape(q.AccountKey), params.Encode())

	var raw json.RawMessage
	if err := c.doAuthed(ctx, http.MethodGet, endpoint, "", nil, &raw); err != nil {
		return ResourcePage{}, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return ResourcePage{}, err
	}

	page := ResourcePage{
		Page:    q.Page,
		HasMore: len(rows) == q.PageSize,
	}
	for _, row := range rows {
		page.Resources = append(page.Resources, rowToResource(row))
	}

	c.logger.Debug().
		Str("account", q.AccountKey).
		Int("page", q.Page).
		Int("rows", len(rows)).
		Msg("fetched resource page")

	return page, nil
}

// decodeRows accepts the three shapes the export endpoint produces: a
// bare list, {"data": [...]} or {"resources": [...]}.
func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Data      []map[string]any `json:"data"`
		Resources []map[string]any `json:"resources"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, engine.NewPermanentError("failed to decode export response", err)
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	return wrapped.Resources, nil
}

// rowToResource maps an export row to a Resource. Tag columns arrive
// prefixed "customtags:"; empty tag values are treated as absent.
func rowToResource(row map[string]any) engine.Resource {
	res := engine.Resource{Tags: make(map[string]string)}
	for k, v := range row {
		val, _ := v.(string)
		switch {
		case k == "resourceid":
			res.ID = val
		case k == "linkedaccid":
			res.AccountID = PadAccountID(val)
		case k == "payeraccount":
			res.PayerAccount = val
		case strings.HasPrefix(k, tagColumnPrefix):
			if val != "" {
				res.Tags[strings.TrimPrefix(k, tagColumnPrefix)] = val
			}
		}
	}
	return res
}

// UploadVirtualTags posts a CSV of virtual tag assignments and returns
// the import job ID.
func (c *Client) UploadVirtualTags(ctx context.Context, accountKey string, csvBody []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/imports/vtags/%s", c.baseURL, url.PathEscape(accountKey))

	var result struct {
		ImportID string `json:"importId"`
		ID       string `json:"id"`
	}
	err := c.doAuthed(ctx, http.MethodPost, endpoint, "text/csv", csvBody, &result)
	if err != nil {
		return "", err
	}

	importID := result.ImportID
	if importID == "" {
		importID = result.ID
	}
	return importID, nil
}

// GetImportStatus fetches the state of an import job.
func (c *Client) GetImportStatus(ctx context.Context, accountKey, importID string) (ImportStatus, error) {
	endpoint := fmt.Sprintf("%s/imports/vtags/%s/%s/status",
		c.baseURL, url.PathEscape(accountKey), url.PathEscape(importID))

	var status ImportStatus
	if err := c.doAuthed(ctx, http.MethodGet, endpoint, "", nil, &status); err != nil {
		return ImportStatus{}, err
	}
	if status.ImportID == "" {
		status.ImportID = importID
	}
	return status, nil
}

// WaitForImport polls until the import reaches a terminal state or the
// context expires.
func (c *Client) WaitForImport(ctx context.Context, accountKey, importID string, pollInterval time.Duration) (ImportStatus, error) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetImportStatus(ctx, accountKey, importID)
		if err != nil && !engine.IsRetryable(err) {
			return ImportStatus{}, err
		}
		if err == nil && status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return ImportStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// doJSON performs a request with retries and decodes the JSON response
// into out. A nil out discards the body.
func (c *Client) doJSON(ctx context.Context, method, endpoint, contentType string, body []byte, bearer string, out any) error {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(engine.NewPermanentError("failed to build request", err))
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, engine.NewTransientError("request failed", err).WithOperation(method + " " + endpoint)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, engine.NewTransientError("failed to read response", err)
		}

		if err := classifyStatus(resp, respBody); err != nil {
			if !engine.IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return respBody, nil
	}

	respBody, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries)),
	)
	if err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return engine.NewPermanentError("failed to decode response", err).
			WithOperation(method + " " + endpoint)
	}
	return nil
}

// classifyStatus maps HTTP status codes to error classes.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return engine.NewPermanentError(
			fmt.Sprintf("unauthorized (%d): %s", resp.StatusCode, truncate(body, 200)), nil,
		).WithCode(engine.ErrCodeUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewThrottledError(
			fmt.Sprintf("rate limited (%d)", resp.StatusCode), nil,
		).WithCode(engine.ErrCodeRateLimited)
	case resp.StatusCode >= 500:
		return engine.NewTransientError(
			fmt.Sprintf("server error (%d): %s", resp.StatusCode, truncate(body, 200)), nil,
		)
	default:
		return engine.NewPermanentError(
			fmt.Sprintf("request rejected (%d): %s", resp.StatusCode, truncate(body, 200)), nil,
		)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
