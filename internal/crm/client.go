// Package crm talks to the external CRM API and maps its per-instance field
// names onto the canonical entity attributes.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"churn-service/pkg/config"
	"churn-service/pkg/logger"

	"go.uber.org/zap"
)

// Entity names understood by the CRM API.
const (
	EntityCustomers = "customers"
	EntityTickets   = "tickets"
	EntityPayments  = "payments"
)

// Record is one raw CRM row before field mapping.
type Record map[string]any

// Page is one page of CRM records.
type Page struct {
	Records []Record
	HasMore bool
}

// Fetcher is what the synchronizer needs from a CRM client.
type Fetcher interface {
	// FetchPage fetches one page of an entity, optionally limited to records
	// changed since updatedSince. Pages are numbered from 1.
	FetchPage(ctx context.Context, entity string, page int, updatedSince *time.Time) (*Page, error)
}

// Client is an HTTP client for the CRM API. Each tenant gets its own client
// carrying that tenant's base URL and credentials.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

// NewClient creates a CRM client for one tenant's API endpoint.
func NewClient(baseURL, apiKey string, cfg *config.CRMConfig) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageSize:   cfg.PageSize,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// pageResponse covers the response shapes the CRM is known to return: either
// an envelope with a data array or a bare array.
type pageResponse struct {
	Data    []Record `json:"data"`
	Records []Record `json:"records"`
	HasMore bool     `json:"has_more"`
	Error   string   `json:"error"`
}

// FetchPage fetches one page, retrying transient failures a bounded number of
// times before giving up with a PageError naming the entity and page.
func (c *Client) FetchPage(ctx context.Context, entity string, page int, updatedSince *time.Time) (*Page, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("Retrying CRM page fetch",
				zap.String("entity", entity),
				zap.Int("page", page),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, &PageError{Entity: entity, Page: page, Err: ctx.Err()}
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		result, retryable, err := c.fetchOnce(ctx, entity, page, updatedSince)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, &PageError{Entity: entity, Page: page, Err: err}
		}
		lastErr = err
	}

	return nil, &PageError{Entity: entity, Page: page, Err: fmt.Errorf("%w after %d retries: %v", ErrUnavailable, c.maxRetries, lastErr)}
}

func (c *Client) fetchOnce(ctx context.Context, entity string, page int, updatedSince *time.Time) (*Page, bool, error) {
	q := url.Values{}
	q.Set("entity", entity)
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(c.pageSize))
	if updatedSince != nil {
		q.Set("updated_since", updatedSince.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("CRM API returned %d: %s", resp.StatusCode, truncate(body))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("CRM API returned %d: %s", resp.StatusCode, truncate(body))
	}

	return parsePage(body)
}

func parsePage(body []byte) (*Page, bool, error) {
	// Bare array response
	var bare []Record
	if err := json.Unmarshal(body, &bare); err == nil {
		return &Page{Records: bare, HasMore: false}, false, nil
	}

	var envelope pageResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if envelope.Error != "" {
		return nil, false, fmt.Errorf("%w: %s", ErrBadResponse, envelope.Error)
	}

	records := envelope.Data
	if records == nil {
		records = envelope.Records
	}
	return &Page{Records: records, HasMore: envelope.HasMore}, false, nil
}

// TestConnection fetches a single customer page to validate credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.FetchPage(ctx, EntityCustomers, 1, nil)
	return err
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
