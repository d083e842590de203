package smmapi

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
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/smmhub-backend/pkg/errors"
)

const (
	defaultBaseURL              = "https://appfuwu.icu/api/v2"
	defaultTimeout              = 30 * time.Second
	responseBodyReadLimit int64 = 1024
)

// The panel rejects requests without a browser-like agent.
const userAgent = "Mozilla/4.0 (compatible; MSIE 5.01; Windows NT 5.0)"

var errAPIKeyRequired = errors.New("smm panel api key is required")

// Client talks to an SMM panel speaking the common v2 form API
// (POST key=..&action=..).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the panel endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a panel client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// AddOrderRequest is one order forwarded to the panel.
type AddOrderRequest struct {
	ServiceID int
	Link      string
	Quantity  int
	Comments  string
}

// Service is one catalogue entry as reported by the panel.
type Service struct {
	ID       int             `json:"service"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
	Min      int             `json:"min"`
	Max      int             `json:"max"`
	Refill   bool            `json:"refill"`
	Cancel   bool            `json:"cancel"`
}

// OrderStatus is the panel's view of a forwarded order.
type OrderStatus struct {
	Charge     decimal.Decimal `json:"charge"`
	StartCount string          `json:"start_count"`
	Status     string          `json:"status"`
	Remains    string          `json:"remains"`
	Currency   string          `json:"currency"`
}

// Balance is the reseller account balance at the panel.
type Balance struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// AddOrder submits an order. A panel-side refusal yields FULFILLMENT_REJECTED;
// transport, timeout and malformed responses yield REMOTE_UNAVAILABLE.
func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "smm panel client not configured")
	}
	if req.ServiceID <= 0 || strings.TrimSpace(req.Link) == "" || req.Quantity <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "service, link and quantity are required")
	}

	form := url.Values{}
	form.Set("service", strconv.Itoa(req.ServiceID))
	form.Set("link", strings.TrimSpace(req.Link))
	form.Set("quantity", strconv.Itoa(req.Quantity))
	if comments := strings.TrimSpace(req.Comments); comments != "" {
		form.Set("comments", comments)
	}

	var resp struct {
		Order flexString `json:"order"`
		Error string     `json:"error"`
	}
	if err := c.call(ctx, "add", form, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", pkgerrors.New(pkgerrors.CodeFulfillmentRejected, resp.Error).
			WithDetails(map[string]any{"provider_error": resp.Error})
	}
	if resp.Order == "" {
		return "", pkgerrors.New(pkgerrors.CodeRemoteUnavailable, "panel response missing order id")
	}
	return string(resp.Order), nil
}

// Services lists the panel catalogue.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "smm panel client not configured")
	}
	var raw []struct {
		ID       flexInt         `json:"service"`
		Name     string          `json:"name"`
		Type     string          `json:"type"`
		Category string          `json:"category"`
		Rate     decimal.Decimal `json:"rate"`
		Min      flexInt         `json:"min"`
		Max      flexInt         `json:"max"`
		Refill   bool            `json:"refill"`
		Cancel   bool            `json:"cancel"`
	}
	if err := c.call(ctx, "services", nil, &raw); err != nil {
		return nil, err
	}
	services := make([]Service, 0, len(raw))
	for _, s := range raw {
		services = append(services, Service{
			ID:       int(s.ID),
			Name:     s.Name,
			Type:     s.Type,
			Category: s.Category,
			Rate:     s.Rate,
			Min:      int(s.Min),
			Max:      int(s.Max),
			Refill:   s.Refill,
			Cancel:   s.Cancel,
		})
	}
	return services, nil
}

// Status fetches the panel status of a previously added order.
func (c *Client) Status(ctx context.Context, externalOrderID string) (*OrderStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "smm panel client not configured")
	}
	trimmed := strings.TrimSpace(externalOrderID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var resp struct {
		Charge     decimal.Decimal `json:"charge"`
		StartCount flexString      `json:"start_count"`
		Status     string          `json:"status"`
		Remains    flexString      `json:"remains"`
		Currency   string          `json:"currency"`
		Error      string          `json:"error"`
	}
	if err := c.call(ctx, "status", url.Values{"order": {trimmed}}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, resp.Error)
	}
	return &OrderStatus{
		Charge:     resp.Charge,
		StartCount: string(resp.StartCount),
		Status:     resp.Status,
		Remains:    string(resp.Remains),
		Currency:   resp.Currency,
	}, nil
}

// Balance returns the reseller balance held at the panel.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "smm panel client not configured")
	}
	var resp struct {
		Balance
		Error string `json:"error"`
	}
	if err := c.call(ctx, "balance", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, resp.Error)
	}
	return &resp.Balance, nil
}

func (c *Client) call(ctx context.Context, action string, form url.Values, out any) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("key", c.apiKey)
	form.Set("action", action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", action))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, fmt.Sprintf("execute %s request", action))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s request failed", action))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, fmt.Sprintf("decode %s response", action))
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(raw, `"`))
	return nil
}

// flexInt accepts a JSON integer, optionally quoted.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse integer %q: %w", raw, err)
	}
	*f = flexInt(n)
	return nil
}
