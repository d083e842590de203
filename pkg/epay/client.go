package epay

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
	defaultAPIURL               = "https://futoon.org/mapi.php"
	defaultQueryURL             = "https://futoon.org/api.php"
	defaultDevice               = "pc"
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024

	codeSuccess = 1
	// StatusPaid is the order status the query API reports once paid.
	StatusPaid = 1
	// TradeSuccess is the trade_status value of a paid notify.
	TradeSuccess = "TRADE_SUCCESS"
)

var errPIDRequired = errors.New("epay merchant id is required")

// Client calls the gateway's merchant API.
type Client struct {
	httpClient *http.Client
	signer     *Signer
	pid        string
	key        string
	apiURL     string
	queryURL   string
	device     string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithAPIURL(raw string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			c.apiURL = trimmed
		}
	}
}

func WithQueryURL(raw string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			c.queryURL = trimmed
		}
	}
}

func WithDevice(device string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(device); trimmed != "" {
			c.device = trimmed
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewClient(pid, key string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(pid) == "" {
		return nil, errPIDRequired
	}
	signer, err := NewSigner(key)
	if err != nil {
		return nil, err
	}
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		signer:     signer,
		pid:        strings.TrimSpace(pid),
		key:        key,
		apiURL:     defaultAPIURL,
		queryURL:   defaultQueryURL,
		device:     defaultDevice,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Signer exposes the client's signer for notify verification.
func (c *Client) Signer() *Signer {
	return c.signer
}

// CreateOrderRequest describes one payment to open at the gateway.
type CreateOrderRequest struct {
	OutTradeNo string
	Name       string
	Money      decimal.Decimal
	Type       string
	NotifyURL  string
	ReturnURL  string
	ClientIP   string
	Param      string
}

// CreateOrderResult carries the payment handles returned by the gateway.
type CreateOrderResult struct {
	TradeNo   string `json:"trade_no"`
	PayURL    string `json:"payurl,omitempty"`
	QRCode    string `json:"qrcode,omitempty"`
	URLScheme string `json:"urlscheme,omitempty"`
}

// OrderInfo is the gateway's view of a payment.
type OrderInfo struct {
	TradeNo    string          `json:"trade_no"`
	OutTradeNo string          `json:"out_trade_no"`
	Type       string          `json:"type"`
	Name       string          `json:"name"`
	Money      decimal.Decimal `json:"money"`
	Status     int             `json:"status"`
	Param      string          `json:"param"`
	AddTime    string          `json:"addtime"`
	EndTime    string          `json:"endtime"`
}

// Paid reports whether the gateway considers the order settled.
func (o OrderInfo) Paid() bool {
	return o.Status == StatusPaid
}

// CreateOrder posts a signed order to mapi.php. A refusal carries the gateway
// msg as a dependency error; transport failures are REMOTE_UNAVAILABLE.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if strings.TrimSpace(req.OutTradeNo) == "" || strings.TrimSpace(req.Type) == "" || !req.Money.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "out_trade_no, type and money are required")
	}
	params := map[string]string{
		"pid":          c.pid,
		"type":         req.Type,
		"out_trade_no": req.OutTradeNo,
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Name,
		"money":        req.Money.StringFixed(2),
		"clientip":     req.ClientIP,
		"device":       c.device,
	}
	if strings.TrimSpace(req.Param) != "" {
		params["param"] = req.Param
	}
	params[FieldSign] = c.signer.Sign(params)
	params[FieldSignType] = SignTypeMD5

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build create order request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		Code      flexInt `json:"code"`
		Msg       string  `json:"msg"`
		TradeNo   string  `json:"trade_no"`
		PayURL    string  `json:"payurl"`
		QRCode    string  `json:"qrcode"`
		URLScheme string  `json:"urlscheme"`
	}
	if err := c.do(httpReq, "create order", &resp); err != nil {
		return nil, err
	}
	if int(resp.Code) != codeSuccess {
		msg := strings.TrimSpace(resp.Msg)
		if msg == "" {
			msg = "gateway refused the order"
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, msg).
			WithDetails(map[string]any{"gateway_code": int(resp.Code)})
	}
	return &CreateOrderResult{
		TradeNo:   resp.TradeNo,
		PayURL:    resp.PayURL,
		QRCode:    resp.QRCode,
		URLScheme: resp.URLScheme,
	}, nil
}

// QueryOrder looks up a payment by merchant order number. An unknown order is
// NOT_FOUND.
func (c *Client) QueryOrder(ctx context.Context, outTradeNo string) (*OrderInfo, error) {
	if strings.TrimSpace(outTradeNo) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "out_trade_no is required")
	}
	u, err := url.Parse(c.queryURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse query url")
	}
	q := u.Query()
	q.Set("act", "order")
	q.Set("pid", c.pid)
	q.Set("key", c.key)
	q.Set("out_trade_no", outTradeNo)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build query order request")
	}

	var resp struct {
		Code       flexInt         `json:"code"`
		Msg        string          `json:"msg"`
		TradeNo    string          `json:"trade_no"`
		OutTradeNo string          `json:"out_trade_no"`
		Type       string          `json:"type"`
		Name       string          `json:"name"`
		Money      decimal.Decimal `json:"money"`
		Status     flexInt         `json:"status"`
		Param      string          `json:"param"`
		AddTime    string          `json:"addtime"`
		EndTime    string          `json:"endtime"`
	}
	if err := c.do(httpReq, "query order", &resp); err != nil {
		return nil, err
	}
	if int(resp.Code) != codeSuccess {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, strings.TrimSpace(resp.Msg)).
			WithDetails(map[string]any{"out_trade_no": outTradeNo})
	}
	return &OrderInfo{
		TradeNo:    resp.TradeNo,
		OutTradeNo: resp.OutTradeNo,
		Type:       resp.Type,
		Name:       resp.Name,
		Money:      resp.Money,
		Status:     int(resp.Status),
		Param:      resp.Param,
		AddTime:    resp.AddTime,
		EndTime:    resp.EndTime,
	}, nil
}

func (c *Client) do(httpReq *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, fmt.Sprintf("execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s request failed", op))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, fmt.Sprintf("decode %s response", op))
	}
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
