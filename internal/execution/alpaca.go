// Package execution places runner orders with a broker, or simulates them,
// and journals the resulting fills.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shadowbeta/internal/model"
)

// Alpaca trading API hosts.
const (
	AlpacaPaperURL = "https://paper-api.alpaca.markets"
	AlpacaLiveURL  = "https://api.alpaca.markets"
)

var alpacaRoutes = map[string]string{
	"orders":  "/v2/orders",
	"account": "/v2/account",
}

// AlpacaConfig holds the API credentials.
type AlpacaConfig struct {
	KeyID     string
	SecretKey string
	BaseURL   string // default: AlpacaPaperURL
	Timeout   time.Duration
}

// Alpaca is a REST client for the Alpaca trading API. It implements
// model.Broker.
type Alpaca struct {
	keyID      string
	secretKey  string
	baseURL    string
	paper      bool
	httpClient *http.Client
	log        *slog.Logger
}

// NewAlpaca creates the client. Key and secret are required.
func NewAlpaca(cfg AlpacaConfig) (*Alpaca, error) {
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: alpaca key id and secret are required", model.ErrInvalidRequest)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = AlpacaPaperURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Alpaca{
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		baseURL:    base,
		paper:      strings.Contains(base, "paper"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        slog.Default().With("component", "alpaca"),
	}, nil
}

// Paper reports whether the client points at the paper trading host.
func (a *Alpaca) Paper() bool { return a.paper }

type alpacaOrder struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Symbol      string    `json:"symbol"`
	Qty         string    `json:"qty"`
	Side        string    `json:"side"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (o alpacaOrder) result(paper bool) model.OrderResult {
	var qty int64
	if d, err := decimal.NewFromString(o.Qty); err == nil {
		qty = d.IntPart()
	}
	return model.OrderResult{
		ID:          o.ID,
		Status:      o.Status,
		Symbol:      o.Symbol,
		Qty:         qty,
		Side:        model.Side(o.Side),
		Paper:       paper,
		SubmittedAt: o.SubmittedAt,
	}
}

type alpacaAccount struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
}

// SubmitOrder places a market order.
func (a *Alpaca) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if req.Symbol == "" || req.Qty <= 0 {
		return model.OrderResult{}, fmt.Errorf("%w: order needs a symbol and positive qty", model.ErrInvalidRequest)
	}
	if req.TimeInForce == "" {
		req.TimeInForce = model.TIFDay
	}
	body := map[string]any{
		"symbol":        strings.ToUpper(req.Symbol),
		"qty":           strconv.FormatInt(req.Qty, 10),
		"side":          string(req.Side),
		"type":          "market",
		"time_in_force": req.TimeInForce,
	}
	var out alpacaOrder
	if err := a.do(ctx, http.MethodPost, "orders", nil, body, &out); err != nil {
		return model.OrderResult{}, err
	}
	a.log.Info("order submitted", "symbol", out.Symbol, "side", out.Side, "qty", out.Qty, "id", out.ID)
	return out.result(a.paper), nil
}

// Account returns the account summary.
func (a *Alpaca) Account(ctx context.Context) (model.Account, error) {
	var acct alpacaAccount
	if err := a.do(ctx, http.MethodGet, "account", nil, nil, &acct); err != nil {
		return model.Account{}, err
	}
	return model.Account{
		ID:          acct.ID,
		Status:      acct.Status,
		Currency:    acct.Currency,
		Cash:        acct.Cash,
		BuyingPower: acct.BuyingPower,
		Equity:      acct.Equity,
		Paper:       a.paper,
	}, nil
}

// ListOrders returns the most recent orders, newest first.
func (a *Alpaca) ListOrders(ctx context.Context, limit int) ([]model.OrderResult, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("status", "all")
	q.Set("direction", "desc")
	q.Set("limit", strconv.Itoa(limit))

	var raw []alpacaOrder
	if err := a.do(ctx, http.MethodGet, "orders", q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]model.OrderResult, len(raw))
	for i, o := range raw {
		out[i] = o.result(a.paper)
	}
	return out, nil
}

func (a *Alpaca) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("APCA-API-KEY-ID", a.keyID)
	h.Set("APCA-API-SECRET-KEY", a.secretKey)
	return h
}

// do sends one request. Transport failures, non-2xx statuses and bad bodies
// are all reported as model.ErrExternal.
func (a *Alpaca) do(ctx context.Context, method, route string, query url.Values, params any, out any) error {
	uri, ok := alpacaRoutes[route]
	if !ok {
		return fmt.Errorf("unknown route: %s", route)
	}
	reqURL := a.baseURL + uri
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header = a.headers()

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: alpaca %s %s: %w", model.ErrExternal, method, uri, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: alpaca read body: %w", model.ErrExternal, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return fmt.Errorf("%w: alpaca %s %s: status %d: %s", model.ErrExternal, method, uri, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: couldn't parse alpaca response: %w", model.ErrExternal, err)
	}
	return nil
}
