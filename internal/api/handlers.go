package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"shadowbeta/internal/backtest"
	"shadowbeta/internal/cache"
	"shadowbeta/internal/execution"
	"shadowbeta/internal/markethours"
	"shadowbeta/internal/model"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 500
	defaultOrdersLimit = 50
)

// statusFor maps an error category onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.String("err", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error(), "category": model.Category(err)})
}

func (h *handlers) invalid(c *gin.Context, msg string) {
	h.fail(c, fmt.Errorf("%w: %s", model.ErrInvalidRequest, msg))
}

func queryLimit(c *gin.Context, def, max int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

// ── Stocks ──

func (h *handlers) scan(c *gin.Context) {
	req := model.DefaultScanRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.invalid(c, err.Error())
		return
	}
	res, err := h.Scanner.Scan(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) fastScan(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scanner.FastScan(c.Request.Context()))
}

func (h *handlers) getStock(c *gin.Context) {
	stock, err := h.Scanner.GetStock(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

type batchRequest struct {
	Tickers []string `json:"tickers"`
}

func (h *handlers) batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.invalid(c, err.Error())
		return
	}
	if len(req.Tickers) == 0 {
		h.invalid(c, "tickers is required")
		return
	}
	stocks := h.Scanner.Batch(c.Request.Context(), req.Tickers)
	c.JSON(http.StatusOK, gin.H{
		"stocks":    stocks,
		"requested": len(req.Tickers),
		"returned":  len(stocks),
	})
}

// ── Runner ──

func (h *handlers) startRunner(c *gin.Context) {
	status := h.Runner.Start(h.RunnerContext)
	h.log.Info("runner start requested", slog.String("status", status))
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *handlers) stopRunner(c *gin.Context) {
	status := h.Runner.Stop()
	h.log.Info("runner stop requested", slog.String("status", status))
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *handlers) runnerStatus(c *gin.Context) {
	positions := h.Runner.Positions()
	list := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		list = append(list, p)
	}
	c.JSON(http.StatusOK, gin.H{
		"active":    h.Runner.Active(),
		"paper":     h.Runner.Paper(),
		"positions": list,
		"pnl":       h.Runner.PnL().Summary(nil),
	})
}

// ── Backtest ──

func (h *handlers) backtest(c *gin.Context) {
	var st model.Strategy
	if err := c.ShouldBindJSON(&st); err != nil {
		h.invalid(c, err.Error())
		return
	}
	mode, err := backtest.ParseMode(c.Query("mode"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(st.WithDefaults().Symbols) == 0 {
		h.invalid(c, "strategy has no symbols")
		return
	}
	res, err := h.Backtester.Run(c.Request.Context(), st, mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ── Strategies ──

func (h *handlers) listStrategies(c *gin.Context) {
	list, err := h.Strategies.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (h *handlers) upsertStrategy(c *gin.Context) {
	var st model.Strategy
	if err := c.ShouldBindJSON(&st); err != nil {
		h.invalid(c, err.Error())
		return
	}
	saved, err := h.Strategies.Upsert(c.Request.Context(), st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *handlers) deleteStrategy(c *gin.Context) {
	if err := h.Strategies.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) trades(c *gin.Context) {
	limit, ok := queryLimit(c, defaultTradesLimit, maxTradesLimit)
	if !ok {
		h.invalid(c, "limit must be a positive integer")
		return
	}
	if h.Trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []any{}})
		return
	}
	trades, err := h.Trades.Trades(c.Request.Context(), execution.TradeQuery{
		StrategyID: c.Query("strategy_id"),
		Symbol:     c.Query("symbol"),
		Limit:      limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// ── Broker ──

func (h *handlers) brokerUnavailable(c *gin.Context) bool {
	if h.Broker != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broker not configured"})
	return true
}

func (h *handlers) account(c *gin.Context) {
	if h.brokerUnavailable(c) {
		return
	}
	acct, err := h.Broker.Account(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h *handlers) orders(c *gin.Context) {
	if h.brokerUnavailable(c) {
		return
	}
	limit, ok := queryLimit(c, defaultOrdersLimit, maxTradesLimit)
	if !ok {
		h.invalid(c, "limit must be a positive integer")
		return
	}
	orders, err := h.Broker.ListOrders(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// ── Admin ──

type clearRequest struct {
	Name string `json:"name" form:"name"`
}

func (h *handlers) clearCache(c *gin.Context) {
	var req clearRequest
	_ = c.ShouldBindQuery(&req)
	if req.Name == "" && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.invalid(c, err.Error())
			return
		}
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" || name == "all" {
		h.Caches.ClearAll(c.Request.Context())
		h.log.Info("all caches cleared")
		c.JSON(http.StatusOK, gin.H{"cleared": "all"})
		return
	}
	if err := h.Caches.Clear(c.Request.Context(), cache.Name(name)); err != nil {
		if errors.Is(err, cache.ErrUnknownCache) {
			h.invalid(c, fmt.Sprintf("unknown cache %q", name))
			return
		}
		h.fail(c, err)
		return
	}
	h.log.Info("cache cleared", slog.String("cache", name))
	c.JSON(http.StatusOK, gin.H{"cleared": name})
}

func (h *handlers) marketStatus(c *gin.Context) {
	now := h.Now()
	c.JSON(http.StatusOK, gin.H{
		"open":      markethours.IsMarketOpen(now),
		"status":    markethours.StatusString(now),
		"next_open": markethours.NextOpen(now),
	})
}
