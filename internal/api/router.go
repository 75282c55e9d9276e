// Package api exposes the dashboard HTTP surface on gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shadowbeta/internal/backtest"
	"shadowbeta/internal/cache"
	"shadowbeta/internal/execution"
	"shadowbeta/internal/model"
	"shadowbeta/internal/portfolio"
)

// StockScanner is the scanner surface the handlers use.
type StockScanner interface {
	Scan(ctx context.Context, req model.ScanRequest) (model.ScanResult, error)
	FastScan(ctx context.Context) model.FastScanResult
	GetStock(ctx context.Context, ticker string) (model.CandidateStock, error)
	Batch(ctx context.Context, tickers []string) []model.CandidateStock
}

// StrategyRunner is the runner surface the handlers use.
type StrategyRunner interface {
	Start(ctx context.Context) string
	Stop() string
	Active() bool
	Paper() bool
	Positions() map[string]model.Position
	PnL() *portfolio.PnLTracker
}

// Backtester runs a backtest.
type Backtester interface {
	Run(ctx context.Context, st model.Strategy, mode backtest.Mode) (backtest.Result, error)
}

// TradeLog lists journaled fills.
type TradeLog interface {
	Trades(ctx context.Context, q execution.TradeQuery) ([]execution.TradeRecord, error)
}

// CacheAdmin clears caches.
type CacheAdmin interface {
	Clear(ctx context.Context, name cache.Name) error
	ClearAll(ctx context.Context)
}

// Deps are the collaborators behind the routes. Broker, Trades, Hub and
// Health may be nil.
type Deps struct {
	Scanner    StockScanner
	Runner     StrategyRunner
	Backtester Backtester
	Strategies model.StrategyStore
	Trades     TradeLog
	Broker     model.Broker
	Caches     CacheAdmin
	Hub        http.Handler
	Health     http.Handler

	// RunnerContext outlives requests; the runner loop is started on it.
	RunnerContext context.Context
	Logger        *slog.Logger
	Now           func() time.Time
}

type handlers struct {
	Deps
	log *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RunnerContext == nil {
		d.RunnerContext = context.Background()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{Deps: d, log: d.Logger.With(slog.String("component", "api"))}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	stocks := r.Group("/api/stocks")
	{
		stocks.GET("/scan", h.scan)
		stocks.GET("/scan/fast", h.fastScan)
		stocks.POST("/batch", h.batch)
		stocks.GET("/:ticker", h.getStock)
	}

	bot := r.Group("/api/shadowbot")
	{
		bot.POST("/runner/start", h.startRunner)
		bot.POST("/runner/stop", h.stopRunner)
		bot.GET("/runner/status", h.runnerStatus)
		bot.POST("/backtest", h.backtest)
		bot.GET("/strategies", h.listStrategies)
		bot.POST("/strategies", h.upsertStrategy)
		bot.DELETE("/strategies/:id", h.deleteStrategy)
		bot.GET("/trades", h.trades)
	}

	broker := r.Group("/api/broker")
	{
		broker.GET("/account", h.account)
		broker.GET("/orders", h.orders)
	}

	r.POST("/api/cache/clear", h.clearCache)
	r.GET("/api/market/status", h.marketStatus)

	if d.Hub != nil {
		r.GET("/ws/shadowbot", gin.WrapH(d.Hub))
	}
	if d.Health != nil {
		r.GET("/healthz", gin.WrapH(d.Health))
	}
	return r
}

// requestLogger logs one line per request at debug, or warn for 5xx.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)),
		)
	}
}
