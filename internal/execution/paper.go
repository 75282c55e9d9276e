package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shadowbeta/internal/model"
)

// PaperBroker accepts every well-formed order without contacting a broker.
// It implements model.Broker so the broker endpoints keep working in paper
// mode.
type PaperBroker struct {
	mu     sync.RWMutex
	orders []model.OrderResult
	now    func() time.Time
}

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders: make([]model.OrderResult, 0, 256),
		now:    time.Now,
	}
}

// SubmitOrder records the order as filled and returns a fresh UUID.
func (p *PaperBroker) SubmitOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if req.Symbol == "" || req.Qty <= 0 {
		return model.OrderResult{}, fmt.Errorf("%w: order needs a symbol and positive qty", model.ErrInvalidRequest)
	}
	res := model.OrderResult{
		ID:          uuid.NewString(),
		Status:      "filled",
		Symbol:      strings.ToUpper(req.Symbol),
		Qty:         req.Qty,
		Side:        req.Side,
		Paper:       true,
		SubmittedAt: p.now(),
	}
	p.mu.Lock()
	p.orders = append(p.orders, res)
	p.mu.Unlock()
	return res, nil
}

// Account reports a static paper account.
func (p *PaperBroker) Account(context.Context) (model.Account, error) {
	return model.Account{ID: "paper", Status: "ACTIVE", Currency: "USD", Paper: true}, nil
}

// ListOrders returns up to limit orders, newest first.
func (p *PaperBroker) ListOrders(_ context.Context, limit int) ([]model.OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit <= 0 || limit > len(p.orders) {
		limit = len(p.orders)
	}
	out := make([]model.OrderResult, 0, limit)
	for i := len(p.orders) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, p.orders[i])
	}
	return out, nil
}
