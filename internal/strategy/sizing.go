package strategy

import (
	"github.com/shopspring/decimal"

	"shadowbeta/internal/model"
)

// thresholdPlaces is the precision stop and take levels are compared at, so
// a price computed as entry*0.97 lands exactly on a 3% stop.
const thresholdPlaces = 6

var hundred = decimal.NewFromInt(100)

// OrderQty sizes an entry as max(1, floor(maxNotional/price)). ok is false
// when the price is not positive or a single share already exceeds
// maxNotional.
func OrderQty(maxNotional, price float64) (qty int64, ok bool) {
	if price <= 0 || maxNotional <= 0 {
		return 0, false
	}
	p := decimal.NewFromFloat(price)
	limit := decimal.NewFromFloat(maxNotional)
	q := limit.Div(p).Floor()
	if q.LessThan(decimal.NewFromInt(1)) {
		q = decimal.NewFromInt(1)
	}
	if q.Mul(p).GreaterThan(limit) {
		return 0, false
	}
	return q.IntPart(), true
}

// StopLevel returns entry*(1-stopPct/100).
func StopLevel(entry, stopPct float64) decimal.Decimal {
	frac := decimal.NewFromFloat(stopPct).Div(hundred)
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(frac)).Round(thresholdPlaces)
}

// TakeLevel returns entry*(1+takePct/100).
func TakeLevel(entry, takePct float64) decimal.Decimal {
	frac := decimal.NewFromFloat(takePct).Div(hundred)
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Add(frac)).Round(thresholdPlaces)
}

// ExitReason returns model.ExitStop or model.ExitTake when price has crossed
// the position's stop or take level, and "" otherwise. Stop wins when both
// hold.
func ExitReason(entry, stopPct, takePct, price float64) string {
	p := decimal.NewFromFloat(price).Round(thresholdPlaces)
	if p.LessThanOrEqual(StopLevel(entry, stopPct)) {
		return model.ExitStop
	}
	if p.GreaterThanOrEqual(TakeLevel(entry, takePct)) {
		return model.ExitTake
	}
	return ""
}

// positionExit applies ExitReason to an open position.
func positionExit(pos *model.Position, price float64) string {
	return ExitReason(pos.EntryPrice, pos.StopPct, pos.TakePct, price)
}
