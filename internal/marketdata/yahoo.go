// Package marketdata holds the price-history and symbol-universe providers
// used by the scanner, runner and backtest.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"shadowbeta/internal/model"
)

// DefaultYahooBaseURL is the public chart API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo fetches daily bars from the Yahoo Finance chart API.
type Yahoo struct {
	Client  *http.Client
	BaseURL string
	now     func() time.Time
}

// NewYahoo creates a Yahoo fetcher. An empty baseURL uses the public host.
func NewYahoo(baseURL string, timeout time.Duration) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &Yahoo{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

// yahooChart is the response structure of /v8/finance/chart.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				LongName  string `json:"longName"`
				ShortName string `json:"shortName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchHistory returns daily bars covering the last `days` calendar days,
// ascending by time. Bars with a missing close are skipped.
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, days int) (model.PriceSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || days <= 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: symbol and positive lookback required", model.ErrInvalidRequest)
	}

	end := y.now()
	start := end.AddDate(0, 0, -days)
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.Unix()))
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.BaseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.PriceSeries{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo fetch %s: %w", model.ErrExternal, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo read body: %w", model.ErrExternal, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo has no chart for %s", model.ErrDataUnavailable, symbol)
	case resp.StatusCode != http.StatusOK:
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo status %d for %s", model.ErrExternal, resp.StatusCode, symbol)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo decode: %w", model.ErrExternal, err)
	}
	if chart.Chart.Error != nil {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo api error: %s", model.ErrDataUnavailable, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo returned no bars for %s", model.ErrDataUnavailable, symbol)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	series := model.PriceSeries{
		Symbol: symbol,
		Name:   firstNonEmpty(result.Meta.LongName, result.Meta.ShortName),
		Bars:   make([]model.Bar, 0, len(result.Timestamp)),
	}
	for i, ts := range result.Timestamp {
		c := at(quote.Close, i)
		if c == nil {
			continue // holidays and halted sessions come back as nulls
		}
		bar := model.Bar{Time: time.Unix(ts, 0).UTC(), Close: *c}
		bar.Open = valueOr(at(quote.Open, i), *c)
		bar.High = valueOr(at(quote.High, i), *c)
		bar.Low = valueOr(at(quote.Low, i), *c)
		bar.Volume = valueOr(at(quote.Volume, i), 0)
		series.Bars = append(series.Bars, bar)
	}
	if len(series.Bars) == 0 {
		return model.PriceSeries{}, fmt.Errorf("%w: yahoo returned no bars for %s", model.ErrDataUnavailable, symbol)
	}

	sort.Slice(series.Bars, func(i, j int) bool { return series.Bars[i].Time.Before(series.Bars[j].Time) })
	return series, nil
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
