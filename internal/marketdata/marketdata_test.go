package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/model"
)

const chartJSON = `{"chart":{"result":[{
  "meta":{"symbol":"AAPL","longName":"Apple Inc.","shortName":"Apple"},
  "timestamp":[1700179200,1700006400,1700092800,1700265600],
  "indicators":{"quote":[{
    "open":[3,1,2,null],
    "high":[3.5,1.5,2.5,null],
    "low":[2.5,0.5,1.5,null],
    "close":[3.2,1.2,2.2,null],
    "volume":[300,100,null,null]
  }]}
}],"error":null}}`

func TestYahoo_FetchHistory(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	y := NewYahoo(srv.URL, time.Second)
	y.now = func() time.Time { return time.Unix(1700300000, 0) }

	s, err := y.FetchHistory(context.Background(), "aapl", 10)
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Contains(t, gotQuery, "interval=1d")
	assert.Contains(t, gotQuery, "period2=1700300000")
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, "Apple Inc.", s.Name)

	require.Len(t, s.Bars, 3, "null close bar is skipped")
	assert.Equal(t, []float64{1.2, 2.2, 3.2}, s.Closes(), "bars sorted ascending")
	assert.Equal(t, 0.0, s.Bars[1].Volume, "null volume reads as zero")
}

func TestYahoo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"not found", http.StatusNotFound, `{}`, model.ErrDataUnavailable},
		{"server error", http.StatusBadGateway, `oops`, model.ErrExternal},
		{"api error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, model.ErrDataUnavailable},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, model.ErrDataUnavailable},
		{"garbage", http.StatusOK, `<html>`, model.ErrExternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewYahoo(srv.URL, time.Second).FetchHistory(context.Background(), "ZZZZ", 5)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestYahoo_CancelledContextIsVisible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewYahoo(srv.URL, time.Second).FetchHistory(ctx, "AAPL", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExternal)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "external", model.Category(err))
}

func TestFinnhub_ListSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "US", r.URL.Query().Get("exchange"))
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Write([]byte(`[
		  {"symbol":"IBM","mic":"XNYS"},
		  {"symbol":"AAPL","mic":"XNAS"},
		  {"symbol":"BRK.B","mic":"XNYS"},
		  {"symbol":"TOOLONG","mic":"XNYS"},
		  {"symbol":"GE","mic":"XNYS"},
		  {"symbol":"GE","mic":"XNYS"},
		  {"symbol":"F1","mic":"XNYS"}
		]`))
	}))
	defer srv.Close()

	got, err := NewFinnhub(srv.URL, "secret", time.Second).ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"IBM", "GE"}, got)
}

func TestFinnhub_NoToken(t *testing.T) {
	_, err := NewFinnhub("", "", time.Second).ListSymbols(context.Background())
	assert.ErrorIs(t, err, model.ErrExternal)
}

func TestCurated_Deduplicated(t *testing.T) {
	c := Curated()
	seen := map[string]bool{}
	for _, s := range c {
		assert.False(t, seen[s], "duplicate %s", s)
		seen[s] = true
	}
	assert.Less(t, len(c), len(curatedRaw))
	assert.Equal(t, "AAPL", c[0], "list order is preserved")
	assert.NotEmpty(t, Fallback())
}

type slowFetcher struct{}

func (slowFetcher) FetchHistory(ctx context.Context, symbol string, days int) (model.PriceSeries, error) {
	<-ctx.Done()
	return model.PriceSeries{}, ctx.Err()
}

type stubFetcher struct{ calls int }

func (s *stubFetcher) FetchHistory(ctx context.Context, symbol string, days int) (model.PriceSeries, error) {
	s.calls++
	return model.PriceSeries{Symbol: symbol, Bars: []model.Bar{{Close: 1}}}, nil
}

func TestThrottled_TimeoutIsExternal(t *testing.T) {
	th := NewThrottled(slowFetcher{}, 0, 0, 20*time.Millisecond)
	_, err := th.FetchHistory(context.Background(), "SLOW", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrExternal), "got %v", err)
	assert.True(t, strings.Contains(err.Error(), "timed out"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottled_PassesThrough(t *testing.T) {
	stub := &stubFetcher{}
	th := NewThrottled(stub, 1000, 5, time.Second)
	for i := 0; i < 5; i++ {
		s, err := th.FetchHistory(context.Background(), "OK", 5)
		require.NoError(t, err)
		assert.Equal(t, "OK", s.Symbol)
	}
	assert.Equal(t, 5, stub.calls)
}
