package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"shadowbeta/internal/model"
)

// DefaultFinnhubBaseURL is the public Finnhub API host.
const DefaultFinnhubBaseURL = "https://finnhub.io"

// Finnhub lists NYSE common stocks from the Finnhub symbol endpoint.
type Finnhub struct {
	Client  *http.Client
	BaseURL string
	Token   string
}

// NewFinnhub creates a symbol lister.
func NewFinnhub(baseURL, token string, timeout time.Duration) *Finnhub {
	if baseURL == "" {
		baseURL = DefaultFinnhubBaseURL
	}
	return &Finnhub{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
	}
}

type finnhubSymbol struct {
	Symbol string `json:"symbol"`
	MIC    string `json:"mic"`
	Type   string `json:"type"`
}

// ListSymbols returns NYSE-listed tickers that are purely alphabetic and at
// most five characters, which drops preferreds, warrants and units.
func (f *Finnhub) ListSymbols(ctx context.Context) ([]string, error) {
	if f.Token == "" {
		return nil, fmt.Errorf("%w: finnhub token not configured", model.ErrExternal)
	}
	u := fmt.Sprintf("%s/api/v1/stock/symbol?exchange=US&token=%s", f.BaseURL, f.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: finnhub symbols: %w", model.ErrExternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: finnhub status %d", model.ErrExternal, resp.StatusCode)
	}

	var raw []finnhubSymbol
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: finnhub decode: %w", model.ErrExternal, err)
	}

	out := make([]string, 0, len(raw)/4)
	for _, s := range raw {
		if keepNYSE(s) {
			out = append(out, s.Symbol)
		}
	}
	return dedupe(out), nil
}

func keepNYSE(s finnhubSymbol) bool {
	if !strings.Contains(s.MIC, "NYSE") && !strings.Contains(s.MIC, "XNYS") {
		return false
	}
	if s.Symbol == "" || len(s.Symbol) > 5 {
		return false
	}
	for _, r := range s.Symbol {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
