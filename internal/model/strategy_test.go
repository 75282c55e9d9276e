package model

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRuleSet_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    RuleSet
		wantErr bool
	}{
		{"list", `["rsi_oversold","price_above_ma50"]`, RuleSet{RuleRSIOversold, RulePriceAboveMA50}, false},
		{"list dedup", `["rsi_oversold","RSI_OVERSOLD"]`, RuleSet{RuleRSIOversold}, false},
		{"legacy object", `{"ma50_above_ma200":true,"rsi_oversold":false}`, RuleSet{RuleMA50AboveMA200}, false},
		{"empty object", `{}`, RuleSet{}, false},
		{"unknown rule", `["moon_phase"]`, nil, true},
		{"wrong type", `42`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs RuleSet
			err := json.Unmarshal([]byte(tt.in), &rs)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", rs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(rs, tt.want) {
				t.Errorf("got %v, want %v", rs, tt.want)
			}
		})
	}
}

func TestRuleSet_UnmarshalYAML(t *testing.T) {
	doc := `
name: swing
entry_rules:
  ma50_above_ma200: true
  rel_volume_strong: true
  rsi_oversold: false
symbols: [aapl, " msft "]
`
	var s Strategy
	if err := yaml.Unmarshal([]byte(doc), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := RuleSet{RuleMA50AboveMA200, RuleRelVolumeStrong}
	if !reflect.DeepEqual(s.EntryRules, want) {
		t.Errorf("rules: got %v, want %v", s.EntryRules, want)
	}

	s = s.WithDefaults()
	if !reflect.DeepEqual(s.Symbols, []string{"AAPL", "MSFT"}) {
		t.Errorf("symbols: got %v", s.Symbols)
	}
	if s.MaxPositions != DefaultMaxPositions || s.StopLossPct != DefaultStopLossPct ||
		s.TakeProfitPct != DefaultTakeProfitPct || s.MaxNotionalPerTrade != DefaultMaxNotionalPerTrade {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestStrategy_Validate(t *testing.T) {
	if err := (Strategy{}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing name: got %v, want ErrInvalidRequest", err)
	}
	if err := (Strategy{Name: "x", StopLossPct: -1}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("negative stop: got %v, want ErrInvalidRequest", err)
	}
	if err := (Strategy{Name: "x"}).Validate(); err != nil {
		t.Errorf("valid strategy: unexpected error %v", err)
	}
}

func TestScanRequest_Validate(t *testing.T) {
	ok := DefaultScanRequest()
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := []func(r *ScanRequest){
		func(r *ScanRequest) { r.MinVolumeMultiplier = -1 },
		func(r *ScanRequest) { r.MinPrice = -5 },
		func(r *ScanRequest) { r.MinPrice, r.MaxPrice = 100, 10 },
		func(r *ScanRequest) { r.MinScore = 5 },
		func(r *ScanRequest) { r.MaxResults = 0 },
		func(r *ScanRequest) { r.MinPrice = math.NaN() },
		func(r *ScanRequest) { r.MaxPrice = math.NaN() },
		func(r *ScanRequest) { r.MinVolumeMultiplier = math.NaN() },
		func(r *ScanRequest) { r.MaxPrice = math.Inf(1) },
		func(r *ScanRequest) { r.MinPrice = math.Inf(-1) },
	}
	for i, mutate := range bad {
		r := DefaultScanRequest()
		mutate(&r)
		if err := r.Validate(); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: got %v, want ErrInvalidRequest", i, err)
		}
	}
}

func TestPasses_Score(t *testing.T) {
	p := Passes{Trend: true, Volume: true, Oversold: true, Breakout: true}
	if got := p.Score(); got != 2 {
		t.Errorf("score: got %d, want 2 (bonus flags are not scored)", got)
	}
	if got := (Passes{Trend: true, Momentum: true, Volume: true, PriceAction: true}).Score(); got != 4 {
		t.Errorf("score: got %d, want 4", got)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrDataUnavailable, "data_unavailable"},
		{errors.Join(errors.New("boom"), ErrExternal), "external"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Category(tt.err); got != tt.want {
			t.Errorf("Category(%v): got %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestPriceSeries_Window(t *testing.T) {
	s := PriceSeries{Symbol: "X", Bars: []Bar{{Close: 1}, {Close: 2}, {Close: 3}}}
	w := s.Window(2)
	if w.Len() != 2 || w.Last().Close != 2 {
		t.Errorf("window: got %+v", w.Bars)
	}
	if got := s.Window(10).Len(); got != 3 {
		t.Errorf("clamped window: got %d, want 3", got)
	}
	if got := s.Window(2).Closes(); len(got) != 2 || got[1] != 2 {
		t.Errorf("window closes: got %v", got)
	}
	if got := s.Window(-1).Len(); got != 0 {
		t.Errorf("negative window: got %d, want 0", got)
	}
}
