package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is a named entry predicate.
type Rule string

const (
	RuleRSIOversold     Rule = "rsi_oversold"
	RuleMA50AboveMA200  Rule = "ma50_above_ma200"
	RulePriceAboveMA50  Rule = "price_above_ma50"
	RuleRelVolumeStrong Rule = "rel_volume_strong"
)

// AllRules lists every known rule in evaluation order.
var AllRules = []Rule{RuleRSIOversold, RuleMA50AboveMA200, RulePriceAboveMA50, RuleRelVolumeStrong}

// Valid reports whether r is a known rule.
func (r Rule) Valid() bool {
	for _, k := range AllRules {
		if r == k {
			return true
		}
	}
	return false
}

// RuleSet is the set of enabled entry rules of a strategy.
//
// On the wire it is a list of rule names. The older object form
// {"rsi_oversold": true, ...} is also accepted when decoding; keys set
// to false are dropped.
type RuleSet []Rule

// Has reports whether r is enabled.
func (rs RuleSet) Has(r Rule) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*rs = nil
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		return rs.set(names)
	}
	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		return fmt.Errorf("entry_rules: expected list or object: %w", err)
	}
	return rs.set(enabledNames(flags))
}

func (rs *RuleSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		return rs.set(names)
	case yaml.MappingNode:
		var flags map[string]bool
		if err := node.Decode(&flags); err != nil {
			return err
		}
		return rs.set(enabledNames(flags))
	default:
		return fmt.Errorf("entry_rules: expected list or mapping at line %d", node.Line)
	}
}

// ParseRules builds a RuleSet from rule names, case-insensitively.
func ParseRules(names []string) (RuleSet, error) {
	var rs RuleSet
	if err := rs.set(names); err != nil {
		return nil, err
	}
	return rs, nil
}

// RulesFromFlags builds a RuleSet from the {name: enabled} form.
func RulesFromFlags(flags map[string]bool) (RuleSet, error) {
	return ParseRules(enabledNames(flags))
}

// Flags returns the {name: true} form of the set.
func (rs RuleSet) Flags() map[string]bool {
	out := make(map[string]bool, len(rs))
	for _, r := range rs {
		out[string(r)] = true
	}
	return out
}

func (rs *RuleSet) set(names []string) error {
	out := make(RuleSet, 0, len(names))
	for _, n := range names {
		r := Rule(strings.ToLower(strings.TrimSpace(n)))
		if !r.Valid() {
			return fmt.Errorf("%w: unknown entry rule %q", ErrInvalidRequest, n)
		}
		if !out.Has(r) {
			out = append(out, r)
		}
	}
	*rs = out
	return nil
}

func enabledNames(flags map[string]bool) []string {
	names := make([]string, 0, len(flags))
	for k, on := range flags {
		if on {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Strategy defaults applied when a stored strategy leaves a field unset.
const (
	DefaultMaxPositions        = 3
	DefaultMaxNotionalPerTrade = 5000.0
	DefaultStopLossPct         = 3.0
	DefaultTakeProfitPct       = 6.0
)

// Strategy is a user-defined rule set over a list of symbols.
// StopLossPct and TakeProfitPct are percentages (3.0 means 3%).
type Strategy struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	Symbols             []string `json:"symbols" yaml:"symbols"`
	EntryRules          RuleSet  `json:"entry_rules" yaml:"entry_rules"`
	MaxPositions        int      `json:"max_positions" yaml:"max_positions"`
	MaxNotionalPerTrade float64  `json:"max_notional_per_trade" yaml:"max_notional_per_trade"`
	StopLossPct         float64  `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct       float64  `json:"take_profit_pct" yaml:"take_profit_pct"`
}

// WithDefaults returns a copy with zero-valued limits replaced by defaults
// and symbols upper-cased.
func (s Strategy) WithDefaults() Strategy {
	if s.MaxPositions <= 0 {
		s.MaxPositions = DefaultMaxPositions
	}
	if s.MaxNotionalPerTrade <= 0 {
		s.MaxNotionalPerTrade = DefaultMaxNotionalPerTrade
	}
	if s.StopLossPct <= 0 {
		s.StopLossPct = DefaultStopLossPct
	}
	if s.TakeProfitPct <= 0 {
		s.TakeProfitPct = DefaultTakeProfitPct
	}
	syms := make([]string, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			syms = append(syms, sym)
		}
	}
	s.Symbols = syms
	return s
}

// Validate checks the fields a caller must supply.
func (s Strategy) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: strategy name is required", ErrInvalidRequest)
	}
	if s.MaxPositions < 0 || s.MaxNotionalPerTrade < 0 || s.StopLossPct < 0 || s.TakeProfitPct < 0 {
		return fmt.Errorf("%w: strategy limits must not be negative", ErrInvalidRequest)
	}
	return nil
}
