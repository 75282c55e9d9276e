package model

import (
	"fmt"
	"math"
)

// ScanRequest holds the caller-supplied scan parameters.
type ScanRequest struct {
	MinVolumeMultiplier float64 `json:"min_volume_multiplier" form:"min_volume_multiplier" yaml:"min_volume_multiplier"`
	MinPrice            float64 `json:"min_price" form:"min_price" yaml:"min_price"`
	MaxPrice            float64 `json:"max_price" form:"max_price" yaml:"max_price"`
	MinScore            int     `json:"min_score" form:"min_score" yaml:"min_score"`
	MaxResults          int     `json:"max_results" form:"max_results" yaml:"max_results"`
	UseCurated          bool    `json:"use_curated" form:"use_curated" yaml:"use_curated"`
}

// DefaultScanRequest returns the dashboard defaults.
func DefaultScanRequest() ScanRequest {
	return ScanRequest{
		MinVolumeMultiplier: 1.0,
		MinPrice:            5.0,
		MaxPrice:            500.0,
		MinScore:            0,
		MaxResults:          25,
		UseCurated:          true,
	}
}

// Validate rejects parameter combinations that can never match.
// The returned error wraps ErrInvalidRequest.
func (r ScanRequest) Validate() error {
	for name, v := range map[string]float64{
		"min_volume_multiplier": r.MinVolumeMultiplier,
		"min_price":             r.MinPrice,
		"max_price":             r.MaxPrice,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidRequest, name)
		}
	}
	switch {
	case r.MinVolumeMultiplier < 0:
		return fmt.Errorf("%w: min_volume_multiplier must be >= 0", ErrInvalidRequest)
	case r.MinPrice < 0:
		return fmt.Errorf("%w: min_price must be >= 0", ErrInvalidRequest)
	case r.MaxPrice < r.MinPrice:
		return fmt.Errorf("%w: max_price %.2f is below min_price %.2f", ErrInvalidRequest, r.MaxPrice, r.MinPrice)
	case r.MinScore < 0 || r.MinScore > 4:
		return fmt.Errorf("%w: min_score must be within 0..4", ErrInvalidRequest)
	case r.MaxResults <= 0:
		return fmt.Errorf("%w: max_results must be positive", ErrInvalidRequest)
	}
	return nil
}

// ScanError records one symbol dropped from a scan.
type ScanError struct {
	Ticker   string `json:"ticker"`
	Tier     int    `json:"tier"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ScanMetadata carries the tier-by-tier counters of one scan.
type ScanMetadata struct {
	ScanID              string      `json:"scan_id"`
	Tier1Scanned        int         `json:"tier1_scanned"`
	Tier1Passed         int         `json:"tier1_passed"`
	Tier2Analyzed       int         `json:"tier2_analyzed"`
	FinalResults        int         `json:"final_results"`
	ScoreDistribution   map[int]int `json:"score_distribution"`
	ScanDurationSeconds float64     `json:"scan_time"`
	UsedCurated         bool        `json:"used_curated"`
	Errors              []ScanError `json:"errors,omitempty"`
}

// ScanResult is the output of one scan.
type ScanResult struct {
	Stocks   []CandidateStock `json:"stocks"`
	Metadata ScanMetadata     `json:"metadata"`
}

// FastScanMetadata describes a lightweight-only scan.
type FastScanMetadata struct {
	Scanned             int     `json:"scanned"`
	Passed              int     `json:"passed"`
	ScanDurationSeconds float64 `json:"scan_time"`
}

// FastScanResult is the output of a lightweight-only scan.
type FastScanResult struct {
	Stocks   []QuickStock     `json:"stocks"`
	Metadata FastScanMetadata `json:"metadata"`
}
