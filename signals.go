// FILE: signals.go
// Package main – Contracts for the external signal collaborators.
//
// The decision core does not compute indicators, generate trend signals,
// classify regimes, or predict confidence itself; those live in external
// components consumed through the interfaces below. Tests provide fakes.

package main

import (
	"context"
	"fmt"
)

// Direction is the directional intent of a primary signal.
type Direction string

const (
	DirLong    Direction = "LONG"
	DirShort   Direction = "SHORT"
	DirNeutral Direction = "NEUTRAL"
)

// PrimarySignal is the raw output of the trend signal generator.
type PrimarySignal struct {
	Direction Direction
	Strength  float64 // [0,1]
}

// FeatureSchema pins the feature-vector layout agreed with the predictor.
// The vector is validated against it at the boundary instead of trusting a
// loosely-typed map.
type FeatureSchema struct {
	Version int
	Fields  []string // ordered
}

// FeatureVector is a fixed, ordered set of meta-feature values.
type FeatureVector struct {
	SchemaVersion int
	Values        []float64
}

// Validate checks a vector against the schema (version and field count).
func (s FeatureSchema) Validate(v FeatureVector) error {
	if v.SchemaVersion != s.Version {
		return fmt.Errorf("feature schema version mismatch: vector v%d, schema v%d", v.SchemaVersion, s.Version)
	}
	if len(v.Values) != len(s.Fields) {
		return fmt.Errorf("feature vector has %d values, schema expects %d", len(v.Values), len(s.Fields))
	}
	return nil
}

// Features is the enriched view of a bar window produced by the feature
// engine: the values the downstream collaborators consume, plus the meta
// vector handed to the confidence predictor.
type Features struct {
	Close      float64
	Volatility float64 // recent realized volatility; 0 when unavailable
	Vector     FeatureVector
}

// FeatureEngine computes indicators and the meta-feature vector over a
// closed-bar window.
type FeatureEngine interface {
	Compute(candles []Candle) (*Features, error)
}

// PrimarySignalGenerator turns enriched bars into a directional signal.
type PrimarySignalGenerator interface {
	Generate(f *Features) (PrimarySignal, error)
}

// RegimeFilter vetoes or scales trades based on the current market regime.
// sizeMultiplier is in [0,1] and only meaningful when allowed.
type RegimeFilter interface {
	ShouldAllow(f *Features, dir Direction) (allowed bool, reason string, sizeMultiplier float64)
}

// ConfidencePredictor estimates the probability a candidate trade is
// profitable. CoveredInstruments reports which instruments the model was
// trained on; TrainedHistoryDays reports the history depth backing that
// training (0 when not tracked by the model).
type ConfidencePredictor interface {
	Predict(v FeatureVector) (float64, error)
	CoveredInstruments() map[string]struct{}
	TrainedHistoryDays(symbol string) float64
	Schema() FeatureSchema
}

// PortfolioSelector is the optional cross-sectional layer. A nil selector
// disables it.
type PortfolioSelector interface {
	IsSelected(symbol string) bool
	// RiskLimit returns the maximum position value (in quote currency) the
	// selector allocates to the instrument.
	RiskLimit(symbol string, equity float64) float64
}

// HistoryProvider reports history-sufficiency metrics for an instrument,
// backed by the external historical-data store.
type HistoryProvider interface {
	HistoryMetrics(ctx context.Context, symbol string) (availableDays, coverage float64, err error)
}
