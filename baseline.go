// FILE: baseline.go
// Package main – Built-in baseline collaborators.
//
// The engine consumes the feature/signal/regime/confidence components purely
// through interfaces; deployments wire in the real model stack. This file
// provides the self-contained baseline used by the default binary: moving
// average crossover direction, realized-volatility features, an
// always-permissive regime, and a strength-derived confidence heuristic. It
// exists so the binary trades end to end without an external model server,
// not as a strategy recommendation.

package main

import (
	"context"
	"fmt"
	"math"
)

const (
	baselineFastWindow = 10
	baselineSlowWindow = 30
	baselineVolWindow  = 20
)

var baselineSchema = FeatureSchema{
	Version: 1,
	Fields:  []string{"close", "sma_fast", "sma_slow", "volatility", "momentum"},
}

// baselineFeatures computes simple moving averages, realized volatility of
// log returns, and short-horizon momentum.
type baselineFeatures struct{}

func (baselineFeatures) Compute(candles []Candle) (*Features, error) {
	if len(candles) < baselineSlowWindow+1 {
		return nil, fmt.Errorf("need %d bars, have %d", baselineSlowWindow+1, len(candles))
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := closes[len(closes)-1]
	fast := mean(closes[len(closes)-baselineFastWindow:])
	slow := mean(closes[len(closes)-baselineSlowWindow:])

	rets := make([]float64, 0, baselineVolWindow)
	for i := len(closes) - baselineVolWindow; i < len(closes); i++ {
		if closes[i-1] > 0 {
			rets = append(rets, math.Log(closes[i]/closes[i-1]))
		}
	}
	vol := stddev(rets)
	momentum := last/closes[len(closes)-baselineFastWindow] - 1

	return &Features{
		Close:      last,
		Volatility: vol,
		Vector: FeatureVector{
			SchemaVersion: baselineSchema.Version,
			Values:        []float64{last, fast, slow, vol, momentum},
		},
	}, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	s := 0.0
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)-1))
}

// baselineSignals derives direction from the fast/slow crossover; strength
// scales with the normalized gap between the averages.
type baselineSignals struct{}

func (baselineSignals) Generate(f *Features) (PrimarySignal, error) {
	fast, slow := f.Vector.Values[1], f.Vector.Values[2]
	if slow <= 0 {
		return PrimarySignal{Direction: DirNeutral}, nil
	}
	gap := (fast - slow) / slow
	strength := math.Min(math.Abs(gap)*100, 1)
	switch {
	case gap > 0.001:
		return PrimarySignal{Direction: DirLong, Strength: strength}, nil
	case gap < -0.001:
		return PrimarySignal{Direction: DirShort, Strength: strength}, nil
	default:
		return PrimarySignal{Direction: DirNeutral}, nil
	}
}

// baselineRegime only vetoes extreme volatility.
type baselineRegime struct {
	maxVolatility float64
}

func (r baselineRegime) ShouldAllow(f *Features, _ Direction) (bool, string, float64) {
	if r.maxVolatility > 0 && f.Volatility > r.maxVolatility {
		return false, fmt.Sprintf("volatility %.4f above %.4f", f.Volatility, r.maxVolatility), 0
	}
	return true, "", 1
}

// baselinePredictor maps signal strength and momentum agreement into a
// bounded confidence score. It covers every configured instrument.
type baselinePredictor struct {
	covered map[string]struct{}
}

func newBaselinePredictor(symbols []string) *baselinePredictor {
	covered := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		covered[s] = struct{}{}
	}
	return &baselinePredictor{covered: covered}
}

func (p *baselinePredictor) Predict(v FeatureVector) (float64, error) {
	if err := baselineSchema.Validate(v); err != nil {
		return 0, err
	}
	fast, slow, momentum := v.Values[1], v.Values[2], v.Values[4]
	if slow <= 0 {
		return 0, nil
	}
	gap := (fast - slow) / slow
	conf := 0.5 + math.Min(math.Abs(gap)*50, 0.3)
	if gap*momentum > 0 {
		conf += 0.1
	}
	return math.Min(conf, 0.95), nil
}

func (p *baselinePredictor) CoveredInstruments() map[string]struct{} { return p.covered }
func (p *baselinePredictor) TrainedHistoryDays(string) float64       { return 0 }
func (p *baselinePredictor) Schema() FeatureSchema                   { return baselineSchema }

// baselineHistory reports every instrument as fully covered; with the
// baseline predictor covering the whole universe it is only consulted for
// symbols added after startup.
type baselineHistory struct{}

func (baselineHistory) HistoryMetrics(context.Context, string) (float64, float64, error) {
	return 365, 1, nil
}

// defaultCollaborators wires the baseline stack for the configured universe.
func defaultCollaborators(symbols []string) Collaborators {
	return Collaborators{
		Features:  baselineFeatures{},
		Signals:   baselineSignals{},
		Regime:    baselineRegime{maxVolatility: 0.05},
		Predictor: newBaselinePredictor(symbols),
		History:   baselineHistory{},
	}
}
