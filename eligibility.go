// FILE: eligibility.go
// Package main – Instrument eligibility classification and the persisted
// training-request queue.
//
// Classification is wholesale: the full instrument set is re-classified on
// startup and on every universe refresh, never patched one symbol at a time.
// The classifier trains nothing itself; instruments the model does not cover
// but whose history would support training are queued in a JSON file for an
// external trainer to pick up.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// EligibilityState is an instrument's current trading state.
type EligibilityState string

const (
	EligTradable            EligibilityState = "TRADABLE"
	EligBlockedUntrained    EligibilityState = "BLOCKED_UNTRAINED"
	EligBlockedShortHistory EligibilityState = "BLOCKED_SHORT_HISTORY"
	EligBlockedLowCoverage  EligibilityState = "BLOCKED_LOW_COVERAGE"
)

// Tradable reports whether the state permits signal evaluation.
func (s EligibilityState) Tradable() bool { return s == EligTradable }

// EligibilityClassifier derives per-instrument trading states from model
// coverage and history sufficiency.
type EligibilityClassifier struct {
	cfg       ModelConfig
	predictor ConfidencePredictor
	history   HistoryProvider
	queue     *TrainingQueue
	log       zerolog.Logger
}

func NewEligibilityClassifier(cfg ModelConfig, predictor ConfidencePredictor, history HistoryProvider, log zerolog.Logger) *EligibilityClassifier {
	return &EligibilityClassifier{
		cfg:       cfg,
		predictor: predictor,
		history:   history,
		queue:     NewTrainingQueue(cfg.TrainingQueuePath),
		log:       log.With().Str("component", "eligibility").Logger(),
	}
}

// Classify assigns every instrument exactly one state. Covered instruments
// are TRADABLE when the model's tracked training history meets the minimum;
// uncovered ones are checked against the historical data store and, when
// their history would support training, queued for the external trainer.
func (c *EligibilityClassifier) Classify(ctx context.Context, symbols []string) map[string]EligibilityState {
	covered := c.predictor.CoveredInstruments()
	states := make(map[string]EligibilityState, len(symbols))
	var trainable []string

	for _, sym := range symbols {
		states[sym] = c.classifyOne(ctx, sym, covered, &trainable)
	}

	if len(trainable) > 0 {
		if err := c.queue.Add(trainable); err != nil {
			c.log.Warn().Err(err).Msg("training queue write failed")
		} else {
			c.log.Info().Strs("symbols", trainable).Msg("queued for training")
		}
	}

	for sym, st := range states {
		c.log.Info().Str("symbol", sym).Str("state", string(st)).Msg("eligibility")
	}
	return states
}

func (c *EligibilityClassifier) classifyOne(ctx context.Context, sym string, covered map[string]struct{}, trainable *[]string) EligibilityState {
	if _, ok := covered[sym]; ok {
		// Zero means the model does not report training depth; coverage
		// alone is accepted then.
		if days := c.predictor.TrainedHistoryDays(sym); days > 0 && days < c.cfg.MinHistoryDays {
			return EligBlockedShortHistory
		}
		return EligTradable
	}

	days, coverage, err := c.history.HistoryMetrics(ctx, sym)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", sym).Msg("history metrics unavailable")
		return EligBlockedShortHistory
	}
	if days < c.cfg.MinHistoryDays {
		return EligBlockedShortHistory
	}
	if coverage < c.cfg.MinHistoryCoverage {
		return EligBlockedLowCoverage
	}

	// Uncovered but with sufficient history: trainable.
	*trainable = append(*trainable, sym)
	return EligBlockedUntrained
}

// TrainingQueue is the persisted set of instruments awaiting external model
// training. The file format keeps the symbol set and the UTC timestamp each
// symbol was first queued.
type TrainingQueue struct {
	path string
	now  func() time.Time
}

func NewTrainingQueue(path string) *TrainingQueue {
	return &TrainingQueue{path: path, now: time.Now}
}

type trainingQueueFile struct {
	QueuedSymbols []string          `json:"queued_symbols"`
	QueuedAt      map[string]string `json:"queued_at"`
}

// Add merges symbols into the queue file with set-union semantics: existing
// entries keep their original queue time, so concurrent writers cannot lose
// each other's symbols or reset timestamps.
func (q *TrainingQueue) Add(symbols []string) error {
	cur, err := q.load()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cur.QueuedSymbols))
	for _, s := range cur.QueuedSymbols {
		seen[s] = struct{}{}
	}
	if cur.QueuedAt == nil {
		cur.QueuedAt = make(map[string]string)
	}

	changed := false
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		cur.QueuedSymbols = append(cur.QueuedSymbols, s)
		cur.QueuedAt[s] = q.now().UTC().Format(time.RFC3339)
		seen[s] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}
	return q.save(cur)
}

// Pending returns the currently queued symbols.
func (q *TrainingQueue) Pending() ([]string, error) {
	cur, err := q.load()
	if err != nil {
		return nil, err
	}
	return cur.QueuedSymbols, nil
}

func (q *TrainingQueue) load() (trainingQueueFile, error) {
	var f trainingQueueFile
	bs, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read training queue: %w", err)
	}
	if err := json.Unmarshal(bs, &f); err != nil {
		return f, fmt.Errorf("parse training queue: %w", err)
	}
	return f, nil
}

func (q *TrainingQueue) save(f trainingQueueFile) error {
	if dir := filepath.Dir(q.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("training queue dir: %w", err)
		}
	}
	bs, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return fmt.Errorf("write training queue: %w", err)
	}
	return os.Rename(tmp, q.path)
}
