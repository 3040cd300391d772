// FILE: queue.go
// Package main – Admission queue: confidence-ranked, slot-bounded buffer
// between signal generation and order placement.
//
// Signals that pass the decision pipeline wait here until a position slot is
// free. Ranking is highest confidence first, then highest strength, then the
// most recently enqueued. One entry per instrument: a fresher signal for the
// same symbol replaces the stale one in place.
//
// Not safe for concurrent use; the engine serializes all access.

package main

import (
	"container/heap"
	"time"

	"github.com/rs/zerolog"
)

// QueuedSignal is one admitted trade candidate awaiting a free slot.
type QueuedSignal struct {
	Symbol     string
	Direction  Direction
	Confidence float64
	Strength   float64
	RefPrice   float64
	Volatility float64
	RegimeMult float64
	EnqueuedAt time.Time

	seq   uint64 // monotonically increasing admission counter
	index int    // heap bookkeeping
}

type signalHeap []*QueuedSignal

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Strength != b.Strength {
		return a.Strength > b.Strength
	}
	return a.seq > b.seq // newest wins full ties
}

func (h signalHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *signalHeap) Push(x any) {
	s := x.(*QueuedSignal)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// AdmissionQueue holds ranked candidates with a per-signal TTL.
type AdmissionQueue struct {
	ttl     time.Duration
	log     zerolog.Logger
	heap    signalHeap
	entries map[string]*QueuedSignal
	seq     uint64
}

func NewAdmissionQueue(ttl time.Duration, log zerolog.Logger) *AdmissionQueue {
	return &AdmissionQueue{
		ttl:     ttl,
		log:     log.With().Str("component", "queue").Logger(),
		entries: make(map[string]*QueuedSignal),
	}
}

// Enqueue admits a candidate, first aging out anything past its TTL. An
// existing entry for the same instrument is replaced, keeping the queue at
// one live candidate per symbol.
func (q *AdmissionQueue) Enqueue(s QueuedSignal) {
	q.ExpireStale(s.EnqueuedAt)

	q.seq++
	s.seq = q.seq

	if old, ok := q.entries[s.Symbol]; ok {
		s.index = old.index
		*old = s
		heap.Fix(&q.heap, old.index)
		q.entries[s.Symbol] = old
		return
	}
	entry := &s
	heap.Push(&q.heap, entry)
	q.entries[s.Symbol] = entry
}

// Depth reports the number of queued candidates.
func (q *AdmissionQueue) Depth() int { return len(q.heap) }

// Clear drops every queued candidate (used when trading is paused or the
// kill switch engages).
func (q *AdmissionQueue) Clear() int {
	n := len(q.heap)
	q.heap = q.heap[:0]
	q.entries = make(map[string]*QueuedSignal)
	return n
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Placed   int
	Expired  int
	Rejected int
	Retained int
}

// Drain pops candidates in rank order and hands each to execute until the
// free slots are used up. Expired candidates are dropped. A retryable
// rejection keeps the candidate queued for the next drain without burning a
// slot; a permanent rejection drops it.
func (q *AdmissionQueue) Drain(now time.Time, freeSlots int, execute func(QueuedSignal) *RejectReason) DrainReport {
	var rep DrainReport
	var retained []*QueuedSignal

	for freeSlots > 0 && len(q.heap) > 0 {
		s := heap.Pop(&q.heap).(*QueuedSignal)
		delete(q.entries, s.Symbol)

		if now.Sub(s.EnqueuedAt) > q.ttl {
			rep.Expired++
			q.log.Debug().Str("symbol", s.Symbol).Msg("queued signal expired")
			continue
		}

		rej := execute(*s)
		switch {
		case rej == nil:
			rep.Placed++
			freeSlots--
		case rej.Retryable:
			rep.Retained++
			retained = append(retained, s)
		default:
			rep.Rejected++
			q.log.Info().
				Str("symbol", s.Symbol).
				Str("reason", rej.String()).
				Msg("queued signal rejected")
		}
	}

	// Retryable failures go back in after the pass so they cannot spin the
	// same drain forever.
	for _, s := range retained {
		heap.Push(&q.heap, s)
		q.entries[s.Symbol] = s
	}
	return rep
}

// ExpireStale drops candidates past their TTL without attempting execution.
// Run on the monitor tick so a full queue with zero free slots still ages
// out.
func (q *AdmissionQueue) ExpireStale(now time.Time) int {
	expired := 0
	for _, s := range q.entries {
		if now.Sub(s.EnqueuedAt) > q.ttl {
			heap.Remove(&q.heap, s.index)
			delete(q.entries, s.Symbol)
			expired++
		}
	}
	return expired
}

// Peek returns the queued candidate for a symbol, or nil.
func (q *AdmissionQueue) Peek(symbol string) *QueuedSignal {
	return q.entries[symbol]
}
