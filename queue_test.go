// FILE: queue_test.go
package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(symbol string, confidence, strength float64, at time.Time) QueuedSignal {
	return QueuedSignal{
		Symbol:     symbol,
		Direction:  DirLong,
		Confidence: confidence,
		Strength:   strength,
		RefPrice:   100,
		RegimeMult: 1,
		EnqueuedAt: at,
	}
}

func drainAll(q *AdmissionQueue, now time.Time, slots int) []string {
	var order []string
	q.Drain(now, slots, func(s QueuedSignal) *RejectReason {
		order = append(order, s.Symbol)
		return nil
	})
	return order
}

func TestQueueRankOrdering(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())

	q.Enqueue(sig("LOW", 0.60, 0.9, now))
	q.Enqueue(sig("HIGH", 0.90, 0.1, now))
	q.Enqueue(sig("MID", 0.75, 0.5, now))

	assert.Equal(t, []string{"HIGH", "MID", "LOW"}, drainAll(q, now, 10))
}

func TestQueueStrengthThenNewestTieBreak(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())

	q.Enqueue(sig("WEAK", 0.80, 0.2, now))
	q.Enqueue(sig("STRONG", 0.80, 0.8, now))
	q.Enqueue(sig("OLD", 0.80, 0.8, now))    // full tie with STRONG on rank
	q.Enqueue(sig("NEWEST", 0.80, 0.8, now)) // enqueued last, served first among ties

	order := drainAll(q, now, 10)
	require.Len(t, order, 4)
	assert.Equal(t, "NEWEST", order[0])
	assert.Equal(t, "WEAK", order[3])
}

func TestQueueSameSymbolReplacement(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())

	q.Enqueue(sig("BTCUSDT", 0.60, 0.5, now))
	q.Enqueue(sig("BTCUSDT", 0.90, 0.5, now))
	assert.Equal(t, 1, q.Depth())
	require.NotNil(t, q.Peek("BTCUSDT"))
	assert.Equal(t, 0.90, q.Peek("BTCUSDT").Confidence)
}

func TestQueueAdmissionBound(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())
	for _, s := range []string{"A", "B", "C", "D"} {
		q.Enqueue(sig(s, 0.7, 0.5, now))
	}

	placed := drainAll(q, now, 2)
	assert.Len(t, placed, 2, "placements bounded by free slots")
	assert.Equal(t, 2, q.Depth(), "unserved candidates stay queued")

	// Zero slots leaves the queue untouched.
	assert.Empty(t, drainAll(q, now, 0))
	assert.Equal(t, 2, q.Depth())
}

func TestQueueTTLExpiry(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())

	q.Enqueue(sig("STALE", 0.9, 0.5, now.Add(-2*time.Hour)))
	q.Enqueue(sig("FRESH", 0.7, 0.5, now))

	var attempted []string
	rep := q.Drain(now, 10, func(s QueuedSignal) *RejectReason {
		attempted = append(attempted, s.Symbol)
		return nil
	})
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, []string{"FRESH"}, attempted)
}

func TestQueueExpireStaleOnEnqueue(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())

	q.Enqueue(sig("STALE", 0.9, 0.5, now.Add(-2*time.Hour)))
	q.Enqueue(sig("FRESH", 0.7, 0.5, now))
	assert.Equal(t, 1, q.Depth())
	assert.Nil(t, q.Peek("STALE"))
}

func TestQueueRetryableRetainedPermanentDropped(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())
	q.Enqueue(sig("RETRY", 0.9, 0.5, now))
	q.Enqueue(sig("DROP", 0.8, 0.5, now))
	q.Enqueue(sig("OK", 0.7, 0.5, now))

	rep := q.Drain(now, 10, func(s QueuedSignal) *RejectReason {
		switch s.Symbol {
		case "RETRY":
			return rejectRetryable(RejectMaxPositions, "slots full")
		case "DROP":
			return rejectPermanent(RejectCooldown, "cooling down")
		default:
			return nil
		}
	})

	assert.Equal(t, 1, rep.Placed)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 1, rep.Retained)
	assert.Equal(t, 1, q.Depth())
	assert.NotNil(t, q.Peek("RETRY"), "retryable candidate stays queued")
	assert.Nil(t, q.Peek("DROP"))
}

func TestQueueRetryableDoesNotSpinWithinDrain(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())
	q.Enqueue(sig("RETRY", 0.9, 0.5, now))

	attempts := 0
	q.Drain(now, 5, func(QueuedSignal) *RejectReason {
		attempts++
		return rejectRetryable(RejectMaxPositions, "slots full")
	})
	assert.Equal(t, 1, attempts, "one attempt per candidate per drain pass")
	assert.Equal(t, 1, q.Depth())
}

func TestQueueClear(t *testing.T) {
	now := time.Now()
	q := NewAdmissionQueue(time.Hour, testLogger())
	q.Enqueue(sig("A", 0.7, 0.5, now))
	q.Enqueue(sig("B", 0.8, 0.5, now))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Depth())
}
