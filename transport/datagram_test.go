package transport

import "testing"

// newTestDatagramQueues builds a queue with a non-zero remote max size so
// addDatagram doesn't reject everything outright (mirroring a connection
// whose peer has already advertised max_datagram_frame_size).
func newTestDatagramQueues(maxQueued int) *datagramQueues {
	q := newDatagramQueues(0, maxQueued)
	q.remoteMaxSize = 1500
	return q
}

// TestDatagramQueueOverflowDropsOldestAndReportsOutcome mirrors spec.md
// section 8's datagram-overflow scenario: with a four-deep queue,
// enqueuing a fifth datagram drops the first (tracking id 1) with
// DroppedQueueFull and leaves 2..5 queued.
func TestDatagramQueueOverflowDropsOldestAndReportsOutcome(t *testing.T) {
	q := newTestDatagramQueues(4)

	for id := uint64(1); id <= 5; id++ {
		if err := q.addDatagram([]byte{byte(id)}, id, true); err != nil {
			t.Fatalf("addDatagram(%d): %v", id, err)
		}
	}

	if got := len(q.outgoing); got != 4 {
		t.Fatalf("queue length = %d, want 4", got)
	}
	if got := q.outgoing[0].trackingID; got != 2 {
		t.Fatalf("oldest remaining tracking id = %d, want 2 (1..4 should have had 1 dropped)", got)
	}

	outcomes := q.drainOutcomes()
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want exactly 1", len(outcomes))
	}
	if outcomes[0].trackingID != 1 {
		t.Fatalf("dropped tracking id = %d, want 1", outcomes[0].trackingID)
	}
	if outcomes[0].reason != datagramDroppedQueueFull {
		t.Fatalf("drop reason = %v, want datagramDroppedQueueFull", outcomes[0].reason)
	}
	if got := q.drainOutcomes(); got != nil {
		t.Fatalf("drainOutcomes should be empty after draining once, got %v", got)
	}
}

// TestDatagramQueueDefaultsWhenUnconfigured checks that a zero
// Config.MaxQueuedOutgoingDatagrams falls back to the built-in default
// rather than making the queue unbounded.
func TestDatagramQueueDefaultsWhenUnconfigured(t *testing.T) {
	q := newDatagramQueues(0, 0)
	if q.maxQueued != defaultMaxQueuedOutgoingDatagrams {
		t.Fatalf("maxQueued = %d, want default %d", q.maxQueued, defaultMaxQueuedOutgoingDatagrams)
	}
}

// TestDatagramUntrackedDropProducesNoOutcome checks that
// an untracked send producing a too-big drop never appends an outcome.
func TestDatagramUntrackedDropProducesNoOutcome(t *testing.T) {
	q := newTestDatagramQueues(4)
	if err := q.addDatagram([]byte("hello"), 0, false); err != nil {
		t.Fatalf("addDatagram: %v", err)
	}
	// budget too small for anything, packet otherwise empty: drop as too big.
	_, result := q.nextFrame(0, false)
	if result != datagramWriteDropped {
		t.Fatalf("nextFrame result = %v, want datagramWriteDropped", result)
	}
	if got := q.drainOutcomes(); got != nil {
		t.Fatalf("untracked drop should produce no outcome, got %v", got)
	}
}
