package transport

import "testing"

// TestPriorityDefaultRoundTrips checks that the wire default serializes
// to the empty dictionary and parses back to the default, matching the
// RFC 9218 section 4 default omission rule.
func TestPriorityDefaultRoundTrips(t *testing.T) {
	if got := DefaultPriority.encodeSignedFieldValue(); got != "" {
		t.Fatalf("default priority encoded as %q, want empty string", got)
	}
	if got := parseSignedFieldValue(""); got != DefaultPriority {
		t.Fatalf("parsing empty field value = %+v, want default %+v", got, DefaultPriority)
	}
}

// TestPriorityFieldValueRoundTrips exercises non-default urgency and the
// incremental flag together.
func TestPriorityFieldValueRoundTrips(t *testing.T) {
	p := Priority{Urgency: 5, Incremental: true}
	s := p.encodeSignedFieldValue()
	got := parseSignedFieldValue(s)
	if got != p {
		t.Fatalf("round trip of %+v through %q produced %+v", p, s, got)
	}
}

// TestPriorityHandlerOscillationSendsOneFrame mirrors spec.md's scenario
// of two updates that return to an already-sent value: the first change
// owes a frame until it is sent, a second change owes one again, and an
// update back to the value already on the wire owes nothing.
func TestPriorityHandlerOscillationSendsOneFrame(t *testing.T) {
	h := newPriorityHandler()

	if !h.MaybeUpdatePriority(Priority{Urgency: 1}) {
		t.Fatalf("changing from default urgency should report a change")
	}
	if !h.MaybeEncodeFrame() {
		t.Fatalf("expected a frame to be owed after the first update")
	}
	h.PriorityUpdateSent()
	if h.MaybeEncodeFrame() {
		t.Fatalf("no frame should be owed immediately after PriorityUpdateSent")
	}

	// Update to a second value, then back to the one already sent: the
	// handler must still report a frame owed (priority != lastSent)
	// while it sits at urgency 2, but once it oscillates back to
	// urgency 1 it must again match lastSentPriority and owe nothing.
	h.MaybeUpdatePriority(Priority{Urgency: 2})
	if !h.MaybeEncodeFrame() {
		t.Fatalf("expected a frame to be owed after the second update")
	}
	h.MaybeUpdatePriority(Priority{Urgency: 1})
	if h.MaybeEncodeFrame() {
		t.Fatalf("oscillating back to the already-sent priority should not owe a frame")
	}
}
