package transport

import "testing"

// TestInitialWindowCap checks spec.md section 4.4's absolute ceiling on
// the initial window: 10 x MSS capped at 14720 bytes, regardless of how
// large the path's MSS turns out to be.
func TestInitialWindowCap(t *testing.T) {
	small := newNewReno(1200)
	if got := small.Cwnd(); got != 10*1200 {
		t.Fatalf("cwnd with 1200-byte MSS = %d, want %d", got, 10*1200)
	}

	big := newCubic(1500)
	if got := big.Cwnd(); got != kInitialWindowCapBytes {
		t.Fatalf("cwnd with 1500-byte MSS = %d, want the %d cap", got, kInitialWindowCapBytes)
	}
}

// TestNewRenoHalvesOnLoss checks RFC 9002 section 7.3.2's reduction:
// cwnd halves (floored at the minimum window) and ssthresh tracks it.
func TestNewRenoHalvesOnLoss(t *testing.T) {
	clk := newManualClock(zeroTime)
	cc := newNewReno(1200)
	cc.cwnd = 24000
	before := cc.Cwnd()

	sp := &sentPacket{size: 1200, timeSent: clk.Now().UnixNano()}
	clk.Advance(100 * msDuration)
	reduced := cc.OnPacketsLost([]*sentPacket{sp}, 3*rttDuration, clk.Now())

	if !reduced {
		t.Fatalf("expected the congestion window to be reduced")
	}
	if cc.Cwnd() >= before {
		t.Fatalf("cwnd after loss = %d, want less than %d", cc.Cwnd(), before)
	}
	if cc.Cwnd() < cc.cwndMin {
		t.Fatalf("cwnd after loss = %d, fell below the minimum window %d", cc.Cwnd(), cc.cwndMin)
	}
	if cc.Cwnd() != before/2 {
		t.Fatalf("cwnd after loss = %d, want half of %d", cc.Cwnd(), before)
	}
	if cc.ssthresh != cc.Cwnd() {
		t.Fatalf("ssthresh after loss = %d, want it to track cwnd %d", cc.ssthresh, cc.Cwnd())
	}
}

// TestCubicWEstGrowsTcpFriendly exercises Cubic's TCP-friendly W_est
// growth (3*beta/(2-beta) segments per RTT): the window at the instant
// of a congestion event exactly matches beta*wMax by construction
// (t=0 on the cubic curve), so growth is only visible once further
// time passes within the same congestion-avoidance epoch.
func TestCubicWEstGrowsTcpFriendly(t *testing.T) {
	clk := newManualClock(zeroTime)
	cc := newCubic(1200)
	cc.cwnd = 24000
	cc.OnPacketsLost([]*sentPacket{{size: 1200, timeSent: clk.Now().UnixNano()}}, 3*rttDuration, clk.Now())

	clk.Advance(rttDuration)
	first := []*sentPacket{{size: 1200, timeSent: clk.Now().UnixNano()}}
	cc.OnPacketsAcked(first, rttDuration, clk.Now())
	cwndAfterEpochStart := cc.Cwnd()

	clk.Advance(5 * rttDuration)
	second := []*sentPacket{{size: 1200, timeSent: clk.Now().UnixNano()}}
	cc.OnPacketsAcked(second, rttDuration, clk.Now())

	if cc.Cwnd() <= cwndAfterEpochStart {
		t.Fatalf("cwnd did not grow across the epoch: at-epoch-start=%d after-5-rtt=%d", cwndAfterEpochStart, cc.Cwnd())
	}
}

const msDuration = 1_000_000 // nanoseconds, to avoid importing time twice for a literal
const rttDuration = 50 * msDuration
