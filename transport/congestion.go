package transport

import (
	"math"
	"time"
)

// CongestionController is the interface both congestion-control
// algorithms this engine ships satisfy. Grounded on neqo's
// cc::CongestionControl trait (cc/mod.rs), translated from a Rust trait
// object into a Go interface: callers hold a CongestionController value
// and never need to know whether it is backed by NewReno or Cubic.
type CongestionController interface {
	Cwnd() int
	BytesInFlight() int
	CwndAvail() int

	OnPacketSent(size int, now time.Time)
	OnPacketsAcked(acked []*sentPacket, rtt time.Duration, now time.Time)
	// OnPacketsLost reports true if the congestion window was reduced.
	OnPacketsLost(lost []*sentPacket, pto time.Duration, now time.Time) bool
	// OnEcnCE reports true if the congestion window was reduced.
	OnEcnCE(now time.Time) bool

	Discard(size int)
	DiscardInFlight()

	// RecoveryPacket reports whether the connection is presently in
	// recovery (used to gate whether a loss may trigger another cwnd
	// reduction before recovery has ended).
	RecoveryPacket() bool
}

// classicCongestionControl holds the state and bookkeeping shared by both
// NewReno and Cubic (RFC 9002's "classic" congestion control family);
// only the growth functions differ; grounded on neqo's
// cc/classic_cc.rs, which layers the same sharing over its two algorithm
// structs via Rust generics where this engine uses embedding instead.
type classicCongestionControl struct {
	cwnd          int
	ssthresh      int
	bytesInFlight int

	cwndInitial int
	cwndMin     int
	maxDatagramSize int

	congestionRecoveryStart time.Time
	inRecovery              bool

	ackedBytesEpoch int // bytes acked in congestion avoidance not yet converted into NewReno window growth

	algo congestionAlgorithmImpl
}

// congestionAlgorithmImpl is the small seam between the shared
// classicCongestionControl bookkeeping and the two growth-function
// bodies; only NewReno and Cubic implement it.
type congestionAlgorithmImpl interface {
	// onCongestionEvent is invoked once per loss/ECN event and returns the
	// new cwnd and ssthresh.
	onCongestionEvent(cwnd, maxDatagramSize int, now time.Time) (newCwnd, newSsthresh int)
	// onAckedInCongestionAvoidance grows cwnd given ackedBytes newly
	// confirmed delivered while already past ssthresh.
	onAckedInCongestionAvoidance(cc *classicCongestionControl, ackedBytes int, rtt time.Duration, now time.Time) int
	reset()
}

const kInitialWindowPackets = 10
const kMinimumWindowPackets = 2
const kPersistentCongestionPackets = 3

// kInitialWindowCapBytes is spec.md section 4.4's absolute ceiling on the
// initial window regardless of MSS: `10 x MSS` capped by 14720 bytes.
const kInitialWindowCapBytes = 14720

func newClassicCongestionControl(algo congestionAlgorithmImpl, maxDatagramSize int) *classicCongestionControl {
	cwndInitial := kInitialWindowPackets * maxDatagramSize
	if cwndInitial > kInitialWindowCapBytes {
		cwndInitial = kInitialWindowCapBytes
	}
	cc := &classicCongestionControl{
		maxDatagramSize: maxDatagramSize,
		cwndInitial:     cwndInitial,
		cwndMin:         kMinimumWindowPackets * maxDatagramSize,
		ssthresh:        1 << 31,
		algo:            algo,
	}
	cc.cwnd = cc.cwndInitial
	return cc
}

func (cc *classicCongestionControl) Cwnd() int          { return cc.cwnd }
func (cc *classicCongestionControl) BytesInFlight() int { return cc.bytesInFlight }
func (cc *classicCongestionControl) CwndAvail() int {
	if cc.cwnd <= cc.bytesInFlight {
		return 0
	}
	return cc.cwnd - cc.bytesInFlight
}
func (cc *classicCongestionControl) RecoveryPacket() bool { return cc.inRecovery }

func (cc *classicCongestionControl) OnPacketSent(size int, now time.Time) {
	cc.bytesInFlight += size
}

func (cc *classicCongestionControl) Discard(size int) {
	cc.bytesInFlight -= size
	if cc.bytesInFlight < 0 {
		cc.bytesInFlight = 0
	}
}

func (cc *classicCongestionControl) DiscardInFlight() {
	cc.bytesInFlight = 0
}

func (cc *classicCongestionControl) OnPacketsAcked(acked []*sentPacket, rtt time.Duration, now time.Time) {
	var ackedBytes int
	var largestAckedSentTime time.Time
	for _, sp := range acked {
		ackedBytes += sp.size
		cc.bytesInFlight -= sp.size
		t := time.Unix(0, sp.timeSent)
		if t.After(largestAckedSentTime) {
			largestAckedSentTime = t
		}
	}
	if cc.bytesInFlight < 0 {
		cc.bytesInFlight = 0
	}
	if !largestAckedSentTime.IsZero() && cc.inRecovery && largestAckedSentTime.After(cc.congestionRecoveryStart) {
		cc.inRecovery = false
		cc.ackedBytesEpoch = 0
	}
	if cc.cwnd < cc.ssthresh {
		// Slow start: grow by the full acked byte count (RFC 9002 section
		// 7.3.1).
		cc.cwnd += ackedBytes
	} else {
		cc.ackedBytesEpoch += ackedBytes
		cc.cwnd = cc.algo.onAckedInCongestionAvoidance(cc, cc.ackedBytesEpoch, rtt, now)
	}
}

// onCongestionEventAt applies a single congestion-window reduction,
// entering recovery if not already in it. Returns true if the window was
// actually reduced (false if already in recovery for a later event).
func (cc *classicCongestionControl) onCongestionEventAt(now time.Time) bool {
	if cc.inRecovery && !cc.congestionRecoveryStart.Before(now) {
		return false
	}
	cc.inRecovery = true
	cc.congestionRecoveryStart = now
	newCwnd, newSsthresh := cc.algo.onCongestionEvent(cc.cwnd, cc.maxDatagramSize, now)
	if newCwnd < cc.cwndMin {
		newCwnd = cc.cwndMin
	}
	cc.cwnd = newCwnd
	cc.ssthresh = newSsthresh
	cc.ackedBytesEpoch = 0
	return true
}

func (cc *classicCongestionControl) OnPacketsLost(lost []*sentPacket, pto time.Duration, now time.Time) bool {
	if len(lost) == 0 {
		return false
	}
	var total int
	var earliestSent, latestSent time.Time
	for _, sp := range lost {
		total += sp.size
		cc.bytesInFlight -= sp.size
		t := time.Unix(0, sp.timeSent)
		if earliestSent.IsZero() || t.Before(earliestSent) {
			earliestSent = t
		}
		if t.After(latestSent) {
			latestSent = t
		}
	}
	if cc.bytesInFlight < 0 {
		cc.bytesInFlight = 0
	}
	reduced := cc.onCongestionEventAt(latestSent)
	// Persistent congestion (RFC 9002 section 7.6.2): every packet sent
	// in a window kPersistentCongestionPackets PTOs wide was lost.
	if !earliestSent.IsZero() && latestSent.Sub(earliestSent) > pto*kPersistentCongestionPackets {
		cc.cwnd = cc.cwndMin
		cc.algo.reset()
	}
	return reduced
}

func (cc *classicCongestionControl) OnEcnCE(now time.Time) bool {
	return cc.onCongestionEventAt(now)
}

// newReno implements RFC 9002's reference congestion avoidance (linear
// cwnd growth, halving on loss). Grounded on neqo's cc/new_reno.rs.
type newReno struct{}

func newNewReno(maxDatagramSize int) *classicCongestionControl {
	return newClassicCongestionControl(&newReno{}, maxDatagramSize)
}

func (newReno) onCongestionEvent(cwnd, maxDatagramSize int, now time.Time) (int, int) {
	newCwnd := cwnd / 2
	if newCwnd < maxDatagramSize*kMinimumWindowPackets {
		newCwnd = maxDatagramSize * kMinimumWindowPackets
	}
	return newCwnd, newCwnd
}

func (newReno) onAckedInCongestionAvoidance(cc *classicCongestionControl, ackedBytes int, rtt time.Duration, now time.Time) int {
	// One maxDatagramSize of growth per cwnd's worth of acked bytes.
	if ackedBytes < cc.cwnd {
		return cc.cwnd
	}
	cc.ackedBytesEpoch -= cc.cwnd
	return cc.cwnd + cc.maxDatagramSize
}

func (newReno) reset() {}

// cubic implements RFC 9438's CUBIC congestion avoidance with the
// constants neqo uses (beta 0.7, C 0.4). Grounded on neqo's
// cc/cubic.rs.
type cubic struct {
	wMax       float64
	k          float64
	epochStart time.Time
	haveEpoch  bool

	// wEst is the TCP-friendly region estimate (RFC 9438, neqo's
	// cc/mod.rs): the window a standard Reno flow would have reached by
	// now, tracked so Cubic never grows slower than Reno would.
	wEst      float64
	wEstEpoch float64
}

const (
	cubicBeta = 0.7
	cubicC    = 0.4
)

// cubicTcpFriendlyGrowthPerRTT is the TCP-friendly region's growth rate,
// in MSS-normalized segments per RTT: `3*beta/(2-beta)`.
const cubicTcpFriendlyGrowthPerRTT = 3 * cubicBeta / (2 - cubicBeta)

func newCubic(maxDatagramSize int) *classicCongestionControl {
	return newClassicCongestionControl(&cubic{}, maxDatagramSize)
}

func (cu *cubic) onCongestionEvent(cwnd, maxDatagramSize int, now time.Time) (int, int) {
	cu.wMax = float64(cwnd)
	newCwnd := int(float64(cwnd) * cubicBeta)
	if newCwnd < maxDatagramSize*kMinimumWindowPackets {
		newCwnd = maxDatagramSize * kMinimumWindowPackets
	}
	// K is the time until the cubic function again reaches wMax
	// (RFC 9438 section 4.1).
	cu.k = math.Cbrt(cu.wMax / float64(maxDatagramSize) * (1 - cubicBeta) / cubicC)
	cu.haveEpoch = false
	return newCwnd, newCwnd
}

func (cu *cubic) onAckedInCongestionAvoidance(cc *classicCongestionControl, ackedBytes int, rtt time.Duration, now time.Time) int {
	if !cu.haveEpoch {
		cu.epochStart = now
		cu.haveEpoch = true
		cu.wEstEpoch = float64(cc.cwnd)
		if cu.wMax <= float64(cc.cwnd) {
			cu.k = 0
		}
	}
	t := now.Sub(cu.epochStart).Seconds()
	target := cubicC*cube(t-cu.k)*float64(cc.maxDatagramSize) + cu.wMax

	// TCP-friendly region (RFC 9438's W_est): the window a standard Reno
	// flow would have reached by now, growing by
	// cubicTcpFriendlyGrowthPerRTT MSS-normalized segments per RTT
	// elapsed since the epoch began. Cubic uses whichever of its own
	// curve or this estimate is larger, so it never falls behind Reno.
	if rttSeconds := rtt.Seconds(); rttSeconds > 0 {
		cu.wEst = cu.wEstEpoch + cubicTcpFriendlyGrowthPerRTT*(t/rttSeconds)*float64(cc.maxDatagramSize)
	} else {
		cu.wEst = cu.wEstEpoch
	}
	if cu.wEst > target {
		target = cu.wEst
	}

	if target < float64(cc.cwndMin) {
		target = float64(cc.cwndMin)
	}
	if target > float64(cc.cwnd) {
		// Cubic's W_cubic(t) (or W_est, whichever is larger) exceeds the
		// current window: grow toward it, bounded by one maximum
		// datagram per RTT as RFC 9438 requires.
		step := (target - float64(cc.cwnd)) / float64(cc.cwnd) * float64(cc.maxDatagramSize)
		if step > float64(cc.maxDatagramSize) {
			step = float64(cc.maxDatagramSize)
		}
		return cc.cwnd + int(step)
	}
	return cc.cwnd
}

func (cu *cubic) reset() {
	cu.wMax = 0
	cu.haveEpoch = false
	cu.wEst = 0
	cu.wEstEpoch = 0
}

func cube(x float64) float64 { return x * x * x }
