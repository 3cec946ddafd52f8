package transport

import "time"

// maxProbes is the number of consecutive losses at a table size (taking
// into account that a loss at a larger size counts as evidence against
// every larger entry too) before PMTUD gives up on that size and every
// size above it. Grounded on neqo's pmtud.rs MAX_PROBES.
const maxProbes = 3

// plpmtudRaiseTimeout is how long PMTUD waits, once it has settled on a
// discovered size, before trying to probe upward again in case the path
// MTU increased.
const plpmtudRaiseTimeout = 600 * time.Second

// ipv4SearchTable and ipv6SearchTable are the discrete candidate PLPMTU
// sizes this engine probes, smallest first: the common Ethernet/PPPoE
// sizes up to 1500, then jumbo-frame sizes up to the 16-bit UDP length
// ceiling.
var (
	ipv4SearchTable = []int{1280, 1380, 1420, 1472, 1500, 2047, 4095, 8191, 16383, 32767, 65535}
	ipv6SearchTable = []int{1280, 1380, 1470, 1500, 2047, 4095, 8191, 16383, 32767, 65535}
)

const (
	ipv4HeaderSize = 20 + 8 // IPv4 + UDP
	ipv6HeaderSize = 40 + 8 // IPv6 + UDP
)

// pmtud implements Path MTU Discovery via the PLPMTUD probing approach
// RFC 8899 describes, using the loss-accounting scan neqo's pmtud.rs
// implements rather than a textbook binary search: a loss at one size is
// treated as evidence against every larger untested size too, so a
// handful of probes converge quickly without needlessly re-probing sizes
// a single packet loss already ruled out.
type pmtud struct {
	table      []int
	headerSize int

	probeIndex   int
	probing      bool
	mtu          int // the largest confirmed-deliverable size; headerSize is NOT included
	probeChanges int

	lossCounts []int

	raiseTimer time.Time
}

func newPmtud(isIPv6 bool) *pmtud {
	var table []int
	var header int
	if isIPv6 {
		table = ipv6SearchTable
		header = ipv6HeaderSize
	} else {
		table = ipv4SearchTable
		header = ipv4HeaderSize
	}
	p := &pmtud{
		table:      table,
		headerSize: header,
		lossCounts: make([]int, len(table)),
		mtu:        table[0],
	}
	return p
}

// probeSize returns the candidate PLPMTU size (a raw table entry, on the
// same scale as mtu and every sentPacket.size this package compares
// against it) the current probe should use, or 0, false if no probe is
// outstanding.
func (p *pmtud) probeSize() (int, bool) {
	if !p.probing {
		return 0, false
	}
	return p.table[p.probeIndex], true
}

// startPmtud begins (or resumes) probing by advancing to the next table
// entry, unless already at the last one.
func (p *pmtud) startPmtud() {
	if p.probeIndex+1 >= len(p.table) {
		p.probing = false
		return
	}
	p.probeIndex++
	p.probing = true
}

// restartPmtud resets probing back to the smallest table entry, e.g.
// after a loss so severe it invalidates any earlier progress.
func (p *pmtud) restartPmtud() {
	p.probeIndex = 0
	p.probing = false
	p.probeChanges++
	p.startPmtud()
}

// stopPmtud commits lastOK as the discovered MTU and arms the raise
// timer to try again later.
func (p *pmtud) stopPmtud(lastOKIndex int, now time.Time) {
	p.probing = false
	if lastOKIndex >= 0 && lastOKIndex < len(p.table) {
		p.mtu = p.table[lastOKIndex]
		p.probeIndex = lastOKIndex
	}
	p.raiseTimer = now.Add(plpmtudRaiseTimeout)
}

// onPacketsAcked resets loss accounting for every table index too small
// to have been at risk from the newly-acked packets, and commits the MTU
// if one of the acked packets was a recognized probe.
func (p *pmtud) onPacketsAcked(acked []*sentPacket, now time.Time) {
	var maxAckedLen int
	var committedProbe bool
	for _, sp := range acked {
		if !sp.isPMTUDProbe {
			continue
		}
		if sp.size > maxAckedLen {
			maxAckedLen = sp.size
		}
		if probeSize, ok := p.probeSize(); ok && sp.size == probeSize {
			committedProbe = true
		}
	}
	if maxAckedLen == 0 {
		return
	}
	for i, size := range p.table {
		if size < maxAckedLen {
			p.lossCounts[i] = 0
		}
	}
	if committedProbe {
		p.mtu = p.table[p.probeIndex]
		p.startPmtud()
	}
}

// onPacketsLost runs the loss-accounting scan: a loss at length L is
// recorded against the smallest table index whose size could have
// carried a packet that size, then propagated as evidence against every
// larger index via a running-sum scan, since a packet that large failing
// to arrive says nothing good about any larger candidate size either.
func (p *pmtud) onPacketsLost(lost []*sentPacket, now time.Time) {
	if len(lost) == 0 {
		return
	}
	increase := make([]int, len(p.table))
	for _, sp := range lost {
		if !sp.isPMTUDProbe {
			continue
		}
		idx := 0
		for idx < len(p.table) && p.table[idx] < sp.size {
			idx++
		}
		if idx < len(increase) {
			increase[idx]++
		}
	}
	var accum int
	firstFailed := -1
	for i := range p.table {
		accum += increase[i]
		p.lossCounts[i] += accum
		if firstFailed < 0 && p.lossCounts[i] >= maxProbes {
			firstFailed = i
		}
	}
	if firstFailed <= 0 {
		return
	}
	lastOK := firstFailed - 1
	if !p.probing {
		p.restartPmtud()
		return
	}
	p.stopPmtud(lastOK, now)
}

// maybeRaise reports whether now is past the raise timer, and if so
// resets probing to start climbing again.
func (p *pmtud) maybeRaise(now time.Time) bool {
	if p.raiseTimer.IsZero() || now.Before(p.raiseTimer) {
		return false
	}
	p.raiseTimer = time.Time{}
	p.restartPmtud()
	return true
}

// Mtu returns the largest interface-level size this path is currently
// believed to support (a raw search-table entry, header overhead not
// yet removed).
func (p *pmtud) Mtu() int { return p.mtu }

// PayloadMTU returns the usable QUIC packetization-layer payload size at
// the currently confirmed MTU (spec.md section 4.6's `plpmtu`): the
// search-table entry minus this address family's IP+UDP header
// overhead, e.g. 1280-28=1252 for the IPv4 floor.
func (p *pmtud) PayloadMTU() int { return p.mtu - p.headerSize }
