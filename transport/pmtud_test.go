package transport

import (
	"testing"
	"time"
)

var zeroTime time.Time

// TestPmtudDiscoveryToPathLimit drives PLPMTUD against a simulated IPv4
// path whose real limit is 1500 bytes: probes below the limit succeed,
// probes above it are lost three times running and the search commits to
// the largest size that worked. Mirrors spec.md's worked PMTUD example.
func TestPmtudDiscoveryToPathLimit(t *testing.T) {
	p := newPmtud(false)

	if got := p.PayloadMTU(); got != 1252 {
		t.Fatalf("initial PayloadMTU = %d, want 1252 (1280-28)", got)
	}

	// onPacketsAcked advances to the next table entry itself on a
	// committed probe, so only the very first probe needs an explicit
	// startPmtud to kick off the search.
	succeed := func(size int) {
		got, ok := p.probeSize()
		if !ok || got != size {
			t.Fatalf("probeSize = %d,%v, want %d,true", got, ok, size)
		}
		p.onPacketsAcked([]*sentPacket{{isPMTUDProbe: true, size: size}}, zeroTime)
	}

	p.startPmtud()
	succeed(1380)
	if got := p.Mtu(); got != 1380 {
		t.Fatalf("after 1380 probe, mtu = %d, want 1380", got)
	}
	succeed(1420)
	if got := p.Mtu(); got != 1420 {
		t.Fatalf("after 1420 probe, mtu = %d, want 1420", got)
	}
	succeed(1472)
	if got := p.Mtu(); got != 1472 {
		t.Fatalf("after 1472 probe, mtu = %d, want 1472", got)
	}
	succeed(1500)
	if got := p.Mtu(); got != 1500 {
		t.Fatalf("after 1500 probe, mtu = %d, want 1500", got)
	}

	// Next candidate is 2047, which exceeds the simulated path's 1500-byte
	// limit: it is lost three times running. onPacketsAcked's commit
	// above already advanced the probe to this entry.
	if got, ok := p.probeSize(); !ok || got != 2047 {
		t.Fatalf("probeSize = %d,%v, want 2047,true", got, ok)
	}
	for i := 0; i < maxProbes; i++ {
		p.onPacketsLost([]*sentPacket{{isPMTUDProbe: true, size: 2047}}, zeroTime)
	}

	if got := p.Mtu(); got != 1500 {
		t.Fatalf("final mtu = %d, want 1500", got)
	}
	if got := p.PayloadMTU(); got != 1472 {
		t.Fatalf("final PayloadMTU = %d, want 1472 (1500-28)", got)
	}
	if p.probing {
		t.Fatalf("probing should have stopped after the repeated 2047 loss")
	}
}

// TestPmtudRestartAfterSevereLoss checks that repeated loss of a
// probe-flagged packet at the current confirmed size, reported while no
// probe is outstanding (probing has stopped), restarts the search from
// the smallest table entry rather than leaving PMTUD stuck.
func TestPmtudRestartAfterSevereLoss(t *testing.T) {
	p := newPmtud(false)
	p.mtu = 1472
	p.probeIndex = 3
	p.probing = false

	for i := 0; i < maxProbes; i++ {
		p.onPacketsLost([]*sentPacket{{isPMTUDProbe: true, size: 1472}}, zeroTime)
	}

	if !p.probing {
		t.Fatalf("restartPmtud should resume probing")
	}
	if got, ok := p.probeSize(); !ok || got != 1380 {
		t.Fatalf("probeSize after restart = %d,%v, want 1380,true", got, ok)
	}
}
