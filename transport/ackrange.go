package transport

import "sort"

// ackRange is an inclusive range of packet numbers [Low, High].
type ackRange struct {
	Low, High uint64
}

// ackRangeSet tracks packet numbers that need to be acknowledged (or, in
// reverse, the set of packet numbers a peer has confirmed receiving) as a
// sorted list of disjoint, non-adjacent inclusive ranges, descending by
// High. This mirrors the "recvPacketNeedAck" structure referenced by the
// teacher's conn.go and the ack-range-set RFC 9000 section 19.3 encodes.
type ackRangeSet struct {
	ranges []ackRange // sorted descending by High
}

// Add records pn as received/needing ack, merging it into an existing
// range where possible.
func (s *ackRangeSet) Add(pn uint64) {
	if s.Contains(pn) {
		return
	}
	// Find insertion point: ranges are sorted descending by High.
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].High < pn
	})
	s.ranges = append(s.ranges, ackRange{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = ackRange{Low: pn, High: pn}
	s.coalesce(i)
}

// coalesce merges range i with its neighbours if they have become
// adjacent or overlapping after a mutation.
func (s *ackRangeSet) coalesce(i int) {
	for i > 0 && s.ranges[i-1].Low <= s.ranges[i].High+1 {
		if s.ranges[i-1].High > s.ranges[i].High {
			s.ranges[i].High = s.ranges[i-1].High
		}
		if s.ranges[i-1].Low < s.ranges[i].Low {
			s.ranges[i].Low = s.ranges[i-1].Low
		}
		s.ranges = append(s.ranges[:i-1], s.ranges[i:]...)
		i--
	}
	for i+1 < len(s.ranges) && s.ranges[i].Low <= s.ranges[i+1].High+1 {
		if s.ranges[i+1].High > s.ranges[i].High {
			s.ranges[i].High = s.ranges[i+1].High
		}
		if s.ranges[i+1].Low < s.ranges[i].Low {
			s.ranges[i].Low = s.ranges[i+1].Low
		}
		s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
	}
}

// Contains reports whether pn falls within any tracked range.
func (s *ackRangeSet) Contains(pn uint64) bool {
	for _, r := range s.ranges {
		if pn >= r.Low && pn <= r.High {
			return true
		}
		if r.Low > pn {
			continue
		}
		break
	}
	return false
}

// Largest returns the highest tracked packet number and whether the set
// is non-empty.
func (s *ackRangeSet) Largest() (uint64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].High, true
}

// RemoveUpTo discards every range entirely at or below pn, and trims any
// range that straddles it. Used once an ACK frame has confirmed the peer
// has seen everything up to largestAck, so there's no need to keep
// re-acknowledging it.
func (s *ackRangeSet) RemoveUpTo(pn uint64) {
	i := 0
	for i < len(s.ranges) && s.ranges[i].High <= pn {
		i++
	}
	s.ranges = s.ranges[i:]
	if len(s.ranges) > 0 && s.ranges[0].Low <= pn {
		s.ranges[0].Low = pn + 1
		if s.ranges[0].Low > s.ranges[0].High {
			s.ranges = s.ranges[1:]
		}
	}
}

// Empty reports whether any packet numbers are tracked.
func (s *ackRangeSet) Empty() bool {
	return len(s.ranges) == 0
}

// Ranges returns the tracked ranges, descending by High. The slice must
// not be mutated by the caller.
func (s *ackRangeSet) Ranges() []ackRange {
	return s.ranges
}
