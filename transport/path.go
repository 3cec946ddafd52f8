package transport

import (
	"net"
	"time"
)

// pathState is the validation lifecycle of one network path (RFC 9000
// section 8 and section 9).
type pathState int

const (
	pathUnvalidated pathState = iota
	pathValidating
	pathValidated
	pathFailed
)

func (s pathState) String() string {
	switch s {
	case pathUnvalidated:
		return "unvalidated"
	case pathValidating:
		return "validating"
	case pathValidated:
		return "validated"
	case pathFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// path is one local/remote 4-tuple this connection has observed, along
// with its validation and anti-amplification state. Grounded on the
// teacher's single-path assumption in conn.go, generalized to the
// multi-path registry RFC 9000 section 9 requires for migration.
type path struct {
	id int

	local  net.Addr
	remote net.Addr

	state pathState

	// bytesSent/bytesReceived enforce the 3x anti-amplification limit
	// (RFC 9000 section 8.1) while state != pathValidated.
	bytesSent     uint64
	bytesReceived uint64

	challengeData    [8]byte
	haveChallenge    bool
	challengeSentAt  time.Time
	validationPTOs   int

	localCID  []byte // connection ID this endpoint uses as source on this path
	remoteCID []byte // connection ID this endpoint addresses the peer with on this path

	pmtud *pmtud
	ecn   *ecnValidator

	rttEstimate *lossDetector

	isNAT bool // set once a validated path is found to use a different 4-tuple than the one it replaced, informational only
}

func newPath(id int, local, remote net.Addr, clock Clock) *path {
	v6 := false
	if a, ok := remote.(*net.UDPAddr); ok {
		v6 = a.IP.To4() == nil
	}
	return &path{
		id:          id,
		local:       local,
		remote:      remote,
		state:       pathUnvalidated,
		pmtud:       newPmtud(v6),
		ecn:         newEcnValidator(),
		rttEstimate: newLossDetector(clock),
	}
}

// amplificationLimit returns the maximum additional bytes this endpoint
// may send on the path before it must wait for more validating data from
// the peer, per the 3x rule.
func (p *path) amplificationLimit() uint64 {
	if p.state == pathValidated {
		return ^uint64(0)
	}
	limit := p.bytesReceived * 3
	if limit <= p.bytesSent {
		return 0
	}
	return limit - p.bytesSent
}

func (p *path) recordSent(n int)     { p.bytesSent += uint64(n) }
func (p *path) recordReceived(n int) { p.bytesReceived += uint64(n) }

// startValidation arms a PATH_CHALLENGE with fresh random data and
// transitions to Validating.
func (p *path) startValidation(data [8]byte, now time.Time) {
	p.challengeData = data
	p.haveChallenge = true
	p.challengeSentAt = now
	p.state = pathValidating
}

// onPathResponse checks a PATH_RESPONSE's data against the outstanding
// challenge and, if it matches, marks the path validated.
func (p *path) onPathResponse(data [8]byte) bool {
	if !p.haveChallenge || data != p.challengeData {
		return false
	}
	p.haveChallenge = false
	p.state = pathValidated
	return true
}

// pathRegistry tracks every path this connection has seen, keyed by
// identity, and which one is currently active for sending.
type pathRegistry struct {
	paths   []*path
	activeIdx int
	nextID  int
}

func newPathRegistry() *pathRegistry {
	return &pathRegistry{activeIdx: -1}
}

func (r *pathRegistry) active() *path {
	if r.activeIdx < 0 || r.activeIdx >= len(r.paths) {
		return nil
	}
	return r.paths[r.activeIdx]
}

// findOrCreate returns the existing path matching (local, remote) or
// creates a new one.
func (r *pathRegistry) findOrCreate(local, remote net.Addr, clock Clock) *path {
	for _, p := range r.paths {
		if addrEqual(p.local, local) && addrEqual(p.remote, remote) {
			return p
		}
	}
	p := newPath(r.nextID, local, remote, clock)
	r.nextID++
	r.paths = append(r.paths, p)
	return p
}

func (r *pathRegistry) setActive(p *path) {
	for i, existing := range r.paths {
		if existing == p {
			r.activeIdx = i
			return
		}
	}
}

// validatedPathExists reports whether any known path besides the one
// excluded is validated, used to decide whether NoAvailablePath should be
// raised when the active path fails.
func (r *pathRegistry) validatedPathExists(excluding *path) bool {
	for _, p := range r.paths {
		if p == excluding {
			continue
		}
		if p.state == pathValidated {
			return true
		}
	}
	return false
}

func addrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// classifyMigration implements the invalid-migration checks from the
// connection-migration invariants: unspecified remote IP, port zero,
// mixed address families between local and remote, loopback crossing a
// non-loopback boundary, or neither address actually changing.
func classifyMigration(oldLocal, oldRemote, newLocal, newRemote *net.UDPAddr) *Error {
	if newRemote == nil || newRemote.IP == nil || newRemote.IP.IsUnspecified() {
		return newError(InvalidMigration, "unspecified remote address")
	}
	if newRemote.Port == 0 {
		return newError(InvalidMigration, "remote port zero")
	}
	localIsV4 := newLocal == nil || newLocal.IP.To4() != nil
	remoteIsV4 := newRemote.IP.To4() != nil
	if newLocal != nil && localIsV4 != remoteIsV4 {
		return newError(InvalidMigration, "mixed address families")
	}
	if newRemote.IP.IsLoopback() != oldRemote.IP.IsLoopback() {
		return newError(InvalidMigration, "loopback boundary crossed")
	}
	if addrEqual(oldLocal, newLocal) && addrEqual(oldRemote, newRemote) {
		return newError(InvalidMigration, "migration target matches current path")
	}
	return nil
}
