package transport

// localCID is a connection ID this endpoint has issued to the peer via
// NEW_CONNECTION_ID.
type localCID struct {
	seq            uint64
	cid            []byte
	statelessReset []byte
	retired        bool
}

// remoteCID is a connection ID the peer has issued to this endpoint,
// available to address outgoing packets with (e.g. after migration).
type remoteCID struct {
	seq            uint64
	cid            []byte
	statelessReset []byte
	inUse          bool
}

// cidPool manages the two independent connection-ID sequences RFC 9000
// section 5.1 defines: IDs this endpoint has issued (localCIDs, retired
// by the peer's RETIRE_CONNECTION_ID) and IDs the peer has issued to this
// endpoint (remoteCIDs, retired by this endpoint's own
// RETIRE_CONNECTION_ID once no longer needed). Grounded on the teacher's
// flat CID slice in conn.go, split into the two sequences and the
// retire_prior_to bookkeeping the spec's migration invariants require.
type cidPool struct {
	gen ConnectionIdGenerator

	local          []localCID
	localNextSeq   uint64
	localRetirePriorTo uint64
	activeLimit    uint64 // peer's active_connection_id_limit: how many we may have outstanding unretired

	remote        []remoteCID
	remoteRetiredUpTo uint64

	zeroLengthLocal  bool
	zeroLengthRemote bool
}

func newCidPool(gen ConnectionIdGenerator) *cidPool {
	return &cidPool{gen: gen, activeLimit: 2}
}

// issueLocal generates and records a new local CID for the peer to use,
// up to activeLimit outstanding. Returns nil, nil if the limit is
// already reached.
func (p *cidPool) issueLocal(length int, statelessReset []byte) (*localCID, error) {
	if p.zeroLengthLocal {
		return nil, newError(InternalError, "cannot issue CIDs when using a zero-length local CID")
	}
	outstanding := uint64(0)
	for _, c := range p.local {
		if !c.retired {
			outstanding++
		}
	}
	if outstanding >= p.activeLimit {
		return nil, nil
	}
	cid, err := p.gen.Generate(length)
	if err != nil {
		return nil, wrapError(InternalError, "generate connection id", err)
	}
	lc := localCID{seq: p.localNextSeq, cid: cid, statelessReset: statelessReset}
	p.localNextSeq++
	p.local = append(p.local, lc)
	return &p.local[len(p.local)-1], nil
}

// retireLocal marks the local CID with the given sequence retired, after
// the peer has acknowledged the RETIRE it issued against it having been
// superseded, or because this endpoint itself decided to retire it (e.g.
// responding to the peer's retire_prior_to).
func (p *cidPool) retireLocal(seq uint64) {
	for i := range p.local {
		if p.local[i].seq == seq {
			p.local[i].retired = true
			return
		}
	}
}

// onNewConnectionId records a CID the peer issued to this endpoint,
// retiring any of this endpoint's remote CIDs below retirePriorTo per RFC
// 9000 section 19.15.
func (p *cidPool) onNewConnectionId(seq, retirePriorTo uint64, cid, statelessReset []byte) ([]uint64, error) {
	if retirePriorTo > seq {
		return nil, newError(FrameEncodingError, "retire_prior_to exceeds sequence number")
	}
	for _, c := range p.remote {
		if c.seq == seq {
			return nil, nil // duplicate
		}
	}
	p.remote = append(p.remote, remoteCID{seq: seq, cid: cid, statelessReset: statelessReset})
	var toRetire []uint64
	if retirePriorTo > p.remoteRetiredUpTo {
		for _, c := range p.remote {
			if c.seq < retirePriorTo {
				toRetire = append(toRetire, c.seq)
			}
		}
		p.remoteRetiredUpTo = retirePriorTo
	}
	if len(p.remote) > int(p.activeLimit)+1 {
		return nil, newError(ConnectionIdLimitError, "too many connection ids")
	}
	return toRetire, nil
}

// onRetireConnectionId removes seq from this endpoint's issued set, once
// the peer confirms it no longer needs it.
func (p *cidPool) onRetireConnectionId(seq uint64) error {
	if seq >= p.localNextSeq {
		return newError(ProtocolViolation, "retiring connection id never issued")
	}
	p.retireLocal(seq)
	return nil
}

// pickRemote returns an unused remote CID to address a new path with,
// marking it in use.
func (p *cidPool) pickRemote() (*remoteCID, bool) {
	for i := range p.remote {
		if !p.remote[i].inUse && p.remote[i].seq >= p.remoteRetiredUpTo {
			p.remote[i].inUse = true
			return &p.remote[i], true
		}
	}
	return nil, false
}
