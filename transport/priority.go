package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority is an HTTP/3 extensible priority (RFC 9218): an urgency level
// 0 (highest) through 7 (lowest) and an incremental flag. Grounded on
// neqo-http3's priority.rs Priority struct.
type Priority struct {
	Urgency     uint8
	Incremental bool
}

// DefaultPriority is the wire default (RFC 9218 section 4): urgency 3,
// non-incremental, which serializes to the empty signed-field-value
// dictionary.
var DefaultPriority = Priority{Urgency: 3, Incremental: false}

// encodeSignedFieldValue renders p as an RFC 8941 structured-field
// dictionary with keys "u" (int, omitted when equal to the default
// urgency) and "i" (boolean, present only when true), matching the
// PRIORITY_UPDATE frame's field value and the Priority HTTP header.
func (p Priority) encodeSignedFieldValue() string {
	var parts []string
	if p.Urgency != DefaultPriority.Urgency {
		parts = append(parts, fmt.Sprintf("u=%d", p.Urgency))
	}
	if p.Incremental {
		parts = append(parts, "i")
	}
	s := ""
	for i, part := range parts {
		if i > 0 {
			s += ", "
		}
		s += part
	}
	return s
}

// parseSignedFieldValue decodes the RFC 8941 dictionary a PRIORITY_UPDATE
// frame carries, recognizing only the two keys RFC 9218 defines; any
// other key or a malformed member is skipped rather than rejected, since
// a future extension adding keys this endpoint doesn't understand must
// not break priority handling.
func parseSignedFieldValue(s string) Priority {
	p := DefaultPriority
	for _, member := range strings.Split(s, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		key, val, hasVal := strings.Cut(member, "=")
		key = strings.TrimSpace(key)
		switch key {
		case "u":
			if hasVal {
				if u, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && u >= 0 && u <= 7 {
					p.Urgency = uint8(u)
				}
			}
		case "i":
			p.Incremental = true
		}
	}
	return p
}

// priorityHandler double-tracks a stream's priority against what was
// last actually placed on the wire, so that oscillating back to a
// previously-sent value never emits a redundant PRIORITY_UPDATE frame.
// Grounded on neqo-http3/src/priority.rs: MaybeUpdatePriority only
// updates the in-memory value and reports whether it changed;
// MaybeEncodeFrame only checks that against lastSentPriority, which is
// committed separately by PriorityUpdateSent once the frame is actually
// placed in an outgoing packet (not merely attempted, since a packet
// build can abort and leave the frame unsent).
type priorityHandler struct {
	priority         Priority
	lastSentPriority Priority
}

func newPriorityHandler() *priorityHandler {
	return &priorityHandler{priority: DefaultPriority, lastSentPriority: DefaultPriority}
}

// MaybeUpdatePriority records a new priority and reports whether it
// differs from the previously recorded one.
func (h *priorityHandler) MaybeUpdatePriority(p Priority) bool {
	changed := p != h.priority
	h.priority = p
	return changed
}

// MaybeEncodeFrame reports whether a PRIORITY_UPDATE frame should be
// built for this stream right now (the current priority differs from
// what was last actually sent).
func (h *priorityHandler) MaybeEncodeFrame() bool {
	return h.priority != h.lastSentPriority
}

// PriorityUpdateSent commits the current priority as sent, to be called
// only once the frame has actually been placed into an outgoing packet.
func (h *priorityHandler) PriorityUpdateSent() {
	h.lastSentPriority = h.priority
}
