package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Supported log events.
// https://quiclog.github.io/internet-drafts/draft-marx-qlog-event-definitions-quic-h3.html
const (
	logEventPacketReceived  = "packet_received"
	logEventPacketSent      = "packet_sent"
	logEventPacketDropped   = "packet_dropped"
	logEventFramesProcessed = "frames_processed"
	logEventPMTUDProbe      = "pmtud_probe_outcome"
	logEventECNStateChanged = "ecn_state_updated"
	logEventPathUpdated     = "path_assigned"
	logEventMetricsUpdated  = "recovery_metrics_updated"
)

// LogEvent is a single qlog-style structured event emitted via a
// QlogSink.
type LogEvent struct {
	Time   time.Time
	Type   string
	Fields []LogField
}

func newLogEvent(tm time.Time, tp string) LogEvent {
	return LogEvent{
		Time:   tm,
		Type:   tp,
		Fields: make([]LogField, 0, 8),
	}
}

func (s *LogEvent) addField(k string, v interface{}) {
	s.Fields = append(s.Fields, newLogField(k, v))
}

func (s LogEvent) String() string {
	buf := bytes.Buffer{}
	buf.WriteString(s.Time.Format(time.RFC3339))
	buf.WriteString(" ")
	buf.WriteString(s.Type)
	for _, f := range s.Fields {
		buf.WriteString(" ")
		buf.WriteString(f.String())
	}
	return buf.String()
}

// LogField represents a number or string value attached to a LogEvent.
type LogField struct {
	Key string
	Str string
	Num uint64
}

func newLogField(key string, val interface{}) LogField {
	s := LogField{Key: key}
	switch val := val.(type) {
	case int:
		s.Num = uint64(val)
	case int8:
		s.Num = uint64(val)
	case int16:
		s.Num = uint64(val)
	case int32:
		s.Num = uint64(val)
	case int64:
		s.Num = uint64(val)
	case uint:
		s.Num = uint64(val)
	case uint8:
		s.Num = uint64(val)
	case uint16:
		s.Num = uint64(val)
	case uint32:
		s.Num = uint64(val)
	case uint64:
		s.Num = val
	case bool:
		s.Str = strconv.FormatBool(val)
	case string:
		s.Str = val
	case []byte:
		s.Str = hex.EncodeToString(val)
	case []uint32:
		b := make([]byte, 0, 32)
		b = append(b, '[')
		for i, v := range val {
			if i > 0 {
				b = append(b, ',')
			}
			b = strconv.AppendUint(b, uint64(v), 10)
		}
		b = append(b, ']')
		s.Str = string(b)
	default:
		s.Str = fmt.Sprintf("%v", val)
	}
	return s
}

func (s LogField) String() string {
	if s.Str == "" {
		return fmt.Sprintf("%s=%d", s.Key, s.Num)
	}
	return fmt.Sprintf("%s=%s", s.Key, s.Str)
}

// Log packets.

func newLogEventPacket(tm time.Time, tp string, p *packet) LogEvent {
	e := newLogEvent(tm, tp)
	logPacket(&e, p)
	return e
}

func logPacket(e *LogEvent, p *packet) {
	e.addField("packet_type", p.typ.String())
	if p.header.version > 0 {
		e.addField("version", p.header.version)
	}
	if len(p.header.dcid) > 0 {
		e.addField("dcid", p.header.dcid)
	}
	if len(p.header.scid) > 0 {
		e.addField("scid", p.header.scid)
	}
	e.addField("packet_number", p.packetNumber)
	if p.payloadLen > 0 {
		e.addField("payload_length", p.payloadLen)
	}
	if len(p.supportedVersions) > 0 {
		e.addField("supported_versions", p.supportedVersions)
	}
	if len(p.token) > 0 {
		e.addField("token", p.token)
	}
}

// Log frames.

func newLogEventFrame(tm time.Time, tp string, f *frame) LogEvent {
	e := newLogEvent(tm, tp)
	logFrame(&e, f)
	return e
}

func logFrame(e *LogEvent, f *frame) {
	switch {
	case f.kind == frameTypePadding:
		e.addField("frame_type", "padding")
	case f.kind == frameTypePing:
		e.addField("frame_type", "ping")
	case f.kind == frameTypeAck || f.kind == frameTypeAckECN:
		e.addField("frame_type", "ack")
		e.addField("ack_delay", f.ackDelay)
		e.addField("largest_acked", f.largestAcked)
	case f.kind == frameTypeResetStream:
		e.addField("frame_type", "reset_stream")
		e.addField("stream_id", f.streamID)
		e.addField("error_code", f.appErrorCode)
		e.addField("final_size", f.finalSize)
	case f.kind == frameTypeStopSending:
		e.addField("frame_type", "stop_sending")
		e.addField("stream_id", f.streamID)
		e.addField("error_code", f.appErrorCode)
	case f.kind == frameTypeCrypto:
		e.addField("frame_type", "crypto")
		e.addField("offset", f.offset)
		e.addField("length", len(f.data))
	case f.kind == frameTypeNewToken:
		e.addField("frame_type", "new_token")
		e.addField("token", f.data)
	case isStreamFrameType(f.kind):
		e.addField("frame_type", "stream")
		e.addField("stream_id", f.streamID)
		e.addField("offset", f.offset)
		e.addField("length", len(f.data))
		e.addField("fin", f.fin)
	case f.kind == frameTypeMaxData || f.kind == frameTypeDataBlocked:
		e.addField("frame_type", f.kind.logName())
		e.addField("maximum", f.maximumData)
	case f.kind == frameTypeMaxStreamData:
		e.addField("frame_type", "max_stream_data")
		e.addField("stream_id", f.streamID)
		e.addField("maximum", f.maximumData)
	case f.kind == frameTypeMaxStreamsBidi || f.kind == frameTypeMaxStreamsUni:
		e.addField("frame_type", "max_streams")
		e.addField("stream_type", streamTypeLabel(f.kind == frameTypeMaxStreamsBidi))
		e.addField("maximum", f.maximumStreams)
	case f.kind == frameTypeStreamDataBlocked:
		e.addField("frame_type", "stream_data_blocked")
		e.addField("stream_id", f.streamID)
		e.addField("limit", f.maximumData)
	case f.kind == frameTypeStreamsBlockedBidi || f.kind == frameTypeStreamsBlockedUni:
		e.addField("frame_type", "streams_blocked")
		e.addField("stream_type", streamTypeLabel(f.kind == frameTypeStreamsBlockedBidi))
		e.addField("limit", f.maximumStreams)
	case f.kind == frameTypeNewConnectionId:
		e.addField("frame_type", "new_connection_id")
		e.addField("sequence_number", f.sequenceNumber)
		e.addField("connection_id", f.connectionID)
	case f.kind == frameTypeRetireConnectionId:
		e.addField("frame_type", "retire_connection_id")
		e.addField("sequence_number", f.sequenceNumber)
	case f.kind == frameTypePathChallenge:
		e.addField("frame_type", "path_challenge")
	case f.kind == frameTypePathResponse:
		e.addField("frame_type", "path_response")
	case f.kind == frameTypeConnectionClose || f.kind == frameTypeConnectionCloseApp:
		e.addField("frame_type", "connection_close")
		if f.kind == frameTypeConnectionCloseApp {
			e.addField("error_space", "application")
		} else {
			e.addField("error_space", "transport")
		}
		e.addField("error_code", errorCodeString(f.errorCode))
		e.addField("raw_error_code", f.errorCode)
		e.addField("reason", f.reasonPhrase)
	case f.kind == frameTypeHandshakeDone:
		e.addField("frame_type", "handshake_done")
	case isDatagramFrameType(f.kind):
		e.addField("frame_type", "datagram")
		e.addField("length", len(f.data))
	case f.kind == frameTypeAckFrequency:
		e.addField("frame_type", "ack_frequency")
		e.addField("sequence_number", f.seqNum)
		e.addField("packet_tolerance", f.packetTolerance)
	default:
		e.addField("frame_type", "unknown")
		e.addField("raw_frame_type", uint64(f.kind))
	}
}

func (k frameType) logName() string {
	if k == frameTypeDataBlocked {
		return "data_blocked"
	}
	return "max_data"
}

func streamTypeLabel(bidi bool) string {
	if bidi {
		return "bidirectional"
	}
	return "unidirectional"
}
