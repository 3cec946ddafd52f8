package transport

import (
	"testing"
	"time"
)

func TestLogFramePadding(t *testing.T) {
	testLogFrame(t, &frame{kind: frameTypePadding}, "frame_type=padding")
}

func TestLogFramePing(t *testing.T) {
	testLogFrame(t, &frame{kind: frameTypePing}, "frame_type=ping")
}

func TestLogFrameAck(t *testing.T) {
	f := &frame{
		kind:         frameTypeAck,
		largestAcked: 1,
		ackDelay:     2,
		ackRanges:    []ackRange{{Low: 0, High: 1}},
	}
	testLogFrame(t, f, "frame_type=ack ack_delay=2 largest_acked=1")
}

func TestLogFrameResetStream(t *testing.T) {
	f := &frame{kind: frameTypeResetStream, streamID: 1, appErrorCode: 2, finalSize: 3}
	testLogFrame(t, f, "frame_type=reset_stream stream_id=1 error_code=2 final_size=3")
}

func TestLogFrameStopSending(t *testing.T) {
	f := &frame{kind: frameTypeStopSending, streamID: 1, appErrorCode: 2}
	testLogFrame(t, f, "frame_type=stop_sending stream_id=1 error_code=2")
}

func TestLogFrameCrypto(t *testing.T) {
	f := &frame{kind: frameTypeCrypto, offset: 1, data: make([]byte, 5)}
	testLogFrame(t, f, "frame_type=crypto offset=1 length=5")
}

func TestLogFrameNewToken(t *testing.T) {
	f := &frame{kind: frameTypeNewToken, data: make([]byte, 4)}
	testLogFrame(t, f, "frame_type=new_token token=00000000")
}

func TestLogFrameStream(t *testing.T) {
	f := &frame{kind: frameTypeStreamBase, streamID: 2, data: make([]byte, 4), offset: 3, fin: true}
	testLogFrame(t, f, "frame_type=stream stream_id=2 offset=3 length=4 fin=true")
}

func TestLogFrameMaxData(t *testing.T) {
	f := &frame{kind: frameTypeMaxData, maximumData: 1}
	testLogFrame(t, f, "frame_type=max_data maximum=1")
}

func TestLogFrameMaxStreamData(t *testing.T) {
	f := &frame{kind: frameTypeMaxStreamData, streamID: 1, maximumData: 2}
	testLogFrame(t, f, "frame_type=max_stream_data stream_id=1 maximum=2")
}

func TestLogFrameMaxStreams(t *testing.T) {
	f := &frame{kind: frameTypeMaxStreamsUni, maximumStreams: 1}
	testLogFrame(t, f, "frame_type=max_streams stream_type=unidirectional maximum=1")
	f = &frame{kind: frameTypeMaxStreamsBidi, maximumStreams: 2}
	testLogFrame(t, f, "frame_type=max_streams stream_type=bidirectional maximum=2")
}

func TestLogFrameDataBlocked(t *testing.T) {
	f := &frame{kind: frameTypeDataBlocked, maximumData: 1}
	testLogFrame(t, f, "frame_type=data_blocked maximum=1")
}

func TestLogFrameStreamDataBlocked(t *testing.T) {
	f := &frame{kind: frameTypeStreamDataBlocked, streamID: 1, maximumData: 2}
	testLogFrame(t, f, "frame_type=stream_data_blocked stream_id=1 limit=2")
}

func TestLogFrameStreamsBlocked(t *testing.T) {
	f := &frame{kind: frameTypeStreamsBlockedUni, maximumStreams: 1}
	testLogFrame(t, f, "frame_type=streams_blocked stream_type=unidirectional limit=1")
	f = &frame{kind: frameTypeStreamsBlockedBidi, maximumStreams: 2}
	testLogFrame(t, f, "frame_type=streams_blocked stream_type=bidirectional limit=2")
}

func TestLogFrameConnectionClose(t *testing.T) {
	f := &frame{kind: frameTypeConnectionClose, errorCode: 0x122, reasonPhrase: "reason"}
	testLogFrame(t, f, "frame_type=connection_close error_space=transport error_code=crypto_error_34 raw_error_code=290 reason=reason")
}

func TestLogFrameHandshakeDone(t *testing.T) {
	testLogFrame(t, &frame{kind: frameTypeHandshakeDone}, "frame_type=handshake_done")
}

func testLogFrame(t *testing.T, f *frame, expect string) {
	tm := time.Date(2020, time.January, 5, 2, 3, 4, 5, time.UTC)
	e := newLogEventFrame(tm, logEventFramesProcessed, f)
	expect = "2020-01-05T02:03:04Z frames_processed " + expect
	actual := e.String()
	if expect != actual {
		t.Helper()
		t.Fatalf("\nexpect %v\nactual %v", expect, actual)
	}
}
