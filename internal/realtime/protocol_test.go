package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecodeFrameRoundTrips(t *testing.T) {
	frames := []any{
		NewHello("ticket_1", "resume_1"),
		HelloAck{Type: "hello_ack", ProtocolVersion: ProtocolVersion, Resumed: false, ResumeToken: "rt", ResumeExpiresAt: 1700000000000},
		NewSubscribe("doc_1", 42),
		NewUpdate("doc_1", "upd_1", 42, []byte{1, 2, 3}),
		Ack{Type: "ack", DocID: "doc_1", ClientUpdateID: "upd_1", ServerSeq: 43, Applied: true},
		Snapshot{Type: "snapshot", DocID: "doc_1", SnapshotSeq: 50, State: []byte{9}},
		AwarenessUpdate{Type: "awareness_update", DocID: "doc_1", Peers: []AwarenessPeer{{ClientID: 7, State: json.RawMessage(`{}`)}}},
		ErrorFrame{Type: "error", Code: "doc_locked", Message: "nope", Retryable: true, DocID: "doc_1"},
	}
	for _, frame := range frames {
		data, err := EncodeFrame(frame)
		if err != nil {
			t.Fatalf("encode %T: %v", frame, err)
		}
		decoded, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode %T: %v", frame, err)
		}
		if got, want := typeName(decoded), typeName(frame); got != want {
			t.Fatalf("decoded %s, want %s", got, want)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case Hello:
		return "hello"
	case HelloAck:
		return "hello_ack"
	case Subscribe:
		return "subscribe"
	case Update:
		return "yjs_update"
	case Ack:
		return "ack"
	case Snapshot:
		return "snapshot"
	case AwarenessUpdate:
		return "awareness_update"
	case ErrorFrame:
		return "error"
	default:
		return "unknown"
	}
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":"mystery"}`)); err == nil {
		t.Fatalf("expected error for unknown frame type")
	}
	if _, err := DecodeFrame([]byte(`{"noType":true}`)); err == nil {
		t.Fatalf("expected error for missing discriminator")
	}
	if _, err := DecodeFrame([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestSubscribeOmitsNegativeSeq(t *testing.T) {
	data, err := EncodeFrame(NewSubscribe("doc_1", -1))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	if _, present := raw["lastServerSeq"]; present {
		t.Fatalf("unknown cursor must omit lastServerSeq, got %s", data)
	}

	data, _ = EncodeFrame(NewSubscribe("doc_1", 0))
	_ = json.Unmarshal(data, &raw)
	if raw["lastServerSeq"] != float64(0) {
		t.Fatalf("seq 0 is a valid cursor and must be sent, got %s", data)
	}
}

func TestVersionSupport(t *testing.T) {
	if !versionSupported(ProtocolVersion) || !versionSupported(PreviousProtocolVersion) {
		t.Fatalf("pinned versions must be supported")
	}
	if versionSupported("0") || versionSupported("99") || versionSupported("") {
		t.Fatalf("only current and predecessor versions are acceptable")
	}
}
