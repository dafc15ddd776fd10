package realtime

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the pinned current protocol revision. Both sides also
// accept the immediate predecessor, nothing older.
const (
	ProtocolVersion         = "2"
	PreviousProtocolVersion = "1"
)

func versionSupported(version string) bool {
	return version == ProtocolVersion || version == PreviousProtocolVersion
}

const (
	frameHello     = "hello"
	frameHelloAck  = "hello_ack"
	frameSubscribe = "subscribe"
	frameUpdate    = "yjs_update"
	frameAck       = "ack"
	frameSnapshot  = "snapshot"
	frameAwareness = "awareness_update"
	frameError     = "error"
)

// Hello opens or resumes a session. ResumeToken is present only when the
// client holds an unexpired token from a previous connection.
type Hello struct {
	Type             string   `json:"type"`
	ProtocolVersions []string `json:"protocolVersions"`
	SessionToken     string   `json:"sessionToken"`
	ResumeToken      string   `json:"resumeToken,omitempty"`
}

// HelloAck confirms version compatibility. When Resumed is false the server
// includes a fresh resume token and its expiry; ReplayTotal announces how many
// missed updates a resumed session will receive before it is caught up.
type HelloAck struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	Resumed         bool   `json:"resumed"`
	ResumeToken     string `json:"resumeToken,omitempty"`
	ResumeExpiresAt int64  `json:"resumeExpiresAt,omitempty"`
	ReplayTotal     int    `json:"replayTotal,omitempty"`
}

// Subscribe attaches the session to a document. LastServerSeq, when
// non-negative, declares the newest server sequence already applied locally so
// the server can detect gaps.
type Subscribe struct {
	Type          string `json:"type"`
	DocID         string `json:"docId"`
	LastServerSeq *int64 `json:"lastServerSeq,omitempty"`
}

// Update carries an opaque CRDT update. ClientUpdateID makes the frame
// idempotent across reconnects; the server never applies the same id twice.
// Server-bound frames set BaseSeq; client-bound replays set ServerSeq.
type Update struct {
	Type           string `json:"type"`
	DocID          string `json:"docId"`
	ClientUpdateID string `json:"clientUpdateId"`
	BaseSeq        int64  `json:"baseSeq,omitempty"`
	ServerSeq      int64  `json:"serverSeq,omitempty"`
	Payload        []byte `json:"payload"`
}

// Ack correlates a client update to its assigned server sequence. An update
// is durable only once its ack arrives with Applied true.
type Ack struct {
	Type           string `json:"type"`
	DocID          string `json:"docId"`
	ClientUpdateID string `json:"clientUpdateId"`
	ServerSeq      int64  `json:"serverSeq"`
	Applied        bool   `json:"applied"`
}

// Snapshot is a full-state payload used for initial load and for resync when
// resume was rejected or a gap cannot be replayed.
type Snapshot struct {
	Type        string `json:"type"`
	DocID       string `json:"docId"`
	SnapshotSeq int64  `json:"snapshotSeq"`
	State       []byte `json:"state"`
}

// AwarenessPeer pairs a session-scoped client id with its raw broadcast state.
type AwarenessPeer struct {
	ClientID int64           `json:"clientId"`
	State    json.RawMessage `json:"state"`
}

// AwarenessUpdate is the current peer-presence list for a document.
type AwarenessUpdate struct {
	Type  string          `json:"type"`
	DocID string          `json:"docId"`
	Peers []AwarenessPeer `json:"peers"`
}

// ErrorFrame is a session-scoped error. DocID narrows it to one document when
// set; Retryable tells the reconnect logic whether to keep trying.
type ErrorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	DocID     string `json:"docId,omitempty"`
}

func (e *ErrorFrame) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("session error %s (doc %s): %s", e.Code, e.DocID, e.Message)
	}
	return fmt.Sprintf("session error %s: %s", e.Code, e.Message)
}

func NewHello(sessionToken, resumeToken string) Hello {
	return Hello{
		Type:             frameHello,
		ProtocolVersions: []string{ProtocolVersion, PreviousProtocolVersion},
		SessionToken:     sessionToken,
		ResumeToken:      resumeToken,
	}
}

func NewSubscribe(docID string, lastServerSeq int64) Subscribe {
	sub := Subscribe{Type: frameSubscribe, DocID: docID}
	if lastServerSeq >= 0 {
		sub.LastServerSeq = &lastServerSeq
	}
	return sub
}

func NewUpdate(docID, clientUpdateID string, baseSeq int64, payload []byte) Update {
	return Update{
		Type:           frameUpdate,
		DocID:          docID,
		ClientUpdateID: clientUpdateID,
		BaseSeq:        baseSeq,
		Payload:        payload,
	}
}

// EncodeFrame serializes any protocol frame. The frame's Type field must
// already be set, which the New* constructors guarantee.
func EncodeFrame(frame any) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeFrame parses one wire message into its typed frame. Unknown
// discriminators are an error so protocol drift fails loudly.
func DecodeFrame(data []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch head.Type {
	case frameHello:
		return decodeAs[Hello](data)
	case frameHelloAck:
		return decodeAs[HelloAck](data)
	case frameSubscribe:
		return decodeAs[Subscribe](data)
	case frameUpdate:
		return decodeAs[Update](data)
	case frameAck:
		return decodeAs[Ack](data)
	case frameSnapshot:
		return decodeAs[Snapshot](data)
	case frameAwareness:
		return decodeAs[AwarenessUpdate](data)
	case frameError:
		frame, err := decodeAs[ErrorFrame](data)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case "":
		return nil, fmt.Errorf("frame missing type discriminator")
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var frame T
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("malformed %T frame: %w", frame, err)
	}
	return frame, nil
}
