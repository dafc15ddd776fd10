package presence

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

type PeerType string

const (
	PeerTypeHuman PeerType = "human"
	PeerTypeAgent PeerType = "agent"
)

// Cursor is a peer's last broadcast cursor position. Anchor and Head are raw
// document offsets; consumers clamp them to the current document length at
// render time. Optional fields carry an explicit presence flag so "absent"
// never collides with a zero value.
type Cursor struct {
	Anchor int
	Head   int

	Line      int
	HasLine   bool
	Column    int
	HasColumn bool

	// SectionID is nil when the source sent an explicit null. HasSectionID
	// distinguishes that from the field being absent entirely.
	SectionID    *string
	HasSectionID bool
}

// PeerSnapshot is the canonical presence record derived from one raw awareness
// state. Snapshots are immutable; every awareness notification produces a
// fresh set.
type PeerSnapshot struct {
	ClientID int64
	Name     string
	Type     PeerType
	Color    string
	Cursor   *Cursor
}

// AwarenessEntry pairs a session-scoped client id with its raw broadcast
// state, preserving the order the transport delivered them in.
type AwarenessEntry struct {
	ClientID int64
	State    json.RawMessage
}

// ParsePeer normalizes one raw awareness state. Malformed or non-object
// states are treated as empty: the peer still appears, with defaulted name,
// human type, fallback color, and no cursor.
func ParsePeer(clientID int64, rawState json.RawMessage, fallbackColor func(name string) string) PeerSnapshot {
	var state map[string]any
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &state); err != nil {
			state = nil
		}
	}

	user, _ := state["user"].(map[string]any)

	name := strings.TrimSpace(stringField(user, "name"))
	if name == "" {
		name = fmt.Sprintf("User %d", clientID)
	}

	peerType := PeerTypeHuman
	if stringField(user, "type") == string(PeerTypeAgent) {
		peerType = PeerTypeAgent
	}

	// Color falls back on the defaulted name, so an anonymous peer keeps a
	// stable color for as long as it keeps its client id.
	color := strings.TrimSpace(stringField(user, "color"))
	if color == "" && fallbackColor != nil {
		color = fallbackColor(name)
	}

	return PeerSnapshot{
		ClientID: clientID,
		Name:     name,
		Type:     peerType,
		Color:    color,
		Cursor:   parseCursor(state),
	}
}

func parseCursor(state map[string]any) *Cursor {
	raw, _ := state["cursor"].(map[string]any)
	if raw == nil {
		return nil
	}
	anchor, hasAnchor := finiteField(raw, "anchor")
	head, hasHead := finiteField(raw, "head")
	if !hasAnchor && !hasHead {
		return nil
	}
	// A collapsed cursor broadcasts only one end.
	if !hasAnchor {
		anchor = head
	}
	if !hasHead {
		head = anchor
	}
	cursor := &Cursor{Anchor: int(anchor), Head: int(head)}
	if line, ok := finiteField(raw, "line"); ok {
		cursor.Line = int(line)
		cursor.HasLine = true
	}
	if column, ok := finiteField(raw, "column"); ok {
		cursor.Column = int(column)
		cursor.HasColumn = true
	}
	if sectionRaw, present := raw["sectionId"]; present {
		cursor.HasSectionID = true
		if section, ok := sectionRaw.(string); ok {
			cursor.SectionID = &section
		}
	}
	return cursor
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	value, _ := m[key].(string)
	return value
}

func finiteField(m map[string]any, key string) (float64, bool) {
	value, ok := m[key].(float64)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

type ReadPeersOptions struct {
	FallbackColor func(name string) string
	// ExcludeLocal drops the entry whose ClientID equals LocalClientID.
	ExcludeLocal  bool
	LocalClientID int64
	// PreserveOrder keeps the input order instead of the default ascending
	// client-id ordering.
	PreserveOrder bool
}

// ReadPeers normalizes a full awareness broadcast into canonical snapshots.
// By default the result is ordered ascending by client id, independent of the
// order the entries arrived in, so consumers can compare successive sets
// structurally.
func ReadPeers(entries []AwarenessEntry, opts ReadPeersOptions) []PeerSnapshot {
	fallback := opts.FallbackColor
	if fallback == nil {
		fallback = ColorFor
	}
	peers := make([]PeerSnapshot, 0, len(entries))
	for _, entry := range entries {
		if opts.ExcludeLocal && entry.ClientID == opts.LocalClientID {
			continue
		}
		peers = append(peers, ParsePeer(entry.ClientID, entry.State, fallback))
	}
	if !opts.PreserveOrder {
		sort.SliceStable(peers, func(i, j int) bool {
			return peers[i].ClientID < peers[j].ClientID
		})
	}
	return peers
}
