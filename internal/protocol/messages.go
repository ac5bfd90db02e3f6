// Package protocol defines the JSON messages exchanged between the scan
// coordinator and its client. Each direction is a closed union with a string
// discriminator ("action" client->server, "type" server->client), so adding
// a message kind is a compile-time-checked change.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> server actions.
const (
	ActionStartScan = "start_scan"
	ActionReconnect = "reconnect"
)

// Server -> client message types.
const (
	TypeStarted    = "STARTED"
	TypeProgress   = "PROGRESS"
	TypeMatchFound = "MATCH_FOUND"
	TypeComplete   = "COMPLETE"
	TypeSyncState  = "SYNC_STATE"
	TypeError      = "ERROR"
)

// Error codes carried by ErrorMsg. NOT_FOUND tells the client to drop its
// cached session pointer.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeEmptyBatch     = "EMPTY_BATCH"
	CodeBadMessage     = "BAD_MESSAGE"
	CodeListFailed     = "LIST_FAILED"
	CodeFinalizeFailed = "FINALIZE_FAILED"
)

// ClientMessage is a message sent by the client. It is one of StartScan or
// Reconnect.
type ClientMessage interface {
	Action() string
}

// StartScan requests a new scan session.
type StartScan struct {
	ItemSource    string   `json:"item_source"`
	SearchTargets []string `json:"search_targets"`
}

func (StartScan) Action() string { return ActionStartScan }

// Reconnect presents a cached session id for state resynchronization.
type Reconnect struct {
	SessionID string `json:"session_id"`
}

func (Reconnect) Action() string { return ActionReconnect }

// DecodeClientMessage parses a raw client frame by its "action" field.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}

	switch env.Action {
	case ActionStartScan:
		var m StartScan
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		return m, nil
	case ActionReconnect:
		var m Reconnect
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Action, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}

// EncodeClientMessage serializes a client message with its action
// discriminator.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode client message: %w", err)
	}
	return spliceDiscriminator(payload, "action", m.Action())
}

// ServerMessage is a message pushed by the coordinator. It is one of
// Started, Progress, MatchFound, Complete, SyncState or ErrorMsg.
type ServerMessage interface {
	Type() string
}

// Started acknowledges session creation, before any item is processed.
type Started struct {
	SessionID  string `json:"session_id"`
	TotalFiles int    `json:"total_files"`
}

func (Started) Type() string { return TypeStarted }

// Progress carries the session counter state. Messages from concurrent
// workers may arrive out of order; clients must apply them as a high-water
// mark on Processed.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Value     int `json:"value"` // percent
}

func (Progress) Type() string { return TypeProgress }

// MatchData describes a single matched item.
type MatchData struct {
	ItemRef    string   `json:"item_ref"`
	FoundCodes []string `json:"found_codes"`
	Status     string   `json:"status"`
	Link       string   `json:"link,omitempty"`
}

// MatchFound signals a non-empty outcome for one item. Latency-sensitive,
// sent per item, never coalesced with Progress.
type MatchFound struct {
	Data MatchData `json:"data"`
}

func (MatchFound) Type() string { return TypeMatchFound }

// Complete is the single final message, emitted exactly once per session.
type Complete struct {
	DownloadURL    string `json:"download_url"`
	TotalMatches   int    `json:"total_matches"`
	TotalProcessed int    `json:"total_processed"`
}

func (Complete) Type() string { return TypeComplete }

// SyncResult is one result row inside a SyncState snapshot.
type SyncResult struct {
	ItemRef    string   `json:"item_ref"`
	FoundCodes []string `json:"found_codes,omitempty"`
	Status     string   `json:"status"`
	Link       string   `json:"link,omitempty"`
}

// SyncState is the full authoritative session snapshot returned on
// reconnect. The client replaces, never merges, its state with it.
type SyncState struct {
	TotalFiles     int          `json:"total_files"`
	ProcessedCount int          `json:"processed_count"`
	Progress       int          `json:"progress"` // percent
	Results        []SyncResult `json:"results"`
	Status         string       `json:"status"`
}

func (SyncState) Type() string { return TypeSyncState }

// ErrorMsg reports a session-level error to the client.
type ErrorMsg struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (ErrorMsg) Type() string { return TypeError }

// Encode serializes a server message with its type discriminator.
func Encode(m ServerMessage) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return spliceDiscriminator(payload, "type", m.Type())
}

// DecodeServerMessage parses a raw server frame by its "type" field.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}

	var (
		m       ServerMessage
		decoded any
	)
	switch env.Type {
	case TypeStarted:
		v := Started{}
		decoded, m = &v, &v
	case TypeProgress:
		v := Progress{}
		decoded, m = &v, &v
	case TypeMatchFound:
		v := MatchFound{}
		decoded, m = &v, &v
	case TypeComplete:
		v := Complete{}
		decoded, m = &v, &v
	case TypeSyncState:
		v := SyncState{}
		decoded, m = &v, &v
	case TypeError:
		v := ErrorMsg{}
		decoded, m = &v, &v
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(data, decoded); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return deref(m), nil
}

// deref returns the value form of a decoded pointer message so callers can
// type-switch on concrete values in both directions.
func deref(m ServerMessage) ServerMessage {
	switch v := m.(type) {
	case *Started:
		return *v
	case *Progress:
		return *v
	case *MatchFound:
		return *v
	case *Complete:
		return *v
	case *SyncState:
		return *v
	case *ErrorMsg:
		return *v
	}
	return m
}

// spliceDiscriminator injects the discriminator field into an encoded JSON
// object without a second marshaling pass over the payload.
func spliceDiscriminator(payload []byte, field, value string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("splice %s: %w", field, err)
	}
	tag, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	obj[field] = tag
	return json.Marshal(obj)
}

// Percent computes the integer progress percentage, capped at 100.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}
