package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ClientMessage
		wantErr bool
	}{
		{
			name: "start_scan",
			raw:  `{"action":"start_scan","item_source":"dir:/data/drawings","search_targets":["HOLE-12","HC-7"]}`,
			want: StartScan{ItemSource: "dir:/data/drawings", SearchTargets: []string{"HOLE-12", "HC-7"}},
		},
		{
			name: "reconnect",
			raw:  `{"action":"reconnect","session_id":"abc-123"}`,
			want: Reconnect{SessionID: "abc-123"},
		},
		{
			name:    "unknown action",
			raw:     `{"action":"cancel_scan"}`,
			wantErr: true,
		},
		{
			name:    "missing action",
			raw:     `{"session_id":"abc"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `start please`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	msgs := []ServerMessage{
		Started{SessionID: "s1", TotalFiles: 42},
		Progress{Processed: 10, Total: 42, Value: 23},
		MatchFound{Data: MatchData{ItemRef: "a.pdf", FoundCodes: []string{"HOLE-1"}, Status: "1 Code", Link: "file:///a.pdf"}},
		Complete{DownloadURL: "https://example.com/r.xlsx", TotalMatches: 3, TotalProcessed: 42},
		SyncState{TotalFiles: 42, ProcessedCount: 20, Progress: 47, Status: "IN_PROGRESS",
			Results: []SyncResult{{ItemRef: "a.pdf", Status: "No Match"}}},
		ErrorMsg{Code: CodeNotFound, Message: "session not found"},
	}

	for _, msg := range msgs {
		t.Run(msg.Type(), func(t *testing.T) {
			data, err := Encode(msg)
			require.NoError(t, err)

			// The discriminator must be present on the wire.
			var env map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &env))
			var typ string
			require.NoError(t, json.Unmarshal(env["type"], &typ))
			assert.Equal(t, msg.Type(), typ)

			got, err := DecodeServerMessage(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestDecodeServerMessageUnknownType(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"HEARTBEAT"}`))
	require.Error(t, err)
}

func TestEncodeClientMessage(t *testing.T) {
	data, err := EncodeClientMessage(Reconnect{SessionID: "s9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"reconnect","session_id":"s9"}`, string(data))
}

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 10, 0},
		{5, 10, 50},
		{10, 10, 100},
		{3, 0, 0},   // degenerate total
		{12, 10, 100}, // capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.processed, tt.total))
	}
}
