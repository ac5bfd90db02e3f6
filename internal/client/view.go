package client

import (
	"github.com/minhvn/holescan/internal/protocol"
)

// View is the client's local picture of a scan session, fed by server
// messages. Progress messages from concurrent workers can arrive out of
// order, so the processed counter only moves forward; a SYNC_STATE snapshot
// replaces the whole view.
type View struct {
	SessionID    string
	Total        int
	Processed    int
	Percent      int
	Status       string
	Matches      []protocol.MatchData
	DownloadURL  string
	TotalMatches int
	Done         bool
	ErrorCode    string
	ErrorMessage string
}

// Apply folds one server message into the view.
func (v *View) Apply(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.Started:
		v.SessionID = m.SessionID
		v.Total = m.TotalFiles
		v.Status = "IN_PROGRESS"

	case protocol.Progress:
		// High-water mark: a stale counter from a slower worker never
		// rolls the bar back.
		if m.Processed > v.Processed {
			v.Processed = m.Processed
			v.Total = m.Total
			v.Percent = m.Value
		}

	case protocol.MatchFound:
		v.Matches = append(v.Matches, m.Data)

	case protocol.Complete:
		v.Processed = v.Total
		v.Percent = 100
		v.Status = "COMPLETE"
		v.DownloadURL = m.DownloadURL
		v.TotalMatches = m.TotalMatches
		v.Done = true

	case protocol.SyncState:
		// Authoritative snapshot: replace, never merge.
		v.Total = m.TotalFiles
		v.Processed = m.ProcessedCount
		v.Percent = m.Progress
		v.Status = m.Status
		v.Matches = v.Matches[:0]
		for _, r := range m.Results {
			if len(r.FoundCodes) > 0 {
				v.Matches = append(v.Matches, protocol.MatchData{
					ItemRef:    r.ItemRef,
					FoundCodes: r.FoundCodes,
					Status:     r.Status,
					Link:       r.Link,
				})
			}
		}
		// A COMPLETE session's artifact arrives in the replayed COMPLETE
		// message right after the snapshot; only a failed session is
		// final here.
		v.Done = m.Status == "COMPLETE_FAILED"

	case protocol.ErrorMsg:
		v.ErrorCode = m.Code
		v.ErrorMessage = m.Message
		v.Done = true
	}
}
