package purchaseorder

import (
	"time"

	"github.com/google/uuid"
)

// The audit trail is append-only: entries are built here, pushed inside the
// same transaction as the transition they record, and never edited or
// removed by any code path.

func newHistoryEntry(stageCode string, action HistoryAction, actorID int64, remarks string) HistoryEntry {
	return HistoryEntry{
		ID:         uuid.New(),
		StageCode:  stageCode,
		Action:     action,
		ActionBy:   actorID,
		ActionDate: time.Now(),
		Remarks:    remarks,
	}
}

func newUpdateEntry(stageCode string, actorID int64, remarks string, changes map[string]FieldChange) HistoryEntry {
	entry := newHistoryEntry(stageCode, HistoryUpdated, actorID, remarks)
	entry.Changes = changes
	return entry
}
