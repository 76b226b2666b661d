package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// logRepoEvent records a domain event best-effort: event logging never fails
// the operation that produced it.
func logRepoEvent(ctx context.Context, repo Repository, tokenID uuid.UUID, eventType string, payload map[string]any, at time.Time) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	id := tokenID
	ev := EventLog{
		EventType: eventType,
		TokenID:   &id,
		Payload:   data,
		CreatedAt: at,
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for token %s: %v", eventType, tokenID, err)
	}
}
