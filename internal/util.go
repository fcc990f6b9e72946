package internal

import (
	"context"
	"log"
	"time"
)

// logAction records an audit row. Failures are logged and otherwise ignored.
func logAction(db Store, actorID *string, action, details string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}
	if _, err := db.Insert(ctx, tableLogs, Row{
		"actor_id":   actor,
		"action":     action,
		"details":    details,
		"created_at": time.Now().UTC(),
	}); err != nil {
		log.Printf("audit %s: %v", action, err)
	}
}
