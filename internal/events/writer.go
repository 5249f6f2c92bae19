package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"phaseline/internal/domain"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

// Append records one event. Callers pass the transaction that carries the
// state change so the event commits or rolls back with it.
func (w Writer) Append(ctx context.Context, q Execer, projectID string, details domain.EventDetails) error {
	if details == nil {
		return fmt.Errorf("event details required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(project_id,event_type,details_json,created_at) VALUES (?,?,?,?)`,
		projectID, string(details.EventType()), string(data), now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append %s event: %w", details.EventType(), err)
	}
	return nil
}
