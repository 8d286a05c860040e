package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle event types appended by the engine.
const (
	RequestCreated = "request.created"
	RunStarted     = "request.run_started"
	ReportReady    = "request.report_ready"
	Delivered      = "request.delivered"
	DeliveryFailed = "request.delivery_failed"
	Archived       = "request.archived"
	Deleted        = "request.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction so the audit row
// commits or rolls back with the state change itself.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, requestID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,request_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(requestID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
