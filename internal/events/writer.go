package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one audit entry for a quotation mutation.
type Record struct {
	ID          int64           `json:"id,omitempty"`
	TS          time.Time       `json:"ts"`
	Type        string          `json:"type"`
	QuotationID string          `json:"quotation_id"`
	ActorID     string          `json:"actor_id"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
}

type Payload map[string]any

// New builds a record, encoding each non-nil payload.
func New(ts time.Time, evtType, quotationID, actorID string, before, after, details Payload) (Record, error) {
	rec := Record{TS: ts.UTC(), Type: evtType, QuotationID: quotationID, ActorID: actorID}
	var err error
	if rec.Before, err = encode(before); err != nil {
		return Record{}, fmt.Errorf("marshal event before: %w", err)
	}
	if rec.After, err = encode(after); err != nil {
		return Record{}, fmt.Errorf("marshal event after: %w", err)
	}
	if rec.Details, err = encode(details); err != nil {
		return Record{}, fmt.Errorf("marshal event details: %w", err)
	}
	return rec, nil
}

func encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

type Writer struct{}

// Append inserts rec inside tx so that it commits with the mutation.
func (Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,quotation_id,actor_id,before_json,after_json,details_json) VALUES (?,?,?,?,?,?,?)`,
		rec.TS.UTC().Format(time.RFC3339Nano), rec.Type, rec.QuotationID, rec.ActorID,
		nullable(rec.Before), nullable(rec.After), nullable(rec.Details))
	return err
}

// List returns the most recent records for a quotation, newest first. A
// non-positive limit returns all of them.
func (Writer) List(ctx context.Context, db *sql.DB, quotationID string, limit int) ([]Record, error) {
	q := `SELECT id,ts,type,quotation_id,actor_id,before_json,after_json,details_json FROM events WHERE quotation_id=? ORDER BY id DESC`
	args := []any{quotationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec                   Record
			ts                    string
			before, after, detail sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Type, &rec.QuotationID, &rec.ActorID, &before, &after, &detail); err != nil {
			return nil, err
		}
		if rec.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("event %d: %w", rec.ID, err)
		}
		rec.Before = raw(before)
		rec.After = raw(after)
		rec.Details = raw(detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func raw(v sql.NullString) json.RawMessage {
	if !v.Valid {
		return nil
	}
	return json.RawMessage(v.String)
}
