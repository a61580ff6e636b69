package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quoteflow/internal/domain"
	"quoteflow/internal/events"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the stored lock version no longer matches the one the
	// caller loaded.
	ErrConflict = errors.New("concurrent modification")
)

// TimeLayout is fixed width so stored timestamps compare lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Repo is the SQLite quotation store.
type Repo struct {
	DB     *sql.DB
	Writer events.Writer
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

// Create inserts a new quotation together with its audit records.
func (r Repo) Create(ctx context.Context, q domain.Quotation, recs []events.Record) error {
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quotation: %w", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO quotations(id,number,status,created_by,client_id,approval_level,approval_pending,approval_deadline,revision_status,lock_version,doc_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		q.ID, q.Number, string(q.Status), q.CreatedBy, nullable(q.ClientID), nullable(string(q.ApprovalLevel)),
		boolInt(q.ApprovalPending()), nullableTime(q.ApprovalDeadline), nullable(string(q.RevisionStatus)),
		q.LockVersion, string(doc), formatTime(q.CreatedAt), formatTime(q.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	if err := r.appendAll(ctx, tx, recs); err != nil {
		return err
	}
	return tx.Commit()
}

// Get loads a quotation by id.
func (r Repo) Get(ctx context.Context, id string) (domain.Quotation, error) {
	var (
		doc  string
		lock int64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT doc_json, lock_version FROM quotations WHERE id=?`, id).Scan(&doc, &lock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quotation{}, ErrNotFound
	}
	if err != nil {
		return domain.Quotation{}, err
	}
	return decode(doc, lock)
}

// Save writes q if the stored lock version still equals expected. q.LockVersion
// must already carry the new value.
func (r Repo) Save(ctx context.Context, q domain.Quotation, expected int64, recs []events.Record) error {
	if q.LockVersion <= expected {
		return fmt.Errorf("lock version %d must exceed %d", q.LockVersion, expected)
	}
	doc, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quotation: %w", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE quotations SET status=?,client_id=?,approval_level=?,approval_pending=?,approval_deadline=?,revision_status=?,lock_version=?,doc_json=?,updated_at=? WHERE id=? AND lock_version=?`,
		string(q.Status), nullable(q.ClientID), nullable(string(q.ApprovalLevel)), boolInt(q.ApprovalPending()),
		nullableTime(q.ApprovalDeadline), nullable(string(q.RevisionStatus)), q.LockVersion, string(doc),
		formatTime(q.UpdatedAt), q.ID, expected)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM quotations WHERE id=?`, q.ID).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	if err := r.appendAll(ctx, tx, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) appendAll(ctx context.Context, tx *sql.Tx, recs []events.Record) error {
	for _, rec := range recs {
		if err := r.Writer.Append(ctx, tx, rec); err != nil {
			return fmt.Errorf("append event %s: %w", rec.Type, err)
		}
	}
	return nil
}

// List returns quotations matching f, newest first.
func (r Repo) List(ctx context.Context, f Filter) ([]domain.Quotation, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.ApprovalPending != nil {
		where = append(where, "approval_pending=?")
		args = append(args, boolInt(*f.ApprovalPending))
	}
	if f.ApprovalLevel != "" {
		where = append(where, "approval_level=?")
		args = append(args, string(f.ApprovalLevel))
	}
	if f.DeadlineBefore != nil {
		where = append(where, "approval_deadline IS NOT NULL AND approval_deadline < ?")
		args = append(args, formatTime(*f.DeadlineBefore))
	}
	query := `SELECT doc_json, lock_version FROM quotations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Quotation
	for rows.Next() {
		var (
			doc  string
			lock int64
		)
		if err := rows.Scan(&doc, &lock); err != nil {
			return nil, err
		}
		q, err := decode(doc, lock)
		if err != nil {
			return nil, err
		}
		if !f.Match(q) {
			continue
		}
		out = append(out, q)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

// Events returns the audit trail of a quotation, newest first.
func (r Repo) Events(ctx context.Context, id string, limit int) ([]events.Record, error) {
	return r.Writer.List(ctx, r.DB, id, limit)
}

func decode(doc string, lock int64) (domain.Quotation, error) {
	var q domain.Quotation
	if err := json.Unmarshal([]byte(doc), &q); err != nil {
		return domain.Quotation{}, fmt.Errorf("decode quotation: %w", err)
	}
	q.LockVersion = lock
	return q, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
