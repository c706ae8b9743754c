package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AuditRecord is one row of the append-only audit_log table.
type AuditRecord struct {
	Timestamp time.Time
	Seq       uint64
	Category  string
	Subject   string
	Outcome   string
	Detail    string // JSON object
}

// AppendAudit inserts an audit row. Rows are never updated or deleted.
func (d *Database) AppendAudit(ctx context.Context, r AuditRecord) error {
	if r.Detail == "" {
		r.Detail = "{}"
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_log (ts, seq, category, subject, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, toNanos(r.Timestamp), int64(r.Seq), r.Category, r.Subject, r.Outcome, r.Detail)
	return err
}

// RecentAudit returns the newest audit rows first.
func (d *Database) RecentAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryAudit(ctx, `
		SELECT ts, seq, category, subject, outcome, detail
		FROM audit_log ORDER BY ts DESC, seq DESC LIMIT ?`, limit)
}

// AuditBySubject returns every row for a subject in write order.
func (d *Database) AuditBySubject(ctx context.Context, subject string) ([]AuditRecord, error) {
	return d.queryAudit(ctx, `
		SELECT ts, seq, category, subject, outcome, detail
		FROM audit_log WHERE subject = ? ORDER BY ts, seq`, subject)
}

// LastAuditSeq returns the highest stored sequence number, or 0.
func (d *Database) LastAuditSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	err := d.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM audit_log`).Scan(&seq)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return uint64(seq.Int64), nil
}

func (d *Database) queryAudit(ctx context.Context, q string, args ...any) ([]AuditRecord, error) {
	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AuditRecord
	for rows.Next() {
		var (
			r   AuditRecord
			ts  int64
			seq int64
		)
		if err := rows.Scan(&ts, &seq, &r.Category, &r.Subject, &r.Outcome, &r.Detail); err != nil {
			return nil, err
		}
		r.Timestamp = fromNanos(ts)
		r.Seq = uint64(seq)
		res = append(res, r)
	}
	return res, rows.Err()
}
