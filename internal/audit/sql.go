package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

// SQLSink writes entries to the audit_log table of the sqlite store.
type SQLSink struct {
	db *db.Database
}

func NewSQLSink(d *db.Database) *SQLSink {
	return &SQLSink{db: d}
}

// Init relies on ApplyMigrations having created audit_log.
func (s *SQLSink) Init(ctx context.Context) error {
	return s.db.DB.PingContext(ctx)
}

func (s *SQLSink) Append(ctx context.Context, e Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	if e.Detail == nil {
		detail = []byte("{}")
	}
	return s.db.AppendAudit(ctx, db.AuditRecord{
		Timestamp: e.Timestamp,
		Seq:       e.Seq,
		Category:  string(e.Category),
		Subject:   e.Subject,
		Outcome:   e.Outcome,
		Detail:    string(detail),
	})
}

func (s *SQLSink) LastSeq(ctx context.Context) (uint64, error) {
	return s.db.LastAuditSeq(ctx)
}

func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.RecentAudit(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromRecords(rows)
}

func (s *SQLSink) BySubject(ctx context.Context, subject string) ([]Entry, error) {
	rows, err := s.db.AuditBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	return fromRecords(rows)
}

func fromRecords(rows []db.AuditRecord) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			Seq:       r.Seq,
			Timestamp: r.Timestamp,
			Category:  Category(r.Category),
			Subject:   r.Subject,
			Outcome:   r.Outcome,
		}
		if r.Detail != "" && r.Detail != "{}" {
			if err := json.Unmarshal([]byte(r.Detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}
