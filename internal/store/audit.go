package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepoint/policygate/internal/audit"
)

var _ audit.Writer = (*AuditStore)(nil)

var auditColumns = []string{
	"occurred_at", "phase", "path", "method", "handler_name", "endpoint",
	"user_id", "status", "error_code", "payload",
}

// AuditStore appends audit records to a table with COPY.
type AuditStore struct {
	db    *pgxpool.Pool
	table string
}

// NewAuditStore writes into table, which must have the audit_log layout.
// The name is quoted by pgx; config validation restricts it to a plain identifier.
func NewAuditStore(db *pgxpool.Pool, table string) *AuditStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	if table == "" {
		table = "audit_log"
	}
	return &AuditStore{db: db, table: table}
}

// InsertAuditRecords copies the batch in a single round trip.
func (s *AuditStore) InsertAuditRecords(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{s.table},
		auditColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return auditRow(&records[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy audit records: %w", err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copied %d of %d audit records", n, len(records))
	}
	return nil
}

func auditRow(r *audit.Record) []any {
	var (
		userID    *string
		status    *int32
		errorCode *string
	)
	if r.UserID != "" {
		userID = &r.UserID
	}
	if r.Status != 0 {
		s := int32(r.Status)
		status = &s
	}
	if r.ErrorCode != "" {
		errorCode = &r.ErrorCode
	}

	return []any{
		r.Timestamp,
		r.Phase,
		r.Path,
		r.Method,
		r.HandlerName,
		r.Endpoint,
		userID,
		status,
		errorCode,
		payload(r),
	}
}

// payload gathers the optional parts of a record into the jsonb column.
func payload(r *audit.Record) any {
	p := make(map[string]any, 4)
	if r.Body != nil {
		p["body"] = r.Body
	}
	if r.Query != nil {
		p["query"] = r.Query
	}
	if r.Headers != nil {
		p["headers"] = r.Headers
	}
	if len(r.Extra) > 0 {
		p["extra"] = r.Extra
	}
	if len(p) == 0 {
		return nil
	}
	return p
}
