package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/everest/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite. Detail is JSON text.
type AuditStore struct {
	db *sql.DB
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), nowText())
	if err != nil {
		return storageErr("log audit event "+event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Event != "" {
		where = append(where, "event = ?")
		args = append(args, f.Event)
	}
	if f.PortfolioID > 0 {
		where = append(where, "json_extract(detail, '$.portfolio_id') = ?")
		args = append(args, f.PortfolioID)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, fmtTime(*f.Until))
	}

	query := `SELECT id, event, detail, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list audit entries", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			detail    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &createdAt); err != nil {
			return nil, storageErr("scan audit entry", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storageErr("parse audit time", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list audit entries rows", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
