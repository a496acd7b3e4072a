package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

// AuditStore keeps the audit trail in audit_log with detail as JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry outside any ledger transaction.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES (@event, @detail)`,
		pgx.NamedArgs{"event": event, "detail": raw},
	); err != nil {
		return storageErr("log audit event "+event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	c := newConds()
	if f.Event != "" {
		c.add("event = @event", "event", f.Event)
	}
	if f.PortfolioID > 0 {
		c.add("(detail->>'portfolio_id')::bigint = @portfolio_id", "portfolio_id", f.PortfolioID)
	}
	page := c.window(domain.ListOpts{Limit: f.Limit, Offset: f.Offset, Since: f.Since, Until: f.Until})
	query := `SELECT id, event, detail, created_at FROM audit_log` + c.sql() + ` ORDER BY id DESC` + page

	rows, err := s.pool.Query(ctx, query, c.args)
	if err != nil {
		return nil, storageErr("list audit entries", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("audit %d detail: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, storageErr("scan audit entries", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
