// Package audit records who generated, published and re-rendered what.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

const (
	ActionDocumentGenerate  = "document.generate"
	ActionDocumentRerender  = "document.rerender"
	ActionDocumentPublish   = "document.publish"
	ActionDocumentUnpublish = "document.unpublish"
	ActionBatchEnqueue      = "batch.enqueue"
	ActionBatchCancel       = "batch.cancel"
	ActionBulkGenerate      = "bulk.generate"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Service struct {
	db database.DB
}

func NewService(db database.DB) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
}

// Log records entry against the tenant and user in ctx.
func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return fmt.Errorf("audit %s: %w", entry.Action, err)
	}
	user := tenant.UserFromContext(ctx)

	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}

	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	var ip *netip.Addr
	if entry.IPAddress != "" {
		if parsed, err := netip.ParseAddr(entry.IPAddress); err == nil {
			ip = &parsed
		}
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_logs (tenant_id, user_id, action, resource_type, resource_id, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tenantID, userID, entry.Action, entry.ResourceType, entry.ResourceID, detailsJSON, ip,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// Record logs entry and only reports a failure to the log. Handlers call
// it after the audited action already succeeded.
func (s *Service) Record(ctx context.Context, entry LogEntry) {
	if err := s.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("audit log failed", "action", entry.Action, "error", err)
	}
}

type AuditQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Action    string
	Limit     int
	Offset    int
}

func (s *Service) GetAuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditLog, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	query := `SELECT id, tenant_id, user_id, action, resource_type, resource_id, details, ip_address, created_at
			  FROM audit_logs WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UserID, &l.Action, &l.ResourceType, &l.ResourceID, &l.Details, &l.IPAddress, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
