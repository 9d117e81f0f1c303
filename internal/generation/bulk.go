package generation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
)

type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeSucceeded
	outcomeSkipped
	outcomeFailed
)

type outcome struct {
	kind     outcomeKind
	reason   string
	warnings []string
}

// GenerateBulk issues the template's document to every listed student, or
// to all of the tenant's students when studentIDs is empty. Students that
// already hold the document are skipped, so a repeated run only processes
// the rest. Per-student failures are reported, never returned.
//
// Cancelling ctx stops new students from starting; students already in
// flight run to completion on a context detached from ctx. Students never
// started are reported as pending.
func (s *Service) GenerateBulk(ctx context.Context, tenantID, templateID uuid.UUID, studentIDs []uuid.UUID) (*models.BatchReport, error) {
	sc, err := s.loadScope(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	ids := dedupe(studentIDs)
	if len(ids) == 0 {
		if ids, err = s.Students.ListStudentIDs(ctx, tenantID); err != nil {
			return nil, err
		}
	}
	issued, err := s.Documents.ExistingStudentIDs(ctx, templateID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(ids))
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, id := range ids {
		if issued[id] {
			outcomes[i] = outcome{kind: outcomeSkipped}
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// The slot may have freed after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = s.generateOne(work, sc, id)
			return nil
		})
	}
	_ = g.Wait()

	report := aggregate(ids, outcomes)
	report.Cancelled = ctx.Err() != nil && report.Pending > 0
	slog.Info("bulk generation finished",
		"tenant_id", tenantID,
		"template_id", templateID,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pending", report.Pending,
	)
	return report, nil
}

func (s *Service) generateOne(ctx context.Context, sc *scope, studentID uuid.UUID) outcome {
	st, err := s.Students.GetStudent(ctx, sc.tenant.ID, studentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return outcome{kind: outcomeFailed, reason: "student not found"}
	}
	if err != nil {
		return outcome{kind: outcomeFailed, reason: err.Error()}
	}

	doc, created, err := s.create(ctx, sc, st)
	if err != nil {
		return outcome{kind: outcomeFailed, reason: err.Error()}
	}
	if !created {
		return outcome{kind: outcomeSkipped}
	}

	warnings, err := s.renderDocument(ctx, sc, doc)
	if err != nil {
		slog.Warn("bulk item failed", "student_id", studentID, "document_id", doc.ID, "error", err)
		return outcome{kind: outcomeFailed, reason: err.Error(), warnings: warnings}
	}
	return outcome{kind: outcomeSucceeded, warnings: warnings}
}

func aggregate(ids []uuid.UUID, outcomes []outcome) *models.BatchReport {
	report := &models.BatchReport{Total: len(ids), Failures: []models.BatchFailure{}}
	for i, o := range outcomes {
		switch o.kind {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
			report.Failures = append(report.Failures, models.BatchFailure{StudentID: ids[i], Reason: o.reason})
		default:
			report.Pending++
		}
		for _, w := range o.warnings {
			report.Warnings = append(report.Warnings, models.BatchWarning{StudentID: ids[i], Message: w})
		}
	}
	return report
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
