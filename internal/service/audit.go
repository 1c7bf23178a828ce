package service

import (
	"context"
	"fmt"

	"shop-service/internal/models"
	"shop-service/internal/repository"
	"shop-service/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// AuditLog records operator field edits and reads them back
type AuditLog struct {
	repo repository.Reader
}

// NewAuditLog creates a new audit log
func NewAuditLog(repo repository.Reader) *AuditLog {
	return &AuditLog{repo: repo}
}

// Append writes one edit entry inside tx. An error here must abort the
// enclosing transaction so the field change is never committed unaudited.
func (a *AuditLog) Append(ctx context.Context, tx repository.Tx, kind models.SubjectKind, subjectID int64, operatorID, field, oldValue, newValue string) error {
	entry := &models.EditLogEntry{
		SubjectID:   subjectID,
		SubjectKind: kind,
		OperatorID:  operatorID,
		FieldName:   field,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	if err := tx.InsertEditLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// History returns the newest edits for a subject
func (a *AuditLog) History(ctx context.Context, kind models.SubjectKind, subjectID int64, limit int) ([]models.EditLogEntry, error) {
	ctx, span := util.StartSpan(ctx, "AuditLog.History")
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := a.repo.ListEditLog(ctx, kind, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read edit log: %w", err)
	}
	return entries, nil
}
