package generation

import (
	"context"
	"errors"

	"github.com/suPer8Hu/studytree-ai/internal/store/treestore"
	"gorm.io/gorm"
)

// Ledger records every generation attempt by RequestId.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) AutoMigrate() error {
	return l.db.AutoMigrate(&Generation{})
}

func (l *Ledger) Create(ctx context.Context, g *Generation) error {
	return l.db.WithContext(ctx).Create(g).Error
}

func (l *Ledger) GetByRequestID(ctx context.Context, requestID string) (*Generation, error) {
	var g Generation
	if err := l.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (l *Ledger) MarkStatus(ctx context.Context, requestID string, status Status) error {
	return l.db.WithContext(ctx).Model(&Generation{}).
		Where("request_id = ?", requestID).
		Update("status", status).Error
}

func (l *Ledger) MarkDone(ctx context.Context, requestID string, a treestore.Artifact, persisted *treestore.PersistedArtifact) error {
	return l.db.WithContext(ctx).Model(&Generation{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"status":      StatusDone,
			"partial":     a.Partial,
			"tokens_in":   a.TokensIn,
			"tokens_out":  a.TokensOut,
			"artifact_id": persisted.ID,
			"prompt":      nil,
			"response":    nil,
			"error":       nil,
		}).Error
}

func (l *Ledger) MarkFailed(ctx context.Context, requestID string, status Status, errMsg string) error {
	return l.db.WithContext(ctx).Model(&Generation{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"status": status,
			"error":  errMsg,
		}).Error
}

// MarkPublishPending keeps the artifact body on the row so a later replay
// can publish it under the same RequestId.
func (l *Ledger) MarkPublishPending(ctx context.Context, a treestore.Artifact, errMsg string) error {
	return l.db.WithContext(ctx).Model(&Generation{}).
		Where("request_id = ?", a.RequestID).
		Updates(map[string]any{
			"status":     StatusPublishPending,
			"partial":    a.Partial,
			"tokens_in":  a.TokensIn,
			"tokens_out": a.TokensOut,
			"prompt":     a.Prompt,
			"response":   a.Response,
			"error":      errMsg,
		}).Error
}

// RecordPublishAttempt bumps the attempt counter and returns the new value.
func (l *Ledger) RecordPublishAttempt(ctx context.Context, requestID string, errMsg string) (int, error) {
	var attempts int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Generation{}).
			Where("request_id = ?", requestID).
			Updates(map[string]any{
				"publish_attempts": gorm.Expr("publish_attempts + 1"),
				"error":            errMsg,
			}).Error; err != nil {
			return err
		}
		var g Generation
		if err := tx.Select("publish_attempts").Where("request_id = ?", requestID).First(&g).Error; err != nil {
			return err
		}
		attempts = g.PublishAttempts
		return nil
	})
	return attempts, err
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
