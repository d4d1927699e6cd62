// Package store is the durable record of edit requests. Every query and
// mutation is scoped to the owning user.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/krishkalaria12/snap-edit/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no row matches the id and owner.
var ErrNotFound = errors.New("edit record not found")

// StoreError wraps any persistence failure. Callers must not assume a
// partial write went through.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("edit store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type EditStore interface {
	Create(ctx context.Context, userID, photoID, prompt string) (*models.EditedPhoto, error)
	Get(ctx context.Context, id, userID string) (*models.EditedPhoto, error)
	MarkRetrying(ctx context.Context, id, userID string) error
	MarkComplete(ctx context.Context, id, userID, resultURL string) error
	MarkFailed(ctx context.Context, id, userID, message string) error
	UpsertByNaturalKey(ctx context.Context, userID, photoID, prompt, resultURL string) (*models.EditedPhoto, error)
	MarkFailedByNaturalKey(ctx context.Context, userID, photoID, prompt, message string) error
	List(ctx context.Context, userID, photoID string) ([]models.EditedPhoto, error)
	Delete(ctx context.Context, id, userID string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) EditStore {
	return &gormStore{db: db}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (s *gormStore) Create(ctx context.Context, userID, photoID, prompt string) (*models.EditedPhoto, error) {
	row := &models.EditedPhoto{
		ID:              uuid.NewString(),
		UserID:          userID,
		OriginalPhotoID: photoID,
		Prompt:          prompt,
		Status:          models.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, wrap("create", err)
	}
	return row, nil
}

func (s *gormStore) Get(ctx context.Context, id, userID string) (*models.EditedPhoto, error) {
	var row models.EditedPhoto
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, wrap("get", ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return &row, nil
}

func (s *gormStore) update(ctx context.Context, op, id, userID string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.EditedPhoto{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(fields)
	if res.Error != nil {
		return wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap(op, ErrNotFound)
	}
	return nil
}

func (s *gormStore) MarkRetrying(ctx context.Context, id, userID string) error {
	return s.update(ctx, "mark retrying", id, userID, map[string]interface{}{
		"status":           models.StatusPending,
		"error_message":    nil,
		"edited_image_url": nil,
	})
}

func (s *gormStore) MarkComplete(ctx context.Context, id, userID, resultURL string) error {
	return s.update(ctx, "mark complete", id, userID, map[string]interface{}{
		"status":           models.StatusComplete,
		"edited_image_url": resultURL,
		"error_message":    nil,
	})
}

func (s *gormStore) MarkFailed(ctx context.Context, id, userID, message string) error {
	return s.update(ctx, "mark failed", id, userID, map[string]interface{}{
		"status":           models.StatusFailed,
		"error_message":    message,
		"edited_image_url": nil,
	})
}

// UpsertByNaturalKey completes the newest row matching (user, photo, prompt)
// and inserts a completed row when nothing matches. Two edits with the same
// prompt on the same photo are indistinguishable here; prefer MarkComplete.
func (s *gormStore) UpsertByNaturalKey(ctx context.Context, userID, photoID, prompt, resultURL string) (*models.EditedPhoto, error) {
	var row models.EditedPhoto
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND original_photo_id = ? AND prompt = ?", userID, photoID, prompt).
		Order("created_at DESC").
		First(&row).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		url := resultURL
		row = models.EditedPhoto{
			ID:              uuid.NewString(),
			UserID:          userID,
			OriginalPhotoID: photoID,
			Prompt:          prompt,
			Status:          models.StatusComplete,
			EditedImageURL:  &url,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, wrap("upsert insert", err)
		}
		return &row, nil
	case err != nil:
		return nil, wrap("upsert lookup", err)
	}

	if err := s.MarkComplete(ctx, row.ID, userID, resultURL); err != nil {
		return nil, err
	}
	url := resultURL
	row.Status = models.StatusComplete
	row.EditedImageURL = &url
	row.ErrorMessage = nil
	return &row, nil
}

// MarkFailedByNaturalKey fails every unfinished row matching (user, photo, prompt).
func (s *gormStore) MarkFailedByNaturalKey(ctx context.Context, userID, photoID, prompt, message string) error {
	res := s.db.WithContext(ctx).
		Model(&models.EditedPhoto{}).
		Where("user_id = ? AND original_photo_id = ? AND prompt = ? AND status <> ?", userID, photoID, prompt, models.StatusComplete).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
		})
	return wrap("mark failed by natural key", res.Error)
}

func (s *gormStore) List(ctx context.Context, userID, photoID string) ([]models.EditedPhoto, error) {
	var rows []models.EditedPhoto
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND original_photo_id = ?", userID, photoID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("list", err)
	}
	return rows, nil
}

// Delete removes the row if it exists and belongs to userID. Deleting a
// missing row succeeds.
func (s *gormStore) Delete(ctx context.Context, id, userID string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.EditedPhoto{}).Error
	return wrap("delete", err)
}
