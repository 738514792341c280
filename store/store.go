package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
)

var ErrNotFound = errors.New("upload not found")

const insertBatchSize = 500

// Store persists uploads together with their predictions. An upload is
// written once, with every prediction, and is never revised.
type Store interface {
	CreateUpload(ctx context.Context, upload *models.Upload) error
	GetUpload(ctx context.Context, id string) (*models.Upload, error)
	ListUploads(ctx context.Context, ownerEmail string, limit int, after *Cursor) ([]models.Upload, error)
}

// Cursor is the position of the last upload of a listing page. Uploads are
// ordered by (CreatedAt, ID) descending. An empty ID pages by time alone.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateUpload inserts the upload row and all of its predictions in one
// transaction. Readers see either nothing or the complete upload.
func (s *GormStore) CreateUpload(ctx context.Context, upload *models.Upload) error {
	if upload.ID == "" {
		return errors.New("upload id is required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Predictions").Create(upload).Error; err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		if len(upload.Predictions) == 0 {
			return nil
		}
		for i := range upload.Predictions {
			upload.Predictions[i].UploadID = upload.ID
		}
		if err := tx.CreateInBatches(&upload.Predictions, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert predictions: %w", err)
		}
		return nil
	})
	return err
}

func (s *GormStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Preload("Predictions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&upload, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query upload %s: %w", id, err)
	}
	return &upload, nil
}

// ListUploads returns the owner's uploads newest first, without predictions.
// Pass the cursor of the last row seen to continue after it.
func (s *GormStore) ListUploads(ctx context.Context, ownerEmail string, limit int, after *Cursor) ([]models.Upload, error) {
	query := s.db.WithContext(ctx).
		Where("owner_email = ?", ownerEmail).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if after != nil {
		at := after.CreatedAt.UTC()
		if after.ID == "" {
			query = query.Where("created_at < ?", at)
		} else {
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, after.ID)
		}
	}

	var uploads []models.Upload
	if err := query.Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return uploads, nil
}
