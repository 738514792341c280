package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/config"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
)

const (
	UploadEventsChannel  = "churn:uploads"
	EventUploadCompleted = "upload.completed"

	uploadKeyPrefix = "churn:upload:"
)

// UploadEvent is published once an upload has been committed.
type UploadEvent struct {
	Type       string    `json:"type"`
	UploadID   string    `json:"upload_id"`
	OwnerEmail string    `json:"owner_email"`
	RowCount   int       `json:"row_count"`
	HighCount  int       `json:"high_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// CacheService wraps Redis for the results cache and the upload event
// channel. With no client every call is a no-op and reads always miss.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(cfg config.RedisConfig, log logrus.FieldLogger) (*CacheService, error) {
	if !cfg.Enabled() {
		return &CacheService{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	attempts := cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return NewCacheServiceFromClient(client, cfg.ResultsTTL), nil
		}
		log.WithError(lastErr).Warnf("Redis ping attempt %d/%d failed", i+1, attempts)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}

	client.Close()
	return &CacheService{}, fmt.Errorf("redis ping failed after %d attempts: %w", attempts, lastErr)
}

func NewCacheServiceFromClient(client *redis.Client, ttl time.Duration) *CacheService {
	return &CacheService{client: client, ttl: ttl}
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// GetUpload returns a cached upload. Only committed uploads are ever cached,
// so a hit is always complete.
func (s *CacheService) GetUpload(ctx context.Context, id string) (*models.Upload, bool, error) {
	if !s.Available() {
		return nil, false, nil
	}
	val, err := s.client.Get(ctx, uploadKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var upload models.Upload
	if err := json.Unmarshal(val, &upload); err != nil {
		return nil, false, err
	}
	return &upload, true, nil
}

func (s *CacheService) SetUpload(ctx context.Context, upload *models.Upload) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(upload)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, uploadKeyPrefix+upload.ID, data, s.ttl).Err()
}

func (s *CacheService) PublishUploadCompleted(ctx context.Context, event UploadEvent) error {
	if !s.Available() {
		return nil
	}
	event.Type = EventUploadCompleted
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, UploadEventsChannel, data).Err()
}

// SubscribeUploads returns nil when Redis is not configured.
func (s *CacheService) SubscribeUploads(ctx context.Context) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, UploadEventsChannel)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}
