package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/risk"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

type ResultsHandler struct {
	store store.Store
	cache *services.CacheService
	log   logrus.FieldLogger
}

func NewResultsHandler(s store.Store, cache *services.CacheService, log logrus.FieldLogger) *ResultsHandler {
	return &ResultsHandler{store: s, cache: cache, log: log}
}

type PredictionView struct {
	ID                 uint      `json:"id"`
	CustomerID         string    `json:"customer_id"`
	ChurnProbability   float64   `json:"churn_probability"`
	ChurnLabel         int       `json:"churn_label"`
	RiskTier           risk.Tier `json:"risk_tier"`
	ProbabilityPercent int       `json:"probability_percent"`
}

type ResultsResponse struct {
	UploadID     string           `json:"upload_id"`
	Status       string           `json:"status"`
	OwnerEmail   string           `json:"owner_email"`
	Filename     string           `json:"filename"`
	ModelVersion string           `json:"model_version"`
	CreatedAt    time.Time        `json:"created_at"`
	Predictions  []PredictionView `json:"predictions"`
	Summary      risk.Summary     `json:"summary"`
}

type UploadListItem struct {
	UploadID  string    `json:"upload_id"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *ResultsHandler) GetResults(c *gin.Context) {
	id := c.Param("upload_id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Upload not found."})
		return
	}

	upload, err := h.load(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Upload not found."})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("upload_id", id).Error("load upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to load results."})
		return
	}

	c.JSON(http.StatusOK, BuildResults(upload))
}

// load reads through the cache. Uploads never change once stored, so cached
// copies need no invalidation.
func (h *ResultsHandler) load(ctx context.Context, id string) (*models.Upload, error) {
	upload, hit, err := h.cache.GetUpload(ctx, id)
	if err != nil {
		h.log.WithError(err).Warn("results cache read failed")
	}
	if hit {
		return upload, nil
	}

	upload, err = h.store.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.cache.SetUpload(ctx, upload); err != nil {
		h.log.WithError(err).Warn("results cache write failed")
	}
	return upload, nil
}

// BuildResults derives tiers and the summary from the stored predictions.
func BuildResults(upload *models.Upload) ResultsResponse {
	views := make([]PredictionView, len(upload.Predictions))
	rows := make([]risk.PredictionRow, len(upload.Predictions))
	for i, p := range upload.Predictions {
		label := p.ChurnLabel
		rows[i] = risk.PredictionRow{CustomerID: p.CustomerID, ChurnProbability: p.ChurnProbability, ChurnLabel: &label}
		views[i] = PredictionView{
			ID:                 p.ID,
			CustomerID:         p.CustomerID,
			ChurnProbability:   p.ChurnProbability,
			ChurnLabel:         p.ChurnLabel,
			RiskTier:           risk.Classify(rows[i]),
			ProbabilityPercent: risk.DisplayPercent(p.ChurnProbability),
		}
	}

	return ResultsResponse{
		UploadID:     upload.ID,
		Status:       upload.Status,
		OwnerEmail:   upload.OwnerEmail,
		Filename:     upload.Filename,
		ModelVersion: upload.ModelVersion,
		CreatedAt:    upload.CreatedAt,
		Predictions:  views,
		Summary:      risk.Aggregate(rows),
	}
}

func (h *ResultsHandler) ListUploads(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("owner_email"))
	if owner == "" {
		owner = DefaultOwnerEmail
	}
	p, err := ParsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	uploads, err := h.store.ListUploads(c.Request.Context(), owner, p.Limit+1, p.Before)
	if err != nil {
		h.log.WithError(err).Error("list uploads failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to list uploads."})
		return
	}

	hasMore := len(uploads) > p.Limit
	if hasMore {
		uploads = uploads[:p.Limit]
	}

	items := make([]UploadListItem, len(uploads))
	for i, u := range uploads {
		items[i] = UploadListItem{
			UploadID:  u.ID,
			Filename:  u.Filename,
			Status:    u.Status,
			RowCount:  u.RowCount,
			CreatedAt: u.CreatedAt,
		}
	}

	var cursor string
	if hasMore && len(uploads) > 0 {
		cursor = nextCursor(uploads[len(uploads)-1])
	}

	c.JSON(http.StatusOK, CursorResponse{Data: items, NextCursor: cursor, HasMore: hasMore})
}
