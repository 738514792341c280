package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/pipeline"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/schema"
)

const DefaultOwnerEmail = "demo@example.com"

type UploadHandler struct {
	pipeline *pipeline.Pipeline
	maxBytes int64
	log      logrus.FieldLogger
}

func NewUploadHandler(p *pipeline.Pipeline, maxBytes int64, log logrus.FieldLogger) *UploadHandler {
	return &UploadHandler{pipeline: p, maxBytes: maxBytes, log: log}
}

type UploadForm struct {
	UserEmail     string `form:"user_email" binding:"omitempty,email"`
	ColumnMapping string `form:"column_mapping"`
}

type UploadResponse struct {
	UploadID string `json:"upload_id"`
}

type MismatchDetail struct {
	Code             string             `json:"code"`
	Message          string             `json:"message"`
	RequiredColumns  []string           `json:"required_columns"`
	DetectedColumns  []string           `json:"detected_columns"`
	MissingColumns   []string           `json:"missing_columns"`
	SuggestedMapping map[string]*string `json:"suggested_mapping,omitempty"`
}

func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)

	var form UploadForm
	if err := c.ShouldBind(&form); err != nil {
		h.badForm(c, err)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.badForm(c, err)
		return
	}

	mapping, err := parseMapping(form.ColumnMapping)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	content, err := readUpload(fileHeader)
	if err != nil {
		h.log.WithError(err).Warn("read uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Could not read uploaded file."})
		return
	}

	owner := strings.TrimSpace(form.UserEmail)
	if owner == "" {
		owner = DefaultOwnerEmail
	}

	outcome, err := h.pipeline.Run(c.Request.Context(), pipeline.Request{
		OwnerEmail: owner,
		Filename:   fileHeader.Filename,
		Content:    content,
		Mapping:    mapping,
	})
	if err != nil {
		writePipelineError(c, err)
		return
	}

	if outcome.State == pipeline.StateMappingRequired {
		c.JSON(http.StatusBadRequest, gin.H{"detail": mappingDetail(outcome)})
		return
	}
	c.JSON(http.StatusOK, UploadResponse{UploadID: outcome.UploadID})
}

func (h *UploadHandler) badForm(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"detail": fmt.Sprintf("Uploaded file exceeds the %d MB limit.", h.maxBytes>>20),
		})
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "user_email must be a valid email address."})
		return
	}
	if errors.Is(err, http.ErrMissingFile) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "A CSV file is required in the 'file' field."})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"detail": "Request must be multipart/form-data with a CSV file."})
}

// parseMapping returns nil when no mapping was sent.
func parseMapping(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var m map[string]*string
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return nil, errors.New("column_mapping must be a JSON object mapping required columns to CSV headers.")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = *v
		} else {
			out[k] = ""
		}
	}
	return out, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func mappingDetail(outcome *pipeline.Outcome) MismatchDetail {
	if report := outcome.Mismatch; report != nil {
		return MismatchDetail{
			Code:             "SCHEMA_MISMATCH",
			Message:          report.Message,
			RequiredColumns:  report.RequiredColumns,
			DetectedColumns:  report.DetectedColumns,
			MissingColumns:   report.MissingColumns,
			SuggestedMapping: suggestionJSON(report.SuggestedMapping),
		}
	}
	return MismatchDetail{
		Code:            "INCOMPLETE_MAPPING",
		Message:         "Column mapping is incomplete. Map every required column to a CSV column.",
		RequiredColumns: outcome.RequiredColumns,
		DetectedColumns: outcome.DetectedColumns,
		MissingColumns:  outcome.Missing,
	}
}

// suggestionJSON renders unset entries as null.
func suggestionJSON(m schema.ColumnMapping) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		if v == "" {
			out[k] = nil
			continue
		}
		out[k] = &v
	}
	return out
}

func writePipelineError(c *gin.Context, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error."})
		return
	}
	switch perr.Kind {
	case pipeline.KindMalformedInput:
		c.JSON(http.StatusBadRequest, gin.H{"detail": perr.Detail})
	case pipeline.KindProviderFailure:
		c.JSON(http.StatusBadGateway, gin.H{"detail": perr.Detail})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": perr.Detail})
	}
}
