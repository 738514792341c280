package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const cursorSeparator = "_"

type PaginationParams struct {
	Limit  int
	Before *store.Cursor
}

type CursorResponse struct {
	Data       interface{} `json:"data"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// ParsePagination reads ?limit= and ?before=. Limits above MaxLimit are
// clamped; anything unparseable is an error. before is a next_cursor value,
// or a bare RFC3339 timestamp.
func ParsePagination(c *gin.Context) (PaginationParams, error) {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			return p, errors.New("limit must be a positive integer")
		}
		p.Limit = min(l, MaxLimit)
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		ts, id, _ := strings.Cut(beforeStr, cursorSeparator)
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return p, errors.New("before must be a cursor or an RFC3339 timestamp")
		}
		p.Before = &store.Cursor{CreatedAt: t, ID: id}
	}

	return p, nil
}

func nextCursor(u models.Upload) string {
	return u.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + u.ID
}
