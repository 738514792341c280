package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/config"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/database"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/logging"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/models"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/pipeline"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/risk"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/scoring"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const mismatchedCSV = "cust,tenure,charges\nC1,2,95.5\nC2,60,20.0\n"

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	cache  *services.CacheService
	redis  *miniredis.Miniredis
}

type envOption func(*RouterDeps)

func withMaxUploadBytes(n int64) envOption {
	return func(d *RouterDeps) { d.MaxUploadBytes = n }
}

func newTestEnv(t *testing.T, withRedis bool, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{cache: &services.CacheService{}}

	var err error
	env.db, err = gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(env.db))
	t.Cleanup(func() { database.Close(env.db) })

	if withRedis {
		env.redis = miniredis.RunT(t)
		env.cache = services.NewCacheServiceFromClient(redis.NewClient(&redis.Options{Addr: env.redis.Addr()}), time.Minute)
		t.Cleanup(func() { env.cache.Close() })
	}

	s := store.NewGormStore(env.db)
	p, err := pipeline.New(config.ScoringConfig{
		RequiredColumns:   []string{"customer_id", "tenure", "monthly_charges"},
		Timeout:           5 * time.Second,
		DecisionThreshold: 0.6,
		ModelVersion:      "baseline-v1",
	}, pipeline.Deps{
		Provider: scoring.NewBaselineModel(),
		Store:    s,
		Archive:  services.NoopArchive{},
		Events:   env.cache,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	deps := RouterDeps{
		Pipeline:       p,
		Store:          s,
		Cache:          env.cache,
		Logger:         logging.Discard(),
		MaxUploadBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.router = NewRouter(deps)
	return env
}

func multipartRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, fields map[string]string) string {
	t.Helper()
	w := e.do(multipartRequest(t, "customers.csv", mismatchedCSV, fields))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.UploadID)
	return resp.UploadID
}

const confirmedMapping = `{"customer_id":"cust","tenure":"tenure","monthly_charges":"charges"}`

func strPtr(s string) *string { return &s }

func TestUploadSchemaMismatch(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(multipartRequest(t, "customers.csv", mismatchedCSV, nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Detail MismatchDetail `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SCHEMA_MISMATCH", body.Detail.Code)
	assert.NotEmpty(t, body.Detail.Message)
	assert.Equal(t, []string{"customer_id", "tenure", "monthly_charges"}, body.Detail.RequiredColumns)
	assert.Equal(t, []string{"cust", "tenure", "charges"}, body.Detail.DetectedColumns)
	assert.Equal(t, []string{"customer_id", "monthly_charges"}, body.Detail.MissingColumns)
	assert.Equal(t, map[string]*string{
		"customer_id":     strPtr("cust"),
		"tenure":          strPtr("tenure"),
		"monthly_charges": strPtr("charges"),
	}, body.Detail.SuggestedMapping)

	var count int64
	require.NoError(t, env.db.Model(&models.Upload{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUploadUnsetSuggestionIsNull(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(multipartRequest(t, "customers.csv", "foo,bar\n1,2\n", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"customer_id":null`)
}

func TestUploadThenGetResults(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.upload(t, map[string]string{"column_mapping": confirmedMapping, "user_email": "ana@example.com"})

	w := env.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res ResultsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, id, res.UploadID)
	assert.Equal(t, models.UploadCompleted, res.Status)
	assert.Equal(t, "ana@example.com", res.OwnerEmail)
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, "C1", res.Predictions[0].CustomerID)
	assert.Equal(t, "C2", res.Predictions[1].CustomerID)

	high := 0
	for _, p := range res.Predictions {
		assert.GreaterOrEqual(t, p.ProbabilityPercent, 0)
		assert.LessOrEqual(t, p.ProbabilityPercent, 100)
		assert.Contains(t, []risk.Tier{risk.TierLow, risk.TierMedium, risk.TierHigh}, p.RiskTier)
		if p.RiskTier == risk.TierHigh {
			high++
		}
	}
	assert.Equal(t, 2, res.Summary.Total)
	assert.Equal(t, high, res.Summary.HighCount)
	assert.Equal(t, 2-high, res.Summary.LowCount)
	// short tenure and high charges churn, long tenure and low charges stay
	assert.Equal(t, risk.TierHigh, res.Predictions[0].RiskTier)
	assert.Equal(t, risk.TierLow, res.Predictions[1].RiskTier)
}

func TestUploadDefaultOwner(t *testing.T) {
	env := newTestEnv(t, false)
	id := env.upload(t, map[string]string{"column_mapping": confirmedMapping})

	w := env.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), DefaultOwnerEmail)
}

func TestUploadIncompleteMapping(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(multipartRequest(t, "customers.csv", mismatchedCSV, map[string]string{
		"column_mapping": `{"customer_id":"cust","tenure":"months"}`,
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Detail MismatchDetail `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INCOMPLETE_MAPPING", body.Detail.Code)
	assert.Equal(t, []string{"tenure", "monthly_charges"}, body.Detail.MissingColumns)
	assert.Equal(t, []string{"cust", "tenure", "charges"}, body.Detail.DetectedColumns)
}

func TestUploadBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
		contain  string
	}{
		{"missing file", "", "", nil, "file"},
		{"invalid email", "customers.csv", mismatchedCSV, map[string]string{"user_email": "not-an-email"}, "user_email"},
		{"mapping not json", "customers.csv", mismatchedCSV, map[string]string{"column_mapping": "{cust"}, "column_mapping"},
		{"mapping not object", "customers.csv", mismatchedCSV, map[string]string{"column_mapping": `["cust"]`}, "column_mapping"},
		{"unknown mapping key", "customers.csv", mismatchedCSV, map[string]string{"column_mapping": `{"churn":"cust"}`}, "unknown"},
		{"wrong extension", "customers.txt", mismatchedCSV, nil, "Only CSV"},
		{"header only", "customers.csv", "customer_id,tenure,monthly_charges\n", nil, "no rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			w := env.do(multipartRequest(t, tt.filename, tt.content, tt.fields))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var body struct {
				Detail string `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body.Detail, tt.contain)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, false, withMaxUploadBytes(256))

	big := "customer_id,tenure,monthly_charges\n" + strings.Repeat("C1,1,1\n", 200)
	w := env.do(multipartRequest(t, "customers.csv", big, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetResultsNotFound(t *testing.T) {
	env := newTestEnv(t, false)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		w := env.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"detail":"Upload not found."}`, w.Body.String())
	}
}

func TestGetResultsUsesCache(t *testing.T) {
	env := newTestEnv(t, true)
	id := env.upload(t, map[string]string{"column_mapping": confirmedMapping})

	w := env.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Body.String()
	assert.True(t, env.redis.Exists("churn:upload:"+id))

	// served from Redis once the rows are gone
	require.NoError(t, env.db.Exec("DELETE FROM predictions").Error)
	require.NoError(t, env.db.Exec("DELETE FROM uploads").Error)

	w = env.do(httptest.NewRequest(http.MethodGet, "/results/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, first, w.Body.String())
}

func TestListUploads(t *testing.T) {
	env := newTestEnv(t, false)
	owner := map[string]string{"column_mapping": confirmedMapping, "user_email": "list@example.com"}
	older := env.upload(t, owner)
	time.Sleep(10 * time.Millisecond)
	newer := env.upload(t, owner)
	env.upload(t, map[string]string{"column_mapping": confirmedMapping, "user_email": "other@example.com"})

	w := env.do(httptest.NewRequest(http.MethodGet, "/uploads?owner_email=list@example.com&limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Data       []UploadListItem `json:"data"`
		NextCursor string           `json:"next_cursor"`
		HasMore    bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, newer, page.Data[0].UploadID)
	assert.Equal(t, 2, page.Data[0].RowCount)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextCursor)

	w = env.do(httptest.NewRequest(http.MethodGet, "/uploads?owner_email=list@example.com&limit=1&before="+page.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, older, page.Data[0].UploadID)
	assert.False(t, page.HasMore)

	w = env.do(httptest.NewRequest(http.MethodGet, "/uploads?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListUploadsSharedTimestamp(t *testing.T) {
	env := newTestEnv(t, false)
	s := store.NewGormStore(env.db)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		u := &models.Upload{ID: uuid.NewString(), OwnerEmail: "same@example.com", Status: models.UploadCompleted, CreatedAt: at}
		require.NoError(t, s.CreateUpload(context.Background(), u))
		want[u.ID] = true
	}

	got := map[string]bool{}
	cursor := ""
	for i := 0; i < 3; i++ {
		w := env.do(httptest.NewRequest(http.MethodGet, "/uploads?owner_email=same@example.com&limit=1&before="+cursor, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var page struct {
			Data       []UploadListItem `json:"data"`
			NextCursor string           `json:"next_cursor"`
			HasMore    bool             `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page.Data, 1)
		got[page.Data[0].UploadID] = true
		assert.Equal(t, i < 2, page.HasMore)
		cursor = page.NextCursor
	}
	assert.Equal(t, want, got)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query   string
		limit   int
		id      string
		wantErr bool
	}{
		{"", DefaultLimit, "", false},
		{"limit=500", MaxLimit, "", false},
		{"before=2024-05-01T12:00:00Z", DefaultLimit, "", false},
		{"before=2024-05-01T12:00:00.5Z_abc", DefaultLimit, "abc", false},
		{"limit=-1", 0, "", true},
		{"before=yesterday", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/uploads?"+tt.query, nil)

			p, err := ParsePagination(c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, p.Limit)
			if p.Before != nil {
				assert.Equal(t, tt.id, p.Before.ID)
			}
		})
	}
}

func TestSchemaAndHealth(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(httptest.NewRequest(http.MethodGet, "/schema", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"required_columns":["customer_id","tenure","monthly_charges"]}`, w.Body.String())

	for _, path := range []string{"/", "/health"} {
		w = env.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "UP")
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadEventsUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(httptest.NewRequest(http.MethodGet, "/ws/uploads", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUploadEventsStream(t *testing.T) {
	env := newTestEnv(t, true)
	server := httptest.NewServer(env.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/uploads?owner_email=ana@example.com"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription becomes active asynchronously, so keep publishing
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx := context.Background()
				env.cache.PublishUploadCompleted(ctx, services.UploadEvent{UploadID: "other", OwnerEmail: "bob@example.com"})
				env.cache.PublishUploadCompleted(ctx, services.UploadEvent{UploadID: "mine", OwnerEmail: "ana@example.com"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event services.UploadEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, services.EventUploadCompleted, event.Type)
	assert.Equal(t, "mine", event.UploadID)
	assert.Equal(t, "ana@example.com", event.OwnerEmail)
}
