package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/pipeline"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/store"
)

type RouterDeps struct {
	Pipeline       *pipeline.Pipeline
	Store          store.Store
	Cache          *services.CacheService
	Logger         logrus.FieldLogger
	MaxUploadBytes int64
}

// NewRouter wires every route. Middleware runs in the order given, after
// gin's panic recovery.
func NewRouter(deps RouterDeps, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware...)

	uploads := NewUploadHandler(deps.Pipeline, deps.MaxUploadBytes, deps.Logger)
	results := NewResultsHandler(deps.Store, deps.Cache, deps.Logger)

	router.GET("/", Health)
	router.GET("/health", Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/schema", RequiredColumns(deps.Pipeline.RequiredColumns()))
	router.POST("/upload", uploads.Upload)
	router.GET("/results/:upload_id", results.GetResults)
	router.GET("/uploads", results.ListUploads)
	router.GET("/ws/uploads", UploadEvents(deps.Cache, deps.Logger))

	return router
}
