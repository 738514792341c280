package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequiredColumns lets the UI render the mapping form before any upload.
func RequiredColumns(columns []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"required_columns": columns})
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"message": "Churn Prediction API is running",
	})
}
