package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UploadEvents streams upload.completed events. ?owner_email= restricts the
// stream to one owner.
func UploadEvents(cache *services.CacheService, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cache.Available() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Live upload events are unavailable."})
			return
		}
		owner := c.Query("owner_email")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Read pump: detect client disconnect
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pubsub := cache.SubscribeUploads(ctx)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event services.UploadEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.WithError(err).Warn("dropping malformed upload event")
					continue
				}
				if owner != "" && event.OwnerEmail != owner {
					continue
				}
				if err := conn.WriteJSON(event); err != nil {
					log.WithError(err).Debug("ws write error")
					return
				}
			}
		}
	}
}
