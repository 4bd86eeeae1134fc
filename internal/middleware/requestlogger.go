package middleware

import (
	"context"
	"log"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/gin-gonic/gin"
)

// Buffered channel for async logging
var logChannel chan models.RequestLog

// Starts the background worker that batch-inserts request logs
func InitRequestLogger(repo *repository.RequestLogRepository, bufferSize int) {
	logChannel = make(chan models.RequestLog, bufferSize)

	go func() {
		batch := make([]*models.RequestLog, 0, 100)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case entry := <-logChannel:
				e := entry
				batch = append(batch, &e)

				if len(batch) >= 100 {
					insertBatch(repo, batch)
					batch = make([]*models.RequestLog, 0, 100)
				}
			case <-ticker.C:
				if len(batch) > 0 {
					insertBatch(repo, batch)
					batch = make([]*models.RequestLog, 0, 100)
				}
			}
		}
	}()
}

func insertBatch(repo *repository.RequestLogRepository, logs []*models.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repo.CreateBatch(ctx, logs); err != nil {
		// Log and move on, the request path never blocks on this
		log.Printf("Failed to insert request logs: %v", err)
	}
}

// Records every request's admission outcome
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if logChannel == nil {
			return
		}

		duration := time.Since(start)
		status := c.Writer.Status()

		entry := models.RequestLog{
			Timestamp:      start,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     status,
			ResponseTimeMs: int(duration.Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserID:         c.GetString("user_id"),
			UserAgent:      c.Request.UserAgent(),
			Admitted:       status != 429,
			RejectedTier:   c.GetString("rejected_tier"),
		}

		select {
		case logChannel <- entry:
		default:
			log.Println("Request log channel full, skipping log entry")
		}
	}
}
