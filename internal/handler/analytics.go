package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type AnalyticsHandler struct {
	service *service.AnalyticsService
}

func NewAnalyticsHandler(service *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics/timeseries
func (h *AnalyticsHandler) GetTimeSeries(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeSeriesData, err := h.service.GetTimeSeriesData(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, timeSeriesData)
}

// Parses from/to query params, defaulting to the last 24 hours
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'from' timestamp, use RFC3339")
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'to' timestamp, use RFC3339")
		}
		to = parsed
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("'to' must be after 'from'")
	}

	return from, to, nil
}
